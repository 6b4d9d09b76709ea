package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Message delivery states. Transitions only move forward.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	IsBot     bool      `json:"is_bot,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is the expanded form of a user reference embedded in
// messages and participant lists.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
}

// LastMessage is the denormalized snapshot kept on conversations and
// groups for list rendering.
type LastMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]string      `json:"-"`
	Members      []UserSummary  `json:"participants,omitempty"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
	UnreadCounts map[string]int `json:"unread_counts"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	AdminID     string        `json:"admin"`
	MemberIDs   []string      `json:"member_ids"`
	Members     []UserSummary `json:"members,omitempty"`
	LastMessage *LastMessage  `json:"last_message,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (g *Group) IsMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Attachment struct {
	URL          string `json:"url"`
	FileType     string `json:"fileType"`
	OriginalName string `json:"originalName"`
}

// ChannelKind tells which kind of channel a ChannelRef addresses.
type ChannelKind int

const (
	DirectChannel ChannelKind = iota + 1
	GroupChannel
)

// ChannelRef addresses exactly one conversation or exactly one group.
// The zero value is invalid.
type ChannelRef struct {
	kind ChannelKind
	id   string
}

func Direct(conversationID string) ChannelRef {
	return ChannelRef{kind: DirectChannel, id: conversationID}
}

func GroupRef(groupID string) ChannelRef {
	return ChannelRef{kind: GroupChannel, id: groupID}
}

// ChannelFor builds a ChannelRef from the isGroup flag carried by the
// wire protocol.
func ChannelFor(targetID string, isGroup bool) ChannelRef {
	if isGroup {
		return GroupRef(targetID)
	}
	return Direct(targetID)
}

func (r ChannelRef) Kind() ChannelKind { return r.kind }
func (r ChannelRef) ID() string        { return r.id }
func (r ChannelRef) IsGroup() bool     { return r.kind == GroupChannel }
func (r ChannelRef) Valid() bool       { return r.kind != 0 && r.id != "" }

func (r ChannelRef) String() string {
	switch r.kind {
	case DirectChannel:
		return "conversation:" + r.id
	case GroupChannel:
		return "group:" + r.id
	}
	return "invalid"
}

type Message struct {
	ID          string       `json:"id"`
	Sender      UserSummary  `json:"sender"`
	Channel     ChannelRef   `json:"-"`
	Recipient   string       `json:"recipient,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	Status      string       `json:"status"`
	IsDeleted   bool         `json:"is_deleted"`
	IsEdited    bool         `json:"is_edited"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`

	// UserSentiment annotates automated replies with the classification
	// of the message that triggered them.
	UserSentiment string `json:"userSentiment,omitempty"`
}

// messageWire is the serialized shape of Message. The channel is split
// back into the conversation_id / group_id pair clients expect.
type messageWire struct {
	ID             string       `json:"id"`
	Sender         UserSummary  `json:"sender"`
	ConversationID string       `json:"conversation_id,omitempty"`
	GroupID        string       `json:"group_id,omitempty"`
	Recipient      string       `json:"recipient,omitempty"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
	Status         string       `json:"status"`
	IsDeleted      bool         `json:"is_deleted"`
	IsEdited       bool         `json:"is_edited"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	UserSentiment  string       `json:"userSentiment,omitempty"`
}

// Wire returns the serialized projection of m. Codecs other than JSON
// encode this value instead of the Message itself.
func (m Message) Wire() any {
	w := messageWire{
		ID:            m.ID,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Text:          m.Text,
		Attachments:   m.Attachments,
		Status:        m.Status,
		IsDeleted:     m.IsDeleted,
		IsEdited:      m.IsEdited,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		UserSentiment: m.UserSentiment,
	}
	if w.Attachments == nil {
		w.Attachments = []Attachment{}
	}
	switch m.Channel.Kind() {
	case DirectChannel:
		w.ConversationID = m.Channel.ID()
	case GroupChannel:
		w.GroupID = m.Channel.ID()
	}
	return w
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Wire())
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.ConversationID != "" && w.GroupID != "":
		return fmt.Errorf("message %s targets both a conversation and a group", w.ID)
	case w.ConversationID != "":
		m.Channel = Direct(w.ConversationID)
	case w.GroupID != "":
		m.Channel = GroupRef(w.GroupID)
	default:
		return fmt.Errorf("message %s has no channel", w.ID)
	}

	m.ID = w.ID
	m.Sender = w.Sender
	m.Recipient = w.Recipient
	m.Text = w.Text
	m.Attachments = w.Attachments
	m.Status = w.Status
	m.IsDeleted = w.IsDeleted
	m.IsEdited = w.IsEdited
	m.CreatedAt = w.CreatedAt
	m.UpdatedAt = w.UpdatedAt
	m.UserSentiment = w.UserSentiment
	return nil
}
