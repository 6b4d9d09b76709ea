package events

import (
	"encoding/json"
	"time"

	"github.com/4xmen/goftego/internal/models"
)

// Inbound event names.
const (
	Join        = "join"
	MessageSend = "message.send"
	TypingStart = "typing.start"
	TypingStop  = "typing.stop"
	MessageRead = "message.read"
	CallUser    = "calluser"
	AnswerCall  = "answercall"
	RejectCall  = "rejectcall"
	CallEnded   = "callended"
)

// Outbound event names. Typing, read and call events reuse the inbound
// names above.
const (
	UserOnline     = "user.online"
	UserOffline    = "user.offline"
	MessageReceive = "message.receive"
	MessageSent    = "message.sent"
	CallAccepted   = "callaccepted"
	CallDeclined   = "call_declined"
	CallTimeout    = "call_timeout"
	CallMissed     = "call_missed"
	Error          = "error"
)

// Event is the envelope exchanged over the realtime connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func New(eventType string, data any) Event {
	return Event{Type: eventType, Data: data}
}

// Wire returns a copy of e whose payload is in its serialized
// projection. Message payloads know how to project themselves.
func (e Event) Wire() Event {
	switch d := e.Data.(type) {
	case models.Message:
		e.Data = d.Wire()
	case *models.Message:
		if d != nil {
			e.Data = d.Wire()
		}
	case MessageSentPayload:
		e.Data = struct {
			TempID  string `json:"tempId" cbor:"tempId"`
			Message any    `json:"message" cbor:"message"`
		}{d.TempID, d.Message.Wire()}
	}
	return e
}

// Inbound is a decoded client event whose payload is decoded lazily by
// the handler for its type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type SendMessageRequest struct {
	TargetID    string              `json:"targetId"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
	IsGroup     bool                `json:"isGroup"`
	TempID      string              `json:"tempId"`
}

type TypingRequest struct {
	RoomID string `json:"roomId"`
}

type ReadRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
}

type CallUserRequest struct {
	UserToCall string `json:"userToCall"`
	SignalData any    `json:"signalData"`
	From       string `json:"from"`
	Name       string `json:"name"`
}

type AnswerCallRequest struct {
	Signal any    `json:"signal"`
	To     string `json:"to"`
}

type RejectCallRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type EndCallRequest struct {
	To string `json:"to"`
}

type PresencePayload struct {
	UserID   string     `json:"userId" cbor:"userId"`
	LastSeen *time.Time `json:"last_seen,omitempty" cbor:"last_seen,omitempty"`
}

type MessageSentPayload struct {
	TempID  string         `json:"tempId"`
	Message models.Message `json:"message"`
}

type TypingPayload struct {
	UserID string `json:"userId" cbor:"userId"`
	Name   string `json:"name" cbor:"name"`
	RoomID string `json:"roomId" cbor:"roomId"`
}

type ReadPayload struct {
	ConversationID string `json:"conversationId,omitempty" cbor:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty" cbor:"groupId,omitempty"`
	UserID         string `json:"userId" cbor:"userId"`
}

type IncomingCallPayload struct {
	Signal any    `json:"signal" cbor:"signal"`
	From   string `json:"from" cbor:"from"`
	Name   string `json:"name" cbor:"name"`
}

type DeclinedPayload struct {
	Message string `json:"message" cbor:"message"`
	Reason  string `json:"reason" cbor:"reason"`
}

type TimeoutPayload struct {
	Message string `json:"message" cbor:"message"`
}

type MissedPayload struct {
	From string `json:"from" cbor:"from"`
	Name string `json:"name" cbor:"name"`
}

type ErrorPayload struct {
	Message string `json:"message" cbor:"message"`
}

func NewError(message string) Event {
	return New(Error, ErrorPayload{Message: message})
}

// PersonalRoom names the room every connection of userID joins on
// connect.
func PersonalRoom(userID string) string {
	return "user_" + userID
}
