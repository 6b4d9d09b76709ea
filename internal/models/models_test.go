package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageJSONCarriesExactlyOneChannel(t *testing.T) {
	msg := Message{
		ID:        "m1",
		Sender:    UserSummary{ID: "u1", Name: "Ada"},
		Channel:   GroupRef("g1"),
		Text:      "hello",
		Status:    MessageSent,
		CreatedAt: time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if strings.Contains(string(data), "conversation_id") {
		t.Errorf("group message serialized a conversation_id: %s", data)
	}
	if !strings.Contains(string(data), `"group_id":"g1"`) {
		t.Errorf("group_id missing: %s", data)
	}
	if !strings.Contains(string(data), `"attachments":[]`) {
		t.Errorf("attachments should serialize as an empty list: %s", data)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if !decoded.Channel.IsGroup() || decoded.Channel.ID() != "g1" {
		t.Errorf("Channel = %v, want group:g1", decoded.Channel)
	}
	if decoded.Sender.ID != "u1" {
		t.Errorf("Sender.ID = %q", decoded.Sender.ID)
	}
}

func TestMessageUnmarshalRejectsInvalidChannel(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "both set", body: `{"id":"m","conversation_id":"c","group_id":"g"}`},
		{name: "neither set", body: `{"id":"m"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			if err := json.Unmarshal([]byte(tt.body), &m); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestChannelRef(t *testing.T) {
	if (ChannelRef{}).Valid() {
		t.Error("zero ChannelRef reported valid")
	}
	if ref := ChannelFor("c1", false); ref.IsGroup() || ref.ID() != "c1" || ref.Kind() != DirectChannel {
		t.Errorf("ChannelFor(c1, false) = %v", ref)
	}
	if ref := ChannelFor("g1", true); !ref.IsGroup() || ref.String() != "group:g1" {
		t.Errorf("ChannelFor(g1, true) = %v", ref)
	}
}

func TestConversationOther(t *testing.T) {
	c := &Conversation{Participants: [2]string{"a", "b"}}
	if c.Other("a") != "b" || c.Other("b") != "a" {
		t.Errorf("Other() mismatch")
	}
	if !c.HasParticipant("b") || c.HasParticipant("z") {
		t.Errorf("HasParticipant() mismatch")
	}
}
