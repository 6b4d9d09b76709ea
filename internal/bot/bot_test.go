package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4xmen/goftego/internal/ai"
	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
)

const botID = "bot"

type roomEvent struct {
	room string
	ev   events.Event
}

type recorder struct {
	mu     sync.Mutex
	events []roomEvent
}

func (r *recorder) BroadcastRoom(room string, ev events.Event, _ registry.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, roomEvent{room: room, ev: ev})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.ev.Type)
	}
	return out
}

type fakeSender struct {
	mu   sync.Mutex
	sent []models.Message
	err  error
}

func (s *fakeSender) SendMessage(_ context.Context, senderID string, target models.ChannelRef, text string, _ []models.Attachment) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	msg := models.Message{
		ID:      "reply-1",
		Sender:  models.UserSummary{ID: senderID, Name: "Goftego Bot"},
		Channel: target,
		Text:    text,
		Status:  models.MessageSent,
	}
	s.sent = append(s.sent, msg)
	return &msg, nil
}

type fakeAssistant struct {
	reply string
	err   error
}

func (a fakeAssistant) AnalyzeSentiment(_ context.Context, text string) ai.Sentiment {
	return ai.KeywordSentiment(text)
}

func (a fakeAssistant) Chat(context.Context, string, string) (string, error) {
	return a.reply, a.err
}

func setup(t *testing.T, assistant Assistant) (*Responder, *fakeSender, *recorder, *clock.FakeClock) {
	t.Helper()
	sender := &fakeSender{}
	out := &recorder{}
	clk := clock.Fake(time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC))
	r := New(Config{UserID: botID, Name: "Goftego Bot"}, sender, assistant, out, clk, nil)
	return r, sender, out, clk
}

func incoming(text string) *models.Message {
	return &models.Message{
		ID:        "m1",
		Sender:    models.UserSummary{ID: "alice", Name: "Alice"},
		Channel:   models.Direct("conv-1"),
		Recipient: botID,
		Text:      text,
	}
}

func TestResponderStagesReply(t *testing.T) {
	r, sender, out, clk := setup(t, fakeAssistant{err: ai.ErrUpstreamUnavailable})

	r.Trigger(incoming("I love this, hello!"))
	if len(out.types()) != 0 {
		t.Fatal("responder emitted before the typing delay")
	}

	clk.Advance(DefaultTypingDelay)
	if got := out.types(); len(got) != 1 || got[0] != events.TypingStart {
		t.Fatalf("events after typing delay = %v", got)
	}

	clk.Advance(DefaultReplyDelay - time.Millisecond)
	if len(out.types()) != 1 {
		t.Fatal("reply arrived early")
	}

	clk.Advance(time.Millisecond)
	got := out.types()
	if len(got) != 3 || got[1] != events.TypingStop || got[2] != events.MessageReceive {
		t.Fatalf("events after reply delay = %v", got)
	}

	for _, e := range out.events {
		if e.room != "user_alice" {
			t.Errorf("%s went to room %q", e.ev.Type, e.room)
		}
	}
	typing := out.events[0].ev.Data.(events.TypingPayload)
	if typing.UserID != botID || typing.Name != "Goftego Bot" || typing.RoomID != "conv-1" {
		t.Errorf("typing payload = %+v", typing)
	}

	msg := out.events[2].ev.Data.(*models.Message)
	if msg.Sender.ID != botID || !strings.Contains(msg.Text, "Hello!") {
		t.Errorf("reply = %+v", msg)
	}
	if msg.UserSentiment != "😊" {
		t.Errorf("userSentiment = %q", msg.UserSentiment)
	}
	if len(sender.sent) != 1 || sender.sent[0].Channel != models.Direct("conv-1") {
		t.Errorf("stored replies = %+v", sender.sent)
	}
	if r.Pending("alice") != 0 {
		t.Error("finished reply still tracked")
	}
}

func TestResponderUsesGenerator(t *testing.T) {
	r, sender, _, clk := setup(t, fakeAssistant{reply: "42"})

	r.Trigger(incoming("what is the answer?"))
	clk.Advance(DefaultTypingDelay + DefaultReplyDelay)

	if len(sender.sent) != 1 || sender.sent[0].Text != "42" {
		t.Errorf("stored replies = %+v", sender.sent)
	}
}

func TestResponderIgnoresOtherMessages(t *testing.T) {
	r, _, out, clk := setup(t, nil)

	tests := []*models.Message{
		nil,
		{Sender: models.UserSummary{ID: "alice"}, Channel: models.Direct("c"), Recipient: "bob", Text: "hi"},
		{Sender: models.UserSummary{ID: botID}, Channel: models.Direct("c"), Recipient: botID, Text: "hi"},
		{Sender: models.UserSummary{ID: "alice"}, Channel: models.GroupRef("g"), Text: "hi"},
	}
	for _, msg := range tests {
		r.Trigger(msg)
	}

	clk.Advance(time.Minute)
	if len(out.types()) != 0 {
		t.Errorf("unexpected events: %v", out.types())
	}
}

func TestCancelForDropsStagedReplies(t *testing.T) {
	tests := []struct {
		name      string
		before    time.Duration
		wantTypes int
	}{
		{name: "before typing", before: 0, wantTypes: 0},
		{name: "while typing", before: DefaultTypingDelay, wantTypes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sender, out, clk := setup(t, nil)

			r.Trigger(incoming("hello"))
			r.Trigger(incoming("bye"))
			if r.Pending("alice") != 2 {
				t.Fatalf("Pending() = %d, want 2", r.Pending("alice"))
			}
			if tt.before > 0 {
				clk.Advance(tt.before)
			}

			r.CancelFor("alice")
			clk.Advance(time.Minute)

			if got := len(out.types()); got != 2*tt.wantTypes {
				t.Errorf("got %d events, want %d", got, 2*tt.wantTypes)
			}
			if len(sender.sent) != 0 {
				t.Error("cancelled reply was stored")
			}
			if clk.PendingCount() != 0 {
				t.Error("cancelled reply left a timer behind")
			}
		})
	}
}

func TestResponderSwallowsStoreFailure(t *testing.T) {
	r, sender, out, clk := setup(t, nil)
	sender.err = errors.New("disk full")

	r.Trigger(incoming("hello"))
	clk.Advance(DefaultTypingDelay + DefaultReplyDelay)

	got := out.types()
	if len(got) != 2 || got[1] != events.TypingStop {
		t.Errorf("events = %v", got)
	}
}
