// Package bot answers direct messages sent to the reserved bot account.
//
// A reply is staged on the clock: after TypingDelay the sender sees the
// bot start typing, and after a further ReplyDelay the reply is stored
// and delivered to the sender's personal room. Staged replies for a user
// are cancelled when that user disconnects.
package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/4xmen/goftego/internal/ai"
	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
)

const (
	DefaultTypingDelay = 500 * time.Millisecond
	DefaultReplyDelay  = 1500 * time.Millisecond
)

// Sender stores a message and returns it with the sender expanded.
type Sender interface {
	SendMessage(ctx context.Context, senderID string, target models.ChannelRef, text string, attachments []models.Attachment) (*models.Message, error)
}

// Assistant is the upstream collaborator. Chat may fail; the responder
// then answers from its rule table.
type Assistant interface {
	AnalyzeSentiment(ctx context.Context, text string) ai.Sentiment
	Chat(ctx context.Context, userID, message string) (string, error)
}

type Broadcaster interface {
	BroadcastRoom(room string, ev events.Event, skip registry.Conn)
}

type Config struct {
	UserID      string
	Name        string
	TypingDelay time.Duration
	ReplyDelay  time.Duration
	// Timeout bounds the upstream calls of one reply.
	Timeout time.Duration
}

type Responder struct {
	cfg       Config
	chat      Sender
	assistant Assistant
	out       Broadcaster
	clock     clock.Clock
	rules     *Rules

	mu    sync.Mutex
	tasks map[string]map[*task]struct{}
}

type task struct {
	mu        sync.Mutex
	timer     *clock.Timer
	cancel    context.CancelFunc
	cancelled bool
}

// New returns a Responder. A nil assistant always answers from rules.
func New(cfg Config, chat Sender, assistant Assistant, out Broadcaster, clk clock.Clock, rules *Rules) *Responder {
	if cfg.TypingDelay <= 0 {
		cfg.TypingDelay = DefaultTypingDelay
	}
	if cfg.ReplyDelay <= 0 {
		cfg.ReplyDelay = DefaultReplyDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Responder{
		cfg:       cfg,
		chat:      chat,
		assistant: assistant,
		out:       out,
		clock:     clk,
		rules:     rules,
		tasks:     make(map[string]map[*task]struct{}),
	}
}

func (r *Responder) UserID() string { return r.cfg.UserID }

// Trigger schedules a reply if msg is a direct message to the bot. It
// returns immediately.
func (r *Responder) Trigger(msg *models.Message) {
	if msg == nil || msg.Channel.IsGroup() || msg.Recipient != r.cfg.UserID || msg.Sender.ID == r.cfg.UserID {
		return
	}

	userID := msg.Sender.ID
	conversation := msg.Channel
	text := msg.Text

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel}
	r.track(userID, t)

	t.schedule(r.clock, r.cfg.TypingDelay, func() {
		r.typing(userID, conversation.ID(), true)

		sentiment := ""
		if r.assistant != nil {
			sctx, done := context.WithTimeout(ctx, r.cfg.Timeout)
			sentiment = r.assistant.AnalyzeSentiment(sctx, text).Emoji
			done()
		}

		t.schedule(r.clock, r.cfg.ReplyDelay, func() {
			defer r.untrack(userID, t)
			r.reply(ctx, t, userID, conversation, text, sentiment)
		})
	})
}

func (r *Responder) reply(ctx context.Context, t *task, userID string, conversation models.ChannelRef, text, sentiment string) {
	answer := r.generate(ctx, userID, text)
	r.typing(userID, conversation.ID(), false)
	if t.isCancelled() {
		return
	}

	msg, err := r.chat.SendMessage(ctx, r.cfg.UserID, conversation, answer, nil)
	if err != nil {
		log.Printf("Bot reply to %s failed: %v", userID, err)
		return
	}
	msg.UserSentiment = sentiment
	r.out.BroadcastRoom(events.PersonalRoom(userID), events.New(events.MessageReceive, msg), nil)
}

func (r *Responder) generate(ctx context.Context, userID, text string) string {
	if r.assistant != nil {
		gctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		answer, err := r.assistant.Chat(gctx, userID, text)
		if err == nil && answer != "" {
			return answer
		}
		log.Printf("Bot falling back to rules for %s: %v", userID, err)
	}
	return r.rules.Reply(text)
}

func (r *Responder) typing(userID, roomID string, started bool) {
	eventType := events.TypingStop
	if started {
		eventType = events.TypingStart
	}
	r.out.BroadcastRoom(events.PersonalRoom(userID), events.New(eventType, events.TypingPayload{
		UserID: r.cfg.UserID,
		Name:   r.cfg.Name,
		RoomID: roomID,
	}), nil)
}

// CancelFor drops every staged reply addressed to userID.
func (r *Responder) CancelFor(userID string) {
	r.mu.Lock()
	pending := r.tasks[userID]
	delete(r.tasks, userID)
	r.mu.Unlock()

	for t := range pending {
		t.stop()
	}
}

// Pending reports how many replies to userID are staged.
func (r *Responder) Pending(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks[userID])
}

func (r *Responder) track(userID string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[userID] == nil {
		r.tasks[userID] = make(map[*task]struct{})
	}
	r.tasks[userID][t] = struct{}{}
}

func (r *Responder) untrack(userID string, t *task) {
	t.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks[userID], t)
	if len(r.tasks[userID]) == 0 {
		delete(r.tasks, userID)
	}
}

func (t *task) schedule(clk clock.Clock, d time.Duration, f func()) {
	if t.isCancelled() {
		return
	}
	timer := clk.AfterFunc(d, func() {
		if t.isCancelled() {
			return
		}
		f()
	})

	t.mu.Lock()
	t.timer = timer
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		timer.Stop()
	}
}

func (t *task) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.timer.Stop()
	t.cancel()
}

func (t *task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
