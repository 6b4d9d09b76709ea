package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/4xmen/goftego/internal/call"
	"github.com/4xmen/goftego/internal/chat"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
	handlerTimeout = 10 * time.Second
)

// Client is one websocket connection. It implements registry.Conn.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	user    *models.User
	codec   codec
	limiter *rate.Limiter
	calls   registry.CallState

	mu     sync.Mutex
	send   chan events.Event
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, user *models.User, c codec) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		user:    user,
		codec:   c,
		limiter: rate.NewLimiter(h.eventRate, h.eventBurst),
		send:    make(chan events.Event, sendBuffer),
	}
}

func (c *Client) UserID() string              { return c.user.ID }
func (c *Client) Calls() *registry.CallState { return &c.calls }

// Send queues ev without blocking. Events for a full or closed
// connection are dropped.
func (c *Client) Send(ev events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		log.Printf("Message channel full for user %s, dropping %s", c.user.ID, ev.Type)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		eventType, payload, err := c.codec.decode(data)
		if err != nil || eventType == "" {
			c.Send(events.NewError(__("invalid payload")))
			continue
		}
		c.handle(ctx, eventType, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.encode(ev)
			if err != nil {
				log.Printf("Failed to encode %s for user %s: %v", ev.Type, c.user.ID, err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.messageType(), data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle runs one inbound event. Failures go back to this connection
// only, as an error event.
func (c *Client) handle(parent context.Context, eventType string, payload []byte) {
	ctx, cancel := context.WithTimeout(parent, handlerTimeout)
	defer cancel()

	var err error
	switch eventType {
	case events.Join:
		err = c.handleJoin(payload)
	case events.MessageSend:
		err = c.handleSend(ctx, payload)
	case events.TypingStart, events.TypingStop:
		err = c.handleTyping(payload, eventType == events.TypingStart)
	case events.MessageRead:
		err = c.handleRead(ctx, payload)
	case events.CallUser, events.AnswerCall, events.RejectCall, events.CallEnded:
		err = c.handleCall(eventType, payload)
	default:
		err = errUnknownEvent
	}

	if err != nil {
		c.Send(events.NewError(__(publicMessage(err))))
	}
}

var (
	errUnknownEvent   = errors.New("unknown event")
	errInvalidPayload = errors.New("invalid payload")
	errRateLimited    = errors.New("rate limit exceeded")
)

func (c *Client) decode(payload []byte, v any) error {
	if err := c.codec.unmarshal(payload, v); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (c *Client) handleJoin(payload []byte) error {
	rooms, err := decodeJoin(c.codec, payload)
	if err != nil {
		return errInvalidPayload
	}
	c.hub.rooms.Join(c, rooms...)
	return nil
}

func (c *Client) handleSend(ctx context.Context, payload []byte) error {
	if !c.limiter.Allow() {
		return errRateLimited
	}

	var req events.SendMessageRequest
	if err := c.decode(payload, &req); err != nil {
		return err
	}

	target := models.ChannelFor(req.TargetID, req.IsGroup)
	msg, err := c.hub.chat.SendMessage(ctx, c.user.ID, target, req.Text, req.Attachments)
	if err != nil {
		return err
	}

	c.hub.rooms.BroadcastRoom(req.TargetID, events.New(events.MessageReceive, msg), nil)
	c.Send(events.New(events.MessageSent, events.MessageSentPayload{TempID: req.TempID, Message: *msg}))

	if c.hub.bot != nil {
		c.hub.bot.Trigger(msg)
	}
	return nil
}

func (c *Client) handleTyping(payload []byte, started bool) error {
	var req events.TypingRequest
	if err := c.decode(payload, &req); err != nil {
		return err
	}
	if req.RoomID == "" {
		return errInvalidPayload
	}
	c.hub.presence.Typing(c, c.user.Name, req.RoomID, started)
	return nil
}

func (c *Client) handleRead(ctx context.Context, payload []byte) error {
	var req events.ReadRequest
	if err := c.decode(payload, &req); err != nil {
		return err
	}

	var target models.ChannelRef
	switch {
	case req.ConversationID != "":
		target = models.Direct(req.ConversationID)
	case req.GroupID != "":
		target = models.GroupRef(req.GroupID)
	default:
		return errInvalidPayload
	}

	if _, err := c.hub.chat.MarkAsRead(ctx, target, c.user.ID); err != nil {
		return err
	}

	c.hub.rooms.BroadcastRoom(target.ID(), events.New(events.MessageRead, events.ReadPayload{
		ConversationID: req.ConversationID,
		GroupID:        req.GroupID,
		UserID:         c.user.ID,
	}), c)
	return nil
}

func (c *Client) handleCall(eventType string, payload []byte) error {
	calls := c.hub.calls

	switch eventType {
	case events.CallUser:
		var req events.CallUserRequest
		if err := c.decode(payload, &req); err != nil {
			return err
		}
		name := req.Name
		if name == "" {
			name = c.user.Name
		}
		return calls.Initiate(c, req.UserToCall, req.SignalData, name)

	case events.AnswerCall:
		var req events.AnswerCallRequest
		if err := c.decode(payload, &req); err != nil {
			return err
		}
		return calls.Answer(c, req.To, req.Signal)

	case events.RejectCall:
		var req events.RejectCallRequest
		if err := c.decode(payload, &req); err != nil {
			return err
		}
		calls.Reject(c, req.To, req.Reason)

	case events.CallEnded:
		var req events.EndCallRequest
		if err := c.decode(payload, &req); err != nil {
			return err
		}
		calls.End(c, req.To)
	}
	return nil
}

// publicMessage picks the text a client sees for err. Errors that do not
// come from a known sentinel are logged and reported generically.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, errUnknownEvent),
		errors.Is(err, errInvalidPayload),
		errors.Is(err, errRateLimited),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, chat.ErrForbidden),
		errors.Is(err, chat.ErrValidation),
		errors.Is(err, call.ErrInvalidSignal):
		return err.Error()
	}
	log.Printf("Realtime handler error: %v", err)
	return "internal server error"
}
