// Package ws serves the realtime websocket endpoint: it authenticates
// each connection at handshake, keeps the user routing and room
// membership, and dispatches inbound events to the chat, presence and
// call services.
package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
	"github.com/4xmen/goftego/pkg/i18n"
)

// bearerProtocolPrefix marks a subprotocol entry that carries the
// credential, for browsers that cannot set headers on a websocket.
const bearerProtocolPrefix = "bearer."

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type ChatService interface {
	SendMessage(ctx context.Context, senderID string, target models.ChannelRef, text string, attachments []models.Attachment) (*models.Message, error)
	MarkAsRead(ctx context.Context, target models.ChannelRef, userID string) (int64, error)
}

type PresenceService interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
	Typing(sender registry.Conn, name, roomID string, started bool)
}

type CallCoordinator interface {
	Initiate(caller registry.Conn, calleeID string, signal any, name string) error
	Answer(callee registry.Conn, callerID string, signal any) error
	Reject(callee registry.Conn, callerID, reason string)
	End(ender registry.Conn, otherID string)
	Disconnected(conn registry.Conn)
}

type Responder interface {
	Trigger(msg *models.Message)
	CancelFor(userID string)
}

type Config struct {
	Registry registry.Registry
	Rooms    *Rooms
	Auth     Authenticator
	Chat     ChatService
	Presence PresenceService
	Calls    CallCoordinator
	// Bot is optional.
	Bot Responder

	// EventRate and EventBurst throttle message.send per connection.
	// A non-positive rate disables throttling.
	EventRate  float64
	EventBurst int

	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Hub struct {
	registry registry.Registry
	rooms    *Rooms
	auth     Authenticator
	chat     ChatService
	presence PresenceService
	calls    CallCoordinator
	bot      Responder

	eventRate  rate.Limit
	eventBurst int

	upgrader websocket.Upgrader
}

func NewHub(cfg Config) *Hub {
	if cfg.Registry == nil {
		cfg.Registry = registry.NewMemory()
	}
	if cfg.Rooms == nil {
		cfg.Rooms = NewRooms()
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}

	limit := rate.Inf
	if cfg.EventRate > 0 {
		limit = rate.Limit(cfg.EventRate)
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 1
	}

	return &Hub{
		registry:   cfg.Registry,
		rooms:      cfg.Rooms,
		auth:       cfg.Auth,
		chat:       cfg.Chat,
		presence:   cfg.Presence,
		calls:      cfg.Calls,
		bot:        cfg.Bot,
		eventRate:  limit,
		eventBurst: cfg.EventBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{ProtocolJSON, ProtocolCBOR},
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Rooms returns the room manager the hub broadcasts through.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// IsUserOnline reports whether userID has a routed connection.
func (h *Hub) IsUserOnline(userID string) bool {
	_, ok := h.registry.Lookup(userID)
	return ok
}

// HandleWebSocket authenticates the handshake and upgrades it. A bad or
// missing credential is refused with 401 before the upgrade, so the
// connection never joins a room.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	token := tokenFromRequest(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("missing authorization token")})
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		log.Printf("WebSocket auth rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("invalid token")})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}

	client := newClient(h, conn, user, codecFor(conn.Subprotocol()))
	h.connect(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) connect(c *Client) {
	userID := c.UserID()
	if evicted := h.registry.Register(userID, c); evicted != nil {
		log.Printf("User %s reconnected, previous connection unrouted", userID)
	}
	h.rooms.Add(c)
	h.rooms.Join(c, events.PersonalRoom(userID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Connected(ctx, userID); err != nil {
		log.Printf("Failed to mark user %s online: %v", userID, err)
	}

	log.Printf("User %s connected (codec: %s, total: %d)", userID, c.codec.name(), h.rooms.Len())
}

// disconnect drops c from every room and ends its call. Presence goes
// offline, and staged bot replies are cancelled, only if c was still the
// routed connection.
func (h *Hub) disconnect(c *Client) {
	userID := c.UserID()
	h.rooms.Remove(c)
	c.close()
	h.calls.Disconnected(c)

	if h.registry.Unregister(userID, c) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.Disconnected(ctx, userID); err != nil {
			log.Printf("Failed to mark user %s offline: %v", userID, err)
		}
		if h.bot != nil {
			h.bot.CancelFor(userID)
		}
	}

	log.Printf("User %s disconnected (total: %d)", userID, h.rooms.Len())
}

// tokenFromRequest reads the credential from the token query parameter,
// an Authorization bearer header, or a bearer.<token> subprotocol entry.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, bearerProtocolPrefix) {
			return strings.TrimPrefix(proto, bearerProtocolPrefix)
		}
	}
	return ""
}

func __(message string) string {
	return i18n.Translate(message)
}
