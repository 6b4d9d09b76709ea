package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zeebo/blake3"

	"github.com/4xmen/goftego/internal/chat"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
)

type MessageHandler struct {
	chat  *chat.Service
	rooms Broadcaster
	bot   Responder
}

// NewMessageHandler wires the REST message surface. rooms and bot may be
// nil, in which case REST sends are stored but not pushed to realtime
// peers.
func NewMessageHandler(chatSvc *chat.Service, rooms Broadcaster, bot Responder) *MessageHandler {
	return &MessageHandler{chat: chatSvc, rooms: rooms, bot: bot}
}

type SendMessageRequest struct {
	RecipientID string              `json:"recipient_id"`
	GroupID     string              `json:"group_id"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
}

// SendMessage stores a message addressed to a user or a group and pushes
// it to the realtime room of its channel.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}
	if (req.RecipientID == "") == (req.GroupID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("recipient_id or group_id required")})
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("message text or attachments required")})
		return
	}

	ctx := c.Request.Context()
	target := models.GroupRef(req.GroupID)
	if req.RecipientID != "" {
		conv, _, err := h.chat.FindOrCreateConversation(ctx, userID, req.RecipientID)
		if err != nil {
			respondError(c, err)
			return
		}
		target = models.Direct(conv.ID)
	}

	msg, err := h.chat.SendMessage(ctx, userID, target, req.Text, req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.rooms != nil {
		h.rooms.BroadcastRoom(target.ID(), events.New(events.MessageReceive, msg), nil)
	}
	if h.bot != nil {
		h.bot.Trigger(msg)
	}

	c.JSON(http.StatusCreated, msg)
}

// GetMessages returns one page of a channel's history, oldest first.
// The body is tagged with a content hash so pollers can revalidate.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	isGroup, _ := strconv.ParseBool(c.DefaultQuery("isGroup", "false"))
	target := models.ChannelFor(c.Param("targetId"), isGroup)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(chat.DefaultPageSize)))
	if err != nil || limit <= 0 {
		limit = chat.DefaultPageSize
	}
	if limit > chat.MaxPageSize {
		limit = chat.MaxPageSize
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		skip = 0
	}

	ctx := c.Request.Context()
	if err := h.chat.Authorize(ctx, userID, target); err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.chat.GetMessages(ctx, target, limit, skip)
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	body, err := json.Marshal(gin.H{"count": len(messages), "data": messages})
	if err != nil {
		respondError(c, err)
		return
	}

	etag := contentETag(body)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-cache")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func contentETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
