package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftego/internal/models"
)

// ConversationPreview is a conversation as listed for one participant.
type ConversationPreview struct {
	*models.Conversation
	UnreadCount int `json:"unread_count"`
}

// GetConversations lists the caller's conversations, most recently
// active first.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversations, err := h.chat.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	previews := make([]ConversationPreview, 0, len(conversations))
	for _, conv := range conversations {
		previews = append(previews, ConversationPreview{
			Conversation: conv,
			UnreadCount:  conv.UnreadCounts[userID],
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": previews})
}

type CreateConversationRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// CreateConversation returns the caller's conversation with another
// user, creating it on first use.
func (h *MessageHandler) CreateConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	conv, created, err := h.chat.FindOrCreateConversation(c.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ConversationPreview{Conversation: conv, UnreadCount: conv.UnreadCounts[userID]})
}
