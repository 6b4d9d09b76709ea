package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftego/internal/ai"
)

type AIHandler struct {
	client *ai.Client
}

func NewAIHandler(client *ai.Client) *AIHandler {
	return &AIHandler{client: client}
}

type TextRequest struct {
	Message string `json:"message" binding:"required"`
}

type SmartRepliesRequest struct {
	Message string `json:"message" binding:"required"`
	Context string `json:"context"`
}

func (h *AIHandler) Sentiment(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("message is required")})
		return
	}

	c.JSON(http.StatusOK, h.client.AnalyzeSentiment(c.Request.Context(), req.Message))
}

// SmartReplies always answers with three suggestions.
func (h *AIHandler) SmartReplies(c *gin.Context) {
	var req SmartRepliesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("message is required")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"replies": h.client.SmartReplies(c.Request.Context(), req.Message, req.Context)})
}

func (h *AIHandler) Chat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("message is required")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": h.client.ChatReply(c.Request.Context(), userID, req.Message)})
}

func (h *AIHandler) ClearHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	h.client.ClearHistory(userID)
	c.JSON(http.StatusOK, gin.H{"message": "chat history cleared"})
}
