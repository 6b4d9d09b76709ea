package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type CreateGroupRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}

type AddMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// CreateGroup creates a group administered by the caller.
func (h *MessageHandler) CreateGroup(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	group, err := h.chat.CreateGroup(c.Request.Context(), userID, req.Name, req.Description, req.Members)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

func (h *MessageHandler) GetGroups(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.chat.ListGroups(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// AddGroupMember adds a user to a group. Only the admin may do this.
func (h *MessageHandler) AddGroupMember(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	group, err := h.chat.AddMember(c.Request.Context(), c.Param("groupId"), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, group)
}
