package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftego/internal/auth"
	"github.com/4xmen/goftego/internal/models"
)

type UserHandler struct {
	authSvc       *auth.Service
	onlineChecker OnlineChecker
}

func NewUserHandler(authSvc *auth.Service, onlineChecker OnlineChecker) *UserHandler {
	return &UserHandler{authSvc: authSvc, onlineChecker: onlineChecker}
}

// SearchUsers finds other users by name or email. Status reflects live
// connections rather than the stored value.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	users, err := h.authSvc.SearchUsers(c.Request.Context(), userID, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	if h.onlineChecker != nil {
		for i := range users {
			if users[i].IsBot {
				continue
			}
			users[i].Status = models.StatusOffline
			if h.onlineChecker.IsUserOnline(users[i].ID) {
				users[i].Status = models.StatusOnline
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.authSvc.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}
