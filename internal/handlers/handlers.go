// Package handlers implements the REST surface: accounts, conversations,
// groups, message history and the AI helpers.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/4xmen/goftego/internal/auth"
	"github.com/4xmen/goftego/internal/chat"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
	"github.com/4xmen/goftego/pkg/i18n"
)

// OnlineChecker reports whether a user has a live realtime connection.
type OnlineChecker interface {
	IsUserOnline(userID string) bool
}

// Broadcaster fans events out to realtime room members.
type Broadcaster interface {
	BroadcastRoom(room string, ev events.Event, skip registry.Conn)
}

// Responder is the automated reply hook.
type Responder interface {
	Trigger(msg *models.Message)
}

func __(message string) string {
	return i18n.Translate(message)
}

func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return "", false
	}
	return userID, true
}

// respondError maps a service error to its status code. Unknown errors
// are logged and reported generically.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrAlreadyMember):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		c.Error(err)
		log.Printf("Request failed method=%s path=%s error=%v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": __("internal server error")})
		return
	}
	c.JSON(status, gin.H{"error": __(err.Error())})
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	},
}

// gzipWriter compresses the body lazily, so responses without a body
// (304, 204) go out unencoded.
type gzipWriter struct {
	gin.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if w.gz == nil {
		h := w.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		w.gz = gzipPool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}
	return w.gz.Write(b)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipWriter) finish() {
	if w.gz == nil {
		return
	}
	if err := w.gz.Close(); err != nil {
		log.Printf("Failed to flush gzip response: %v", err)
	}
	gzipPool.Put(w.gz)
	w.gz = nil
}

// Gzip compresses responses for clients that accept it. Websocket
// upgrades pass through untouched.
func Gzip() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") ||
			strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		original := c.Writer
		gw := &gzipWriter{ResponseWriter: original}
		c.Writer = gw
		defer func() {
			gw.finish()
			c.Writer = original
		}()

		c.Next()
	}
}
