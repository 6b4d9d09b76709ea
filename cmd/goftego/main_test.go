package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origins, origin string
		want            bool
	}{
		{"*", "https://any.example", true},
		{"https://a.example, https://b.example", "https://b.example", true},
		{"https://a.example", "https://evil.example", false},
		{"https://a.example", "", true},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origins, tt.origin); got != tt.want {
			t.Fatalf("originAllowed(%q, %q) = %v, want %v", tt.origins, tt.origin, got, tt.want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name            string
		origins         string
		origin          string
		wantOrigin      string
		wantCredentials string
	}{
		{name: "wildcard echoes origin", origins: "*", origin: "https://app.example", wantOrigin: "https://app.example", wantCredentials: "true"},
		{name: "wildcard without origin", origins: "*", wantOrigin: "*"},
		{name: "listed origin", origins: "https://a.example,https://b.example", origin: "https://b.example", wantOrigin: "https://b.example", wantCredentials: "true"},
		{name: "unlisted origin", origins: "https://a.example", origin: "https://evil.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(corsMiddleware(tt.origins))
			router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCredentials)
			}
			if w.Header().Get("Access-Control-Allow-Origin") == "*" && w.Header().Get("Access-Control-Allow-Credentials") != "" {
				t.Error("credentials allowed together with a wildcard origin")
			}
		})
	}
}
