package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/goftego/internal/ai"
	"github.com/4xmen/goftego/internal/auth"
	"github.com/4xmen/goftego/internal/bot"
	"github.com/4xmen/goftego/internal/call"
	"github.com/4xmen/goftego/internal/chat"
	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/handlers"
	"github.com/4xmen/goftego/internal/presence"
	"github.com/4xmen/goftego/internal/registry"
	"github.com/4xmen/goftego/internal/ws"
	"github.com/4xmen/goftego/pkg/config"
	"github.com/4xmen/goftego/pkg/i18n"
)

func __(message string) string {
	return i18n.Translate(message)
}

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("rate limiter error")})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": __("rate limit exceeded")})
			c.Abort()
			return
		}

		c.Next()
	}
}

func newRateLimit(period time.Duration, limit int64) gin.HandlerFunc {
	return rateLimitMiddleware(limiter.New(memory.NewStore(), limiter.Rate{Period: period, Limit: limit}))
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
	})
}

func corsMiddleware(origins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// Credentials are only allowed alongside an echoed origin.
		switch {
		case origin != "" && originAllowed(origins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		case origins == "*":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "ETag")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed matches origin against a comma-separated allow list.
// "*" allows every origin, as does a request without an Origin header.
func originAllowed(origins, origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range strings.Split(origins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func main() {
	cfg := config.Load()
	i18n.SetLocale(cfg.Locale)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "serve":
		return runServer(cfg)
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  goftego                  Start the server")
	fmt.Fprintln(out, "  goftego status [--json]  Show application statistics")
	fmt.Fprintln(out, "  goftego migrate unread-counts [--dry-run] [--database PATH]")
	fmt.Fprintln(out, "                           Recompute conversation unread counters")
}

func runServer(cfg *config.Config) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	conn := database.GetConn()

	clk := clock.Real()
	authSvc := auth.NewWithTokenTTL(conn, cfg.JWTSecret, cfg.TokenTTL)

	seedCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = authSvc.EnsureSystemUser(seedCtx, cfg.BotUserID, cfg.BotName, cfg.BotEmail)
	cancel()
	if err != nil {
		return err
	}

	chatSvc := chat.New(conn, clk)
	reg := registry.NewMemory()
	rooms := ws.NewRooms()
	presenceSvc := presence.New(conn, clk, rooms)
	calls := call.New(reg, clk, cfg.CallTimeout)

	aiClient := ai.New(ai.Config{
		BaseURL:        cfg.LLMBaseURL,
		APIKey:         cfg.LLMAPIKey,
		Model:          cfg.LLMModel,
		SentimentURL:   cfg.SentimentURL,
		SentimentToken: cfg.SentimentToken,
		Timeout:        cfg.UpstreamTimeout,
	}, nil)
	if !aiClient.GeneratorConfigured() {
		log.Printf("LLM_BASE_URL or LLM_API_KEY not set, bot replies use the rule table")
	}

	rules, err := bot.LoadRules(cfg.BotRulesFile)
	if err != nil {
		return fmt.Errorf("failed to load bot rules: %w", err)
	}
	responder := bot.New(bot.Config{
		UserID:      cfg.BotUserID,
		Name:        cfg.BotName,
		TypingDelay: cfg.BotTypingDelay,
		ReplyDelay:  cfg.BotReplyDelay,
		Timeout:     cfg.UpstreamTimeout,
	}, chatSvc, aiClient, rooms, clk, rules)

	hub := ws.NewHub(ws.Config{
		Registry:   reg,
		Rooms:      rooms,
		Auth:       authSvc,
		Chat:       chatSvc,
		Presence:   presenceSvc,
		Calls:      calls,
		Bot:        responder,
		EventRate:  cfg.WSEventRate,
		EventBurst: cfg.WSEventBurst,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.CORSOrigins, r.Header.Get("Origin"))
		},
	})

	authHandler := handlers.NewAuthHandler(authSvc)
	msgHandler := handlers.NewMessageHandler(chatSvc, rooms, responder)
	userHandler := handlers.NewUserHandler(authSvc, hub)
	aiHandler := handlers.NewAIHandler(aiClient)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))

	api := router.Group("/api")
	api.Use(handlers.Gzip())
	{
		api.POST("/auth/register", newRateLimit(time.Minute, 2), authHandler.Register)
		api.POST("/auth/login", newRateLimit(time.Minute, 5), authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.POST("/auth/logout", authHandler.Logout)

		protected.GET("/users", userHandler.SearchUsers)
		protected.GET("/users/me", userHandler.GetMe)

		protected.GET("/conversations", msgHandler.GetConversations)
		protected.POST("/conversations", msgHandler.CreateConversation)

		protected.GET("/groups", msgHandler.GetGroups)
		protected.POST("/groups", msgHandler.CreateGroup)
		protected.POST("/groups/:groupId/members", msgHandler.AddGroupMember)

		protected.POST("/messages", newRateLimit(time.Minute, 60), msgHandler.SendMessage)
		protected.GET("/messages/:targetId", msgHandler.GetMessages)

		aiRoutes := protected.Group("/ai")
		aiRoutes.Use(newRateLimit(time.Hour, 50))
		aiRoutes.POST("/sentiment", aiHandler.Sentiment)
		aiRoutes.POST("/smart-replies", aiHandler.SmartReplies)
		aiRoutes.POST("/chat", aiHandler.Chat)
		aiRoutes.DELETE("/chat/history", aiHandler.ClearHistory)
	}

	// The hub authenticates the handshake itself.
	router.GET("/ws", hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": __("not found")})
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
