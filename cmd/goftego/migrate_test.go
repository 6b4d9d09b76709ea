package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/goftego/internal/auth"
	"github.com/4xmen/goftego/internal/chat"
	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/pkg/config"
)

var seedTime = time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)

type seededDB struct {
	database     *db.DB
	chat         *chat.Service
	alice, bob   string
	conversation string
}

func (s *seededDB) close() { s.database.Close() }

// seedDatabase creates two users, the bot account and one conversation
// between the users.
func seedDatabase(t *testing.T, path string) *seededDB {
	t.Helper()
	database, err := db.New(path)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	conn := database.GetConn()
	ctx := context.Background()

	authSvc := auth.New(conn, "secret")
	alice, err := authSvc.Register(ctx, "Alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("failed to register alice: %v", err)
	}
	bob, err := authSvc.Register(ctx, "Bob", "bob@example.com", "password123")
	if err != nil {
		t.Fatalf("failed to register bob: %v", err)
	}
	if err := authSvc.EnsureSystemUser(ctx, "bot", "Goftego Bot", "bot@goftego.local"); err != nil {
		t.Fatalf("failed to create bot: %v", err)
	}

	chatSvc := chat.New(conn, clock.Fake(seedTime))
	conv, _, err := chatSvc.FindOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}

	return &seededDB{database: database, chat: chatSvc, alice: alice.ID, bob: bob.ID, conversation: conv.ID}
}

func storedUnread(t *testing.T, dbPath, conversationID, userID string) int {
	t.Helper()
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer dbConn.Close()

	var count int
	err = dbConn.QueryRow(
		"SELECT count FROM conversation_unread WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("failed to read unread counter: %v", err)
	}
	return count
}

// createDriftedDB leaves bob with two unread messages from alice, alice
// with none, and both stored counters wrong.
func createDriftedDB(t *testing.T) (string, *seededDB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "drift.db")
	seed := seedDatabase(t, dbPath)
	ctx := context.Background()
	target := models.Direct(seed.conversation)

	for _, text := range []string{"one", "two"} {
		if _, err := seed.chat.SendMessage(ctx, seed.alice, target, text, nil); err != nil {
			t.Fatalf("failed to send %q: %v", text, err)
		}
	}
	if _, err := seed.chat.SendMessage(ctx, seed.bob, target, "reply", nil); err != nil {
		t.Fatalf("failed to send reply: %v", err)
	}
	if _, err := seed.chat.MarkAsRead(ctx, target, seed.alice); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}

	_, err := seed.database.GetConn().Exec(
		"UPDATE conversation_unread SET count = CASE user_id WHEN ? THEN 7 ELSE 3 END WHERE conversation_id = ?",
		seed.bob, seed.conversation,
	)
	if err != nil {
		t.Fatalf("failed to corrupt counters: %v", err)
	}
	seed.close()
	return dbPath, seed
}

func TestUnreadCountsMigrationDryRun(t *testing.T) {
	dbPath, seed := createDriftedDB(t)

	var out bytes.Buffer
	err := runUnreadCountsMigration(context.Background(), &out, unreadCountsMigrationOptions{DatabasePath: dbPath, DryRun: true})
	if err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Would update 2 of 2 unread counters") {
		t.Fatalf("unexpected dry-run output: %s", out.String())
	}

	if got := storedUnread(t, dbPath, seed.conversation, seed.bob); got != 7 {
		t.Fatalf("dry-run changed bob's counter to %d", got)
	}
}

func TestUnreadCountsMigrationRepairsDrift(t *testing.T) {
	dbPath, seed := createDriftedDB(t)

	var out bytes.Buffer
	err := runUnreadCountsMigration(context.Background(), &out, unreadCountsMigrationOptions{DatabasePath: dbPath})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if !strings.Contains(out.String(), "Migration completed") {
		t.Fatalf("expected completion output, got: %s", out.String())
	}

	if got := storedUnread(t, dbPath, seed.conversation, seed.bob); got != 2 {
		t.Fatalf("bob unread = %d, want 2", got)
	}
	if got := storedUnread(t, dbPath, seed.conversation, seed.alice); got != 0 {
		t.Fatalf("alice unread = %d, want 0", got)
	}

	out.Reset()
	if err := runUnreadCountsMigration(context.Background(), &out, unreadCountsMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Updated 0 of 2 unread counters") {
		t.Fatalf("expected no drift on second run, got: %s", out.String())
	}
}

func TestParseUnreadCountsMigrationArgs(t *testing.T) {
	cfg := &config.Config{DatabasePath: "/data/goftego.db"}

	opts, err := parseUnreadCountsMigrationArgs(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DatabasePath != "/data/goftego.db" || opts.DryRun {
		t.Fatalf("unexpected defaults: %+v", opts)
	}

	opts, err = parseUnreadCountsMigrationArgs(cfg, []string{"--dry-run", "--database", "/tmp/other.db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DatabasePath != "/tmp/other.db" || !opts.DryRun {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := parseUnreadCountsMigrationArgs(cfg, []string{"--database", " "}); err == nil {
		t.Fatalf("expected error for empty database path")
	}
	if _, err := parseUnreadCountsMigrationArgs(cfg, []string{"--verbose"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestRunMigrateRejectsUnknownTarget(t *testing.T) {
	cfg := &config.Config{DatabasePath: "/tmp/goftego.db"}
	if err := runMigrate(cfg, &bytes.Buffer{}, nil); err == nil {
		t.Fatalf("expected error for missing target")
	}
	if err := runMigrate(cfg, &bytes.Buffer{}, []string{"conversation-participants"}); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}
