package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/pkg/config"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0 B"},
		{input: 1023, want: "1023 B"},
		{input: 1024, want: "1.0 KiB"},
		{input: 1536, want: "1.5 KiB"},
		{input: 1048576, want: "1.0 MiB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(time.Time{}); got != "n/a" {
		t.Fatalf("formatTimestamp(zero) = %q, want %q", got, "n/a")
	}

	ts := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	if got := formatTimestamp(ts); got != "2026-02-18T10:00:00Z" {
		t.Fatalf("formatTimestamp(value) = %q", got)
	}
}

func TestParseStatusArgs(t *testing.T) {
	for _, args := range [][]string{{"--json"}, {"-j"}} {
		opts, err := parseStatusArgs(args)
		if err != nil {
			t.Fatalf("parseStatusArgs(%v) returned error: %v", args, err)
		}
		if !opts.JSON {
			t.Fatalf("parseStatusArgs(%v) JSON = false, want true", args)
		}
	}

	if _, err := parseStatusArgs([]string{"--bad"}); err == nil {
		t.Fatalf("parseStatusArgs expected error for unknown flag")
	}
	if _, err := parseStatusArgs([]string{"extra"}); err == nil {
		t.Fatalf("parseStatusArgs expected error for positional argument")
	}
}

func TestCollectStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "goftego.db")
	seed := seedDatabase(t, dbPath)

	ctx := context.Background()
	if _, err := seed.chat.SendMessage(ctx, seed.alice, models.Direct(seed.conversation), "hello", nil); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	if _, err := seed.chat.SendMessage(ctx, seed.bob, models.Direct(seed.conversation), "hi", nil); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	seed.close()

	cfg := &config.Config{Environment: "test", Port: "8080", DatabasePath: dbPath}
	status := collectStatus(cfg, seedTime.Add(time.Hour))

	if !status.DBMetricsReady {
		t.Fatalf("expected metrics, got warning %q", status.DBWarning)
	}
	if status.Users != 2 || status.Bots != 1 {
		t.Fatalf("users = %d, bots = %d", status.Users, status.Bots)
	}
	if status.Conversations != 1 || status.Messages != 2 {
		t.Fatalf("conversations = %d, messages = %d", status.Conversations, status.Messages)
	}
	if status.UnreadMessages != 2 {
		t.Fatalf("unread = %d, want 2", status.UnreadMessages)
	}
	if status.MessagesLast24h != 2 {
		t.Fatalf("messages last 24h = %d, want 2", status.MessagesLast24h)
	}
	if !status.LatestMessageAt.Equal(seedTime) {
		t.Fatalf("latest message at = %s, want %s", status.LatestMessageAt, seedTime)
	}
	if status.DBSize == 0 {
		t.Fatalf("expected a non-empty database file")
	}
}

func TestCollectStatusMissingDatabase(t *testing.T) {
	cfg := &config.Config{DatabasePath: filepath.Join(t.TempDir(), "missing.db")}
	status := collectStatus(cfg, time.Now())

	if status.DBMetricsReady {
		t.Fatalf("expected metrics to be unavailable")
	}
	if !strings.Contains(status.DBWarning, "database unavailable") {
		t.Fatalf("unexpected warning: %q", status.DBWarning)
	}

	var out bytes.Buffer
	printStatus(&out, status)
	if !strings.Contains(out.String(), "Database metrics  : n/a") {
		t.Fatalf("expected n/a metrics in output:\n%s", out.String())
	}
}

func TestPrintStatusJSON(t *testing.T) {
	status := appStatus{
		GeneratedAt:  time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		Environment:  "development",
		Port:         "8080",
		DatabasePath: "/tmp/goftego.db",
		Users:        3,
		OnlineUsers:  1,
	}

	var out bytes.Buffer
	if err := printStatusJSON(&out, status); err != nil {
		t.Fatalf("printStatusJSON returned error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if payload["environment"] != "development" {
		t.Fatalf("unexpected environment: %#v", payload["environment"])
	}
	metrics, ok := payload["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("missing metrics object: %#v", payload["metrics"])
	}
	if metrics["online_users"] != float64(1) {
		t.Fatalf("unexpected online_users: %#v", metrics["online_users"])
	}
}
