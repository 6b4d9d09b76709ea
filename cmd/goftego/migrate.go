package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/4xmen/goftego/pkg/config"
)

type unreadCountsMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

// unreadCounter is one participant's unread counter in a conversation.
type unreadCounter struct {
	ConversationID string
	UserID         string
	Expected       int64
	Stored         int64
	Missing        bool
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: unread-counts)")
	}

	switch args[0] {
	case "unread-counts":
		opts, err := parseUnreadCountsMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runUnreadCountsMigration(context.Background(), out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseUnreadCountsMigrationArgs(cfg *config.Config, args []string) (unreadCountsMigrationOptions, error) {
	opts := unreadCountsMigrationOptions{DatabasePath: cfg.DatabasePath}

	flagSet := pflag.NewFlagSet("unread-counts", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.BoolVar(&opts.DryRun, "dry-run", false, "report drift without writing")
	flagSet.StringVar(&opts.DatabasePath, "database", cfg.DatabasePath, "path to the sqlite database")

	if err := flagSet.Parse(args); err != nil {
		return opts, fmt.Errorf("unknown migration flag: %w", err)
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("unknown migration flag: %s", flagSet.Arg(0))
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

// runUnreadCountsMigration recomputes every conversation's unread
// counters from message status. A participant's counter is the number
// of messages from the other participant that are not yet read.
func runUnreadCountsMigration(ctx context.Context, out io.Writer, opts unreadCountsMigrationOptions) error {
	dbConn, err := sql.Open("sqlite3", opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// BEGIN IMMEDIATE and the statements after it must share a connection.
	conn, err := dbConn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	counters, err := loadUnreadCounters(ctx, conn)
	if err != nil {
		return err
	}

	drifted := make([]unreadCounter, 0)
	for _, counter := range counters {
		if counter.Missing || counter.Expected != counter.Stored {
			drifted = append(drifted, counter)
		}
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would update %d of %d unread counters.\n", len(drifted), len(counters))
		for _, counter := range drifted {
			fmt.Fprintf(out, "  conversation %s user %s: %d -> %d\n", counter.ConversationID, counter.UserID, counter.Stored, counter.Expected)
		}
		if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := writeUnreadCounters(ctx, conn, drifted); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Updated %d of %d unread counters.\n", len(drifted), len(counters))
	return nil
}

func loadUnreadCounters(ctx context.Context, conn *sql.Conn) ([]unreadCounter, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT c.id, c.participant_a, c.participant_b,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id = c.participant_b AND m.status <> 'read'),
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id = c.participant_a AND m.status <> 'read')
		FROM conversations c
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	counters := make([]unreadCounter, 0)
	for rows.Next() {
		var (
			id, a, b               string
			unreadForA, unreadForB int64
		)
		if err := rows.Scan(&id, &a, &b, &unreadForA, &unreadForB); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		counters = append(counters,
			unreadCounter{ConversationID: id, UserID: a, Expected: unreadForA, Missing: true},
			unreadCounter{ConversationID: id, UserID: b, Expected: unreadForB, Missing: true},
		)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed while reading conversations: %w", err)
	}
	rows.Close()

	stored, err := conn.QueryContext(ctx, "SELECT conversation_id, user_id, count FROM conversation_unread")
	if err != nil {
		return nil, fmt.Errorf("failed to read unread counters: %w", err)
	}
	defer stored.Close()

	index := make(map[[2]string]int, len(counters))
	for i, counter := range counters {
		index[[2]string{counter.ConversationID, counter.UserID}] = i
	}
	for stored.Next() {
		var (
			conversationID, userID string
			count                  int64
		)
		if err := stored.Scan(&conversationID, &userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan unread counter: %w", err)
		}
		if i, ok := index[[2]string{conversationID, userID}]; ok {
			counters[i].Stored = count
			counters[i].Missing = false
		}
	}
	if err := stored.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading unread counters: %w", err)
	}

	return counters, nil
}

func writeUnreadCounters(ctx context.Context, conn *sql.Conn, counters []unreadCounter) error {
	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, count) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET count = excluded.count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare unread counter statement: %w", err)
	}
	defer stmt.Close()

	for _, counter := range counters {
		if _, err := stmt.ExecContext(ctx, counter.ConversationID, counter.UserID, counter.Expected); err != nil {
			return fmt.Errorf("failed to update unread counter for conversation %s: %w", counter.ConversationID, err)
		}
	}
	return nil
}
