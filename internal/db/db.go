package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// connectionPragmas are applied by the driver to each new pooled
// connection.
const connectionPragmas = "_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL&_cache_size=-64000"

func dataSourceName(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + connectionPragmas
	}
	return path + "?" + connectionPragmas
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets history reads proceed while a send is writing. It is stored
	// in the database file, so one connection setting it is enough.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// An in-memory database exists per connection, so tests must share one.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'offline',
		last_seen INTEGER NOT NULL DEFAULT 0,
		is_bot INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_text TEXT,
		last_sender TEXT,
		last_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (participant_a, participant_b),
		CHECK (participant_a < participant_b),
		FOREIGN KEY (participant_a) REFERENCES users(id),
		FOREIGN KEY (participant_b) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS conversation_unread (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		admin_id TEXT NOT NULL,
		last_text TEXT,
		last_sender TEXT,
		last_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (admin_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES chat_groups(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		sender_id TEXT NOT NULL,
		conversation_id TEXT,
		group_id TEXT,
		text TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'sent',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		is_edited INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK ((conversation_id IS NULL) <> (group_id IS NULL)),
		FOREIGN KEY (sender_id) REFERENCES users(id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (group_id) REFERENCES chat_groups(id)
	);

	CREATE INDEX IF NOT EXISTS idx_users_name ON users(name);
	CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id, status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Timestamp converts t to the integer form stored in timestamp columns.
func Timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Time converts a stored timestamp back to UTC time.
func Time(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

// NullTime converts a nullable stored timestamp.
func NullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return Time(v.Int64)
}

// SortedPair orders two user ids the way conversations store them.
func SortedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
