// Package sqlite implements the repository interfaces on top of SQLite.
//
// DRIVER:
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without cgo. It registers itself with database/sql under the name "sqlite".
//
// ONE HANDLE, MANY REPOSITORIES:
// A single *DB satisfies every repository interface (users, conversations,
// messages, activity, movies, follows). Method names carry the entity name
// (CreateUser, CreateMessage, ...) so they do not collide.
//
// CONNECTION SETTINGS:
// PRAGMAs set with Exec only apply to whichever pooled connection ran them.
// Settings that must hold on every connection (foreign keys, busy timeout)
// are passed as _pragma DSN parameters instead, which the driver applies each
// time it opens a connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn   *sql.DB
	memory bool
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/reelhouse.db" → file database (persistent, WAL journal)
//   - ":memory:"          → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")

	conn, err := sql.Open("sqlite", dsn(dbPath, memory))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a brand new, empty database.
	// Pin the pool to one connection so all queries see the same schema.
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, memory: memory}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string, memory bool) string {
	// _time_format=sqlite writes time.Time values as
	// "2006-01-02 15:04:05.999999999-07:00", which sorts correctly as text
	// when every value shares the same offset.
	params := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)", "_time_format=sqlite"}
	if !memory {
		// WAL lets readers proceed while a write is in progress.
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(params, "&")
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Reconnect forces the pool to hand out a working connection again.
//
// database/sql already discards connections that report driver.ErrBadConn,
// so "reconnecting" means draining idle connections and pinging, which makes
// the pool dial a fresh one. An in-memory database lives and dies with its
// only connection, so it is just pinged.
func (db *DB) Reconnect(ctx context.Context) error {
	if !db.memory {
		db.conn.SetMaxIdleConns(0)
		db.conn.SetMaxIdleConns(2)
	}
	if err := db.conn.PingContext(ctx); err != nil {
		return classify("sqlite: reconnecting", err)
	}
	return nil
}

// migrate creates every table. CREATE ... IF NOT EXISTS keeps it idempotent,
// and addColumnIfNotExists covers columns added after a table first shipped.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				email         TEXT NOT NULL DEFAULT '',
				name          TEXT NOT NULL DEFAULT '',
				image         TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL DEFAULT '',
				github_id     INTEGER UNIQUE,
				created_at    DATETIME NOT NULL,
				updated_at    DATETIME NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email <> '';
		`},
		// direct_key is the sorted participant pair for direct conversations
		// and NULL for groups. UNIQUE allows any number of NULLs.
		{"conversations", `
			CREATE TABLE IF NOT EXISTS conversations (
				id         TEXT PRIMARY KEY,
				is_group   INTEGER NOT NULL DEFAULT 0,
				direct_key TEXT UNIQUE,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
		`},
		{"conversation_participants", `
			CREATE TABLE IF NOT EXISTS conversation_participants (
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				user_id         TEXT NOT NULL REFERENCES users(id),
				joined_at       DATETIME NOT NULL,
				PRIMARY KEY (conversation_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
		`},
		{"messages", `
			CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				sender_id       TEXT NOT NULL REFERENCES users(id),
				content         TEXT NOT NULL,
				type            TEXT NOT NULL DEFAULT 'text',
				created_at      DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
				ON messages(conversation_id, created_at);
		`},
		{"message_reads", `
			CREATE TABLE IF NOT EXISTS message_reads (
				message_id TEXT NOT NULL REFERENCES messages(id),
				user_id    TEXT NOT NULL REFERENCES users(id),
				read_at    DATETIME NOT NULL,
				PRIMARY KEY (message_id, user_id)
			);
		`},
		{"movies", `
			CREATE TABLE IF NOT EXISTS movies (
				id          INTEGER PRIMARY KEY,
				type        TEXT NOT NULL DEFAULT 'movie',
				poster_path TEXT NOT NULL DEFAULT '',
				created_at  DATETIME NOT NULL,
				updated_at  DATETIME NOT NULL
			);
		`},
		{"follows", `
			CREATE TABLE IF NOT EXISTS follows (
				follower_id  TEXT NOT NULL REFERENCES users(id),
				following_id TEXT NOT NULL REFERENCES users(id),
				created_at   DATETIME NOT NULL,
				PRIMARY KEY (follower_id, following_id)
			);
			CREATE INDEX IF NOT EXISTS idx_follows_following ON follows(following_id);
		`},
		// content_id is deliberately not a foreign key: activity may reference
		// TMDB content that never got a local anchor row.
		{"user_activities", `
			CREATE TABLE IF NOT EXISTS user_activities (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL REFERENCES users(id),
				activity_type TEXT NOT NULL,
				activity_date DATETIME NOT NULL,
				activity_day  TEXT NOT NULL,
				content_id    INTEGER,
				metadata      TEXT NOT NULL DEFAULT '{}',
				created_at    DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_activities_user_day ON user_activities(user_id, activity_day);
		`},
	}

	for _, s := range steps {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", s.name, err)
		}
	}

	// Columns added after the first release.
	if err := db.addColumnIfNotExists("users", "is_deleted", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding is_deleted to users: %w", err)
	}
	if err := db.addColumnIfNotExists("users", "deleted_at", "DATETIME"); err != nil {
		return fmt.Errorf("adding deleted_at to users: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
