package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"genied/internal/common/fsutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	turns      INTEGER NOT NULL DEFAULT 0,
	payload    TEXT NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at DESC);
`

// SQLite stores sessions for all users in one database file.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string, log *zerolog.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := fsutil.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "store").Logger()
	}
	l.Debug().Str("path", path).Msg("session store opened")
	return &SQLite{db: db, log: l}, nil
}

// Close releases the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ForUser scopes the store to one user's sessions.
func (s *SQLite) ForUser(userID string) Sessions { return userSessions{db: s, userID: userID} }

type userSessions struct {
	db     *SQLite
	userID string
}

func (u userSessions) Save(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("save session: empty id")
	}
	if sess.UserID != "" && sess.UserID != u.userID {
		return fmt.Errorf("save session %s: belongs to another user", sess.ID)
	}
	sess.UserID = u.userID
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	data, err := encodePayload(sess)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	_, err = u.db.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, id, title, created_at, updated_at, turns, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			turns = excluded.turns,
			payload = excluded.payload`,
		u.userID, sess.ID, sess.Title, sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), len(sess.Turns), string(data))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	u.db.log.Debug().Str("user", u.userID).Str("session", sess.ID).Int("turns", len(sess.Turns)).Msg("session saved")
	return nil
}

func (u userSessions) Load(ctx context.Context, id string) (*Session, error) {
	row := u.db.db.QueryRowContext(ctx,
		`SELECT title, created_at, updated_at, payload FROM sessions WHERE user_id = ? AND id = ?`,
		u.userID, id)
	var (
		sess             = &Session{ID: id, UserID: u.userID}
		created, updated int64
		data             string
	)
	if err := row.Scan(&sess.Title, &created, &updated, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess.CreatedAt = time.UnixMilli(created).UTC()
	sess.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := decodePayload([]byte(data), sess); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

func (u userSessions) List(ctx context.Context) ([]Summary, error) {
	rows, err := u.db.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at, turns FROM sessions
		 WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC, id`,
		u.userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := []Summary{}
	for rows.Next() {
		var sm Summary
		var created, updated int64
		if err := rows.Scan(&sm.ID, &sm.Title, &created, &updated, &sm.Turns); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sm.CreatedAt = time.UnixMilli(created).UTC()
		sm.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (u userSessions) Delete(ctx context.Context, id string) error {
	res, err := u.db.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ? AND id = ?`, u.userID, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
