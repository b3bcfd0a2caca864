// Package store persists chat sessions. Each user owns an independent set of
// sessions; the SQLite implementation keys rows by (user_id, id).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"genied/internal/convo"
)

// DefaultTitle is used until the first user message names the session.
const DefaultTitle = "New Chat"

// ErrNotFound is returned when a session id does not exist for the user.
var ErrNotFound = errors.New("session not found")

// Session is one persisted conversation, including its full transcript.
type Session struct {
	ID          string
	UserID      string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Turns       []convo.TurnRecord
	Grounding   *convo.Grounding
	// WindowStart is the first turn ordinal the history window may include.
	// Grounding changes move it past the turns recorded so far.
	WindowStart int
}

// Summary is the listing view of a Session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     int       `json:"turns"`
}

// Sessions is the per-user session repository.
type Sessions interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
}

// NewSession returns an empty session with a fresh id.
func NewSession(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidID reports whether id looks like a session id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
