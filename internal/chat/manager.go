package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"genied/internal/convo"
	"genied/internal/store"
)

// Store hands out per-user session repositories.
type Store interface {
	ForUser(userID string) store.Sessions
}

// Manager keeps one live Conversation per (user, session) pair.
type Manager struct {
	gen      Generator
	store    Store
	capacity int
	log      zerolog.Logger

	mu   sync.Mutex
	open map[key]*Conversation
}

type key struct{ user, id string }

// NewManager builds a Manager. capacity is the history window size;
// values below 2 use convo.DefaultCapacity.
func NewManager(gen Generator, st Store, capacity int, log *zerolog.Logger) *Manager {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "chat").Logger()
	}
	if capacity < 2 {
		capacity = convo.DefaultCapacity
	}
	return &Manager{gen: gen, store: st, capacity: capacity, log: l, open: make(map[key]*Conversation)}
}

// Create starts and persists a new empty session for userID.
func (m *Manager) Create(ctx context.Context, userID string) (*Conversation, error) {
	sess := store.NewSession(userID)
	sessions := m.store.ForUser(userID)
	if err := sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	c := newConversation(sess, m.gen, sessions, m.capacity, m.log)
	m.mu.Lock()
	m.open[key{userID, sess.ID}] = c
	m.mu.Unlock()
	m.log.Info().Str("user", userID).Str("session", sess.ID).Msg("session created")
	return c, nil
}

// Open returns the live conversation for id, restoring it from the store
// (transcript, window and grounding) when it is not already open.
func (m *Manager) Open(ctx context.Context, userID, id string) (*Conversation, error) {
	if !store.ValidID(id) {
		return nil, store.ErrNotFound
	}
	k := key{userID, id}
	m.mu.Lock()
	c := m.open[k]
	m.mu.Unlock()
	if c != nil {
		return c, nil
	}
	sessions := m.store.ForUser(userID)
	sess, err := sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c = newConversation(sess, m.gen, sessions, m.capacity, m.log)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.open[k]; existing != nil {
		return existing, nil
	}
	m.open[k] = c
	m.log.Debug().Str("user", userID).Str("session", id).Int("turns", len(sess.Turns)).Msg("session restored")
	return c, nil
}

// Delete removes the session from the store and closes it. A Send still
// generating on it finishes without saving.
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	if !store.ValidID(id) {
		return store.ErrNotFound
	}
	k := key{userID, id}
	m.mu.Lock()
	c := m.open[k]
	m.mu.Unlock()
	if c != nil {
		// Held across the row delete so no save lands in between.
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	if err := m.store.ForUser(userID).Delete(ctx, id); err != nil {
		return err
	}
	if c != nil {
		c.markDeletedLocked()
	}
	m.mu.Lock()
	delete(m.open, k)
	m.mu.Unlock()
	m.log.Info().Str("user", userID).Str("session", id).Msg("session deleted")
	return nil
}

// List returns the user's sessions, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]store.Summary, error) {
	return m.store.ForUser(userID).List(ctx)
}
