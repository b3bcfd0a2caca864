// Package chat ties the engine, the context window and the session store into
// per-session conversations.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genied/internal/convo"
	"genied/internal/engine"
	"genied/internal/extract"
	"genied/internal/store"
)

// TitleLength is the number of characters of the first message kept as title.
const TitleLength = 40

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Generator is the part of engine.Session a conversation needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, onToken func(string) error) (engine.Metrics, error)
}

// Reply is the outcome of one Send.
type Reply struct {
	// Text is the assistant reply without the trailing metrics token.
	Text    string
	Metrics engine.Metrics
}

// Snapshot is a read-only copy of a conversation.
type Snapshot struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Turns     []convo.TurnRecord `json:"turns"`
	Window    []convo.TurnRecord `json:"window"`
	Grounding *convo.Grounding   `json:"grounding,omitempty"`
}

// Conversation is one chat session. Sends on the same conversation are
// serialized; the engine serializes across conversations. State stays
// readable while a generation runs.
type Conversation struct {
	sendMu sync.Mutex

	mu          sync.Mutex // guards the fields below, never held across Generate
	userID      string
	id          string
	title       string
	createdAt   time.Time
	updatedAt   time.Time
	transcript  []convo.TurnRecord
	window      *convo.Window
	windowStart int
	grounding   *convo.Grounding
	epoch       int // bumped on every grounding change
	deleted     bool

	gen      Generator
	sessions store.Sessions
	log      zerolog.Logger
}

func newConversation(sess *store.Session, gen Generator, sessions store.Sessions, capacity int, log zerolog.Logger) *Conversation {
	c := &Conversation{
		userID:     sess.UserID,
		id:         sess.ID,
		title:      sess.Title,
		createdAt:  sess.CreatedAt,
		updatedAt:  sess.UpdatedAt,
		transcript:  append([]convo.TurnRecord(nil), sess.Turns...),
		window:      convo.NewWindow(capacity),
		windowStart: sess.WindowStart,
		grounding:   sess.Grounding,
		gen:         gen,
		sessions:    sessions,
		log:         log.With().Str("user", sess.UserID).Str("session", sess.ID).Logger(),
	}
	c.window.RebuildFrom(c.transcript, c.windowStart)
	return c
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.id }

// UserID returns the owning user.
func (c *Conversation) UserID() string { return c.userID }

// Send asks the model about message in the context of this conversation.
// Tokens, including the trailing metrics token, are streamed to onToken.
// The exchange is recorded only when generation succeeds. A session deleted
// mid generation is not saved again and Send returns store.ErrNotFound.
func (c *Conversation) Send(ctx context.Context, message string, onToken func(string) error) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return Reply{}, store.ErrNotFound
	}
	prompt := convo.Assemble(c.grounding, c.window.Render(), message)
	epoch := c.epoch
	c.log.Debug().Int("prompt_chars", len(prompt)).Int("window", c.window.Len()).Msg("sending message")
	c.mu.Unlock()

	var b strings.Builder
	m, err := c.gen.Generate(ctx, prompt, func(tok string) error {
		b.WriteString(tok)
		if onToken == nil {
			return nil
		}
		return onToken(tok)
	})
	reply := Reply{Text: strings.TrimSpace(strings.TrimSuffix(b.String(), m.Token())), Metrics: m}
	if err != nil {
		c.log.Warn().Err(err).Str("kind", engine.ErrorKind(err)).Msg("generation failed; exchange not recorded")
		return reply, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		c.log.Info().Msg("session deleted during generation; exchange dropped")
		return reply, store.ErrNotFound
	}
	c.window.Append(message, reply.Text)
	n := len(c.transcript)
	c.transcript = append(c.transcript,
		convo.TurnRecord{Role: convo.RoleUser, Text: message, Ordinal: n},
		convo.TurnRecord{Role: convo.RoleAssistant, Text: reply.Text, Ordinal: n + 1},
	)
	if epoch != c.epoch {
		// The prompt predates the grounding change.
		c.resetWindowLocked()
	}
	if c.title == "" || c.title == store.DefaultTitle {
		c.title = Title(message)
	}
	return reply, c.saveLocked(ctx)
}

// SetGrounding replaces any active grounding and resets the history window.
func (c *Conversation) SetGrounding(ctx context.Context, g convo.Grounding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grounding = &g
	c.resetWindowLocked()
	c.log.Info().Str("kind", string(g.Kind)).Str("source", g.Source).Bool("truncated", g.Truncated).Msg("grounding set")
	return c.saveLocked(ctx)
}

// ClearGrounding drops the active grounding and resets the history window.
func (c *Conversation) ClearGrounding(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grounding = nil
	c.resetWindowLocked()
	c.log.Info().Msg("grounding cleared")
	return c.saveLocked(ctx)
}

// Attach extracts source with x and installs the result as grounding.
// timeout bounds the extraction; zero means extract.DefaultAwaitTimeout.
func (c *Conversation) Attach(ctx context.Context, x extract.Extractor, source string, kind convo.GroundingKind, timeout time.Duration) (convo.Grounding, error) {
	if timeout <= 0 {
		timeout = extract.DefaultAwaitTimeout
	}
	xctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := extract.Run(xctx, x, source)
	if err != nil {
		return convo.Grounding{}, err
	}
	g := convo.NewGrounding(kind, source, text)
	return g, c.SetGrounding(ctx, g)
}

// Snapshot returns a copy of the conversation state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:        c.id,
		Title:     c.title,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
		Turns:     append([]convo.TurnRecord{}, c.transcript...),
		Window:    c.window.Turns(),
	}
	if c.grounding != nil {
		g := *c.grounding
		s.Grounding = &g
	}
	return s
}

// resetWindowLocked empties the window and keeps it empty across reloads.
func (c *Conversation) resetWindowLocked() {
	c.window.Reset()
	c.windowStart = len(c.transcript)
	c.epoch++
}

// markDeletedLocked stops every later save of c.
func (c *Conversation) markDeletedLocked() { c.deleted = true }

func (c *Conversation) saveLocked(ctx context.Context) error {
	if c.deleted {
		return store.ErrNotFound
	}
	c.updatedAt = time.Now().UTC()
	sess := &store.Session{
		ID:          c.id,
		UserID:      c.userID,
		Title:       c.title,
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
		Turns:       c.transcript,
		Grounding:   c.grounding,
		WindowStart: c.windowStart,
	}
	return c.sessions.Save(ctx, sess)
}

// Title derives a session title from the first user message.
func Title(message string) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) > TitleLength {
		return string(r[:TitleLength]) + "..."
	}
	return string(r)
}
