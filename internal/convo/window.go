// Package convo holds the conversation state fed into each prompt: a bounded
// window of recent turns, an optional grounding document, and the assembler
// that combines them with the user's message.
package convo

import (
	"strings"
	"sync"
)

// DefaultCapacity is the window size in records (three exchanges).
const DefaultCapacity = 6

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the prefix used when rendering the role into a prompt.
func (r Role) Label() string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// TurnRecord is one message. Ordinal increases monotonically within a
// conversation and survives eviction.
type TurnRecord struct {
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

// Window is a sliding window over the most recent turns. Eviction always
// removes whole exchanges from the front. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	cap   int
	turns []TurnRecord
	next  int
}

// NewWindow returns a window holding at most capacity records. Values below
// 2 fall back to DefaultCapacity; odd values round down.
func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	capacity -= capacity % 2
	return &Window{cap: capacity}
}

// Append adds a full exchange, evicting the oldest exchanges to stay in bounds.
func (w *Window) Append(userText, assistantText string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns,
		TurnRecord{Role: RoleUser, Text: userText, Ordinal: w.next},
		TurnRecord{Role: RoleAssistant, Text: assistantText, Ordinal: w.next + 1},
	)
	w.next += 2
	// A rebuilt window may open mid exchange; evict up to the next user turn
	// so the front never holds a lone half.
	for len(w.turns) > w.cap || w.turns[0].Role != RoleUser {
		n := 1
		for n < len(w.turns) && w.turns[n].Role != RoleUser {
			n++
		}
		w.turns = w.turns[n:]
	}
	// Keep the backing array from growing without bound.
	w.turns = append([]TurnRecord(nil), w.turns...)
}

// Rebuild replaces the contents with the last Cap() records of history.
func (w *Window) Rebuild(history []TurnRecord) { w.RebuildFrom(history, 0) }

// RebuildFrom is Rebuild restricted to records with Ordinal >= from. Ordinals
// of later appends continue after the whole of history.
func (w *Window) RebuildFrom(history []TurnRecord, from int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var kept []TurnRecord
	w.next = 0
	for _, t := range history {
		if t.Ordinal >= from {
			kept = append(kept, t)
		}
		if t.Ordinal >= w.next {
			w.next = t.Ordinal + 1
		}
	}
	if len(kept) > w.cap {
		kept = kept[len(kept)-w.cap:]
	}
	w.turns = kept
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
}

// Turns returns a copy of the records in insertion order.
func (w *Window) Turns() []TurnRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TurnRecord(nil), w.turns...)
}

// Len returns the number of records held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Cap returns the capacity in records, always even.
func (w *Window) Cap() int { return w.cap }

// Render formats the window as prompt history.
func (w *Window) Render() string { return Render(w.Turns()) }

// Render formats turns as "User: ...\n" / "Assistant: ...\n" lines.
func Render(turns []TurnRecord) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role.Label())
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
