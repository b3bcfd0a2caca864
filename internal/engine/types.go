package engine

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the persistent channel.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDegraded // persistent channel abandoned; one-shot until Restart
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode names the code path that served a generation.
type Mode string

const (
	ModePersistent Mode = "persistent"
	ModeOneShot    Mode = "one-shot"
	ModeNone       Mode = "none"
)

// Metrics summarizes one Generate call.
type Metrics struct {
	Mode             Mode
	Elapsed          time.Duration
	TimeToFirstToken time.Duration
	Tokens           int
	TokensPerSecond  float64
}

// Token renders the synthetic trailing token delivered after every call.
func (m Metrics) Token() string {
	if m.Mode == ModePersistent {
		return fmt.Sprintf("\n\n[⚡ Persistent Mode: %d tokens, %.1f tok/s, TTFT: %dms]",
			m.Tokens, m.TokensPerSecond, m.TimeToFirstToken.Milliseconds())
	}
	return fmt.Sprintf("\n\n[Metrics: %d tokens in %.2fs (%.1f tok/s), TTFT: %dms]",
		m.Tokens, m.Elapsed.Seconds(), m.TokensPerSecond, m.TimeToFirstToken.Milliseconds())
}

// meter accumulates Metrics while tokens are delivered.
type meter struct {
	mode   Mode
	start  time.Time
	first  time.Time
	tokens int
}

func newMeter(mode Mode) *meter { return &meter{mode: mode, start: time.Now()} }

// deliver counts tok and hands it to onToken.
func (mt *meter) deliver(onToken func(string) error, tok string) error {
	if mt.first.IsZero() {
		mt.first = time.Now()
	}
	mt.tokens++
	return onToken(tok)
}

func (mt *meter) finish() Metrics {
	m := Metrics{Mode: mt.mode, Elapsed: time.Since(mt.start), Tokens: mt.tokens}
	if !mt.first.IsZero() {
		m.TimeToFirstToken = mt.first.Sub(mt.start)
	}
	if ms := m.Elapsed.Milliseconds(); m.Tokens > 0 && ms > 0 {
		m.TokensPerSecond = float64(m.Tokens) * 1000 / float64(ms)
	}
	return m
}

// Status is a read-only projection of the session.
type Status struct {
	State        State
	Pid          int
	Degradations uint64
	Generations  uint64
	LastError    string
}
