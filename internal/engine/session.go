package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genied/internal/channel"
	"genied/internal/protocol"
)

// Session owns the persistent inference channel and the one-shot fallback.
// All methods are safe for concurrent use; generations are serialized.
type Session struct {
	cfg Config
	log zerolog.Logger
	pub EventPublisher

	genCh     chan struct{} // single in-flight slot
	closedCh  chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	state         State
	ch            *channel.Channel
	stale         bool // a timed out exchange is still pending on ch
	oneShotCancel context.CancelFunc
	degradations  uint64
	generations   uint64
	lastErr       string
}

// New constructs a Session in StateUninitialized. No process is spawned.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "engine").Logger()
	}
	s := &Session{
		cfg:      cfg,
		log:      log,
		pub:      cfg.Publisher,
		genCh:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
	observeState(StateUninitialized)
	return s
}

// Start launches the persistent channel and waits for the readiness line.
// It returns the resulting state and never fails: on a fatal line, early
// exit or ReadyTimeout the session is Degraded and generations use the
// one-shot path. Start is a no-op unless the session is Uninitialized.
func (s *Session) Start(ctx context.Context) State {
	release, err := s.acquire(ctx)
	if err != nil {
		return s.State()
	}
	defer release()
	if st := s.State(); st != StateUninitialized {
		return st
	}
	return s.launch(ctx)
}

// Restart terminates any channel and launches a fresh one. It is the only
// way out of StateDegraded.
func (s *Session) Restart(ctx context.Context) State {
	release, err := s.acquire(ctx)
	if err != nil {
		return s.State()
	}
	defer release()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return StateClosed
	}
	old := s.ch
	s.ch = nil
	s.stale = false
	s.setStateLocked(StateUninitialized)
	s.mu.Unlock()
	if old != nil {
		old.Terminate()
		s.pub.Publish(Event{Name: "channel_stop", Fields: map[string]any{"reason": "restart"}})
	}
	s.log.Info().Str("event", "restart").Msg("restarting persistent channel")
	return s.launch(ctx)
}

// launch runs with the generation slot held.
func (s *Session) launch(ctx context.Context) State {
	spec := s.spec(s.cfg.PersistentBinary, "-c", s.cfg.ConfigFile)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return StateClosed
	}
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	ch, err := channel.Start(spec)
	if err != nil {
		return s.failStart("spawn", err)
	}
	s.pub.Publish(Event{Name: "channel_start", Fields: map[string]any{"pid": ch.Pid()}})

	// Published before the handshake so Shutdown can terminate it.
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		ch.Terminate()
		return StateClosed
	}
	s.ch = ch
	s.mu.Unlock()

	reason, err := s.handshake(ctx, ch)
	if reason != "" {
		ch.Terminate()
		s.mu.Lock()
		if s.ch == ch {
			s.ch = nil
		}
		s.mu.Unlock()
		return s.failStart(reason, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return StateClosed
	}
	s.setStateLocked(StateReady)
	s.log.Info().Str("event", "ready").Int("pid", ch.Pid()).Msg("persistent channel ready")
	s.pub.Publish(Event{Name: "channel_ready", Fields: map[string]any{"pid": ch.Pid()}})
	return StateReady
}

// handshake reads lines until a readiness marker. A non-empty reason means
// the channel is unusable.
func (s *Session) handshake(ctx context.Context, ch *channel.Channel) (string, error) {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "ready_timeout", channel.ErrTimeout
		}
		line, err := ch.ReadLineContext(ctx, remaining)
		switch {
		case errors.Is(err, channel.ErrTimeout):
			return "ready_timeout", err
		case ctx.Err() != nil:
			return "canceled", ctx.Err()
		case err != nil:
			select {
			case <-ch.Exited():
			case <-time.After(time.Second):
			}
			if d := ch.Diagnostics(); d != "" {
				return "exited", diagnosticError{text: d, exitCode: ch.ExitCode(), cause: err}
			}
			return "exited", err
		}
		s.log.Debug().Str("line", line).Msg("handshake")
		if protocol.IsReady(line) {
			return "", nil
		}
		if protocol.IsFatal(line) {
			return "fatal", diagnosticError{text: line, exitCode: -1}
		}
	}
}

func (s *Session) failStart(reason string, err error) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
	}
	if s.state == StateClosed {
		return StateClosed
	}
	s.degradeLocked(reason)
	s.log.Warn().Str("event", "degraded").Str("reason", reason).Err(err).Msg("persistent channel unavailable; using one-shot mode")
	return StateDegraded
}

// degrade abandons ch if it is still the session's live channel.
func (s *Session) degrade(ch *channel.Channel, reason string, err error) {
	s.mu.Lock()
	if s.ch != ch || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.ch = nil
	s.stale = false
	if err != nil {
		s.lastErr = err.Error()
	}
	s.degradeLocked(reason)
	s.mu.Unlock()
	ch.Terminate()
	s.log.Warn().Str("event", "degraded").Str("reason", reason).Err(err).Msg("persistent channel failed; using one-shot mode")
}

func (s *Session) degradeLocked(reason string) {
	s.degradations++
	s.setStateLocked(StateDegraded)
	degradationsTotal.WithLabelValues(reason).Inc()
	s.pub.Publish(Event{Name: "channel_degraded", Fields: map[string]any{"reason": reason}})
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	observeState(st)
}

// Shutdown terminates the persistent channel and any in-flight one-shot
// process. It does not wait for the generation slot; an in-progress call is
// aborted and releases the slot itself.
func (s *Session) Shutdown() {
	s.closeOnce.Do(func() { close(s.closedCh) })
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateClosed)
	ch := s.ch
	s.ch = nil
	cancel := s.oneShotCancel
	s.oneShotCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Terminate()
	}
	s.log.Info().Str("event", "shutdown").Msg("session closed")
	s.pub.Publish(Event{Name: "channel_stop", Fields: map[string]any{"reason": "shutdown"}})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for status endpoints.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:        s.state,
		Degradations: s.degradations,
		Generations:  s.generations,
		LastError:    s.lastErr,
	}
	if s.ch != nil {
		st.Pid = s.ch.Pid()
	}
	return st
}

func (s *Session) spec(binary string, args ...string) channel.Spec {
	return channel.Spec{
		WorkDir: s.cfg.WorkDir,
		Binary:  binary,
		Args:    args,
		Env:     s.cfg.Env,
		Logger:  &s.log,
	}
}
