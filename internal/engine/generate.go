package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"genied/internal/channel"
	"genied/internal/protocol"
)

// Generate sends prompt to the model and streams word tokens to onToken as
// they are decoded. Every call, including failed ones, ends with exactly one
// onToken(m.Token()) carrying the call's metrics; its error is ignored.
// Concurrent callers are serialized and ctx bounds both the wait for the
// slot and the generation itself.
func (s *Session) Generate(ctx context.Context, prompt string, onToken func(string) error) (Metrics, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		m := newMeter(ModeNone).finish()
		_ = onToken(m.Token())
		observeGeneration(m, err)
		return m, err
	}
	defer release()

	s.mu.Lock()
	s.generations++
	state := s.state
	s.mu.Unlock()
	s.pub.Publish(Event{Name: "generate_start", Fields: map[string]any{"state": state.String()}})

	m, err := s.run(ctx, prompt, onToken)
	_ = onToken(m.Token())

	observeGeneration(m, err)
	fields := map[string]any{"mode": string(m.Mode), "tokens": m.Tokens}
	ev := s.log.Info()
	if err != nil {
		fields["error"] = err.Error()
		ev = s.log.Warn().Err(err)
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
	}
	ev.Str("event", "generate_done").Str("mode", string(m.Mode)).Int("tokens", m.Tokens).
		Float64("tok_s", m.TokensPerSecond).Int64("ttft_ms", m.TimeToFirstToken.Milliseconds()).
		Msg("generation finished")
	s.pub.Publish(Event{Name: "generate_done", Fields: fields})
	return m, err
}

// run dispatches on state. The slot is held.
func (s *Session) run(ctx context.Context, prompt string, onToken func(string) error) (Metrics, error) {
	s.mu.Lock()
	state, ch, stale := s.state, s.ch, s.stale
	s.mu.Unlock()

	if state == StateReady && stale {
		if err := s.drainPending(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return newMeter(ModePersistent).finish(), ctx.Err()
			}
			s.degrade(ch, "stale_drain", err)
			state = s.State()
		} else {
			s.mu.Lock()
			s.stale = false
			s.mu.Unlock()
		}
	}

	switch state {
	case StateReady:
		return s.exchange(ctx, ch, prompt, onToken)
	case StateClosed:
		return newMeter(ModeNone).finish(), ErrClosed
	default:
		return s.oneShot(ctx, prompt, onToken)
	}
}

// exchange performs one request/reply on the persistent channel.
func (s *Session) exchange(ctx context.Context, ch *channel.Channel, prompt string, onToken func(string) error) (Metrics, error) {
	mt := newMeter(ModePersistent)
	s.log.Debug().Str("event", "send").Int("bytes", len(prompt)).Msg("sending prompt to persistent channel")
	if err := ch.WriteLine(protocol.Encode(prompt)); err != nil {
		s.degrade(ch, "write", err)
		return mt.finish(), s.closedOr(exchangeError{stage: "write", err: err})
	}

	var dec protocol.Decoder
	for !dec.Done() {
		line, err := ch.ReadLineContext(ctx, s.cfg.LineTimeout)
		if err != nil {
			if errors.Is(err, channel.ErrTimeout) || ctx.Err() != nil {
				s.markStale(ch)
				if ctx.Err() != nil {
					return mt.finish(), ctx.Err()
				}
				return mt.finish(), fmt.Errorf("persistent read: %w", err)
			}
			if !dec.Begun() {
				s.degrade(ch, "no_begin", err)
				return mt.finish(), s.closedOr(protocolError{err: fmt.Errorf("%w: %v", protocol.ErrNoBegin, err)})
			}
			s.degrade(ch, "read", err)
			return mt.finish(), s.closedOr(exchangeError{stage: "read", err: err})
		}
		s.log.Debug().Str("line", line).Msg("reply line")
		toks, _ := dec.Feed(line)
		for _, tok := range toks {
			if err := mt.deliver(onToken, tok); err != nil {
				if !dec.Done() {
					s.markStale(ch)
				}
				return mt.finish(), err
			}
		}
	}
	if err := dec.Err(); err != nil {
		// [END] arrived without [BEGIN]:; the framing can no longer be trusted.
		s.degrade(ch, "no_begin", err)
		return mt.finish(), protocolError{err: err}
	}
	return mt.finish(), nil
}

// drainPending discards the rest of an abandoned exchange up to its [END].
func (s *Session) drainPending(ctx context.Context, ch *channel.Channel) error {
	s.log.Debug().Str("event", "drain").Msg("draining abandoned reply")
	for {
		line, err := ch.ReadLineContext(ctx, s.cfg.LineTimeout)
		if err != nil {
			return fmt.Errorf("drain abandoned reply: %w", err)
		}
		if strings.Contains(line, protocol.EndMarker) {
			return nil
		}
	}
}

func (s *Session) markStale(ch *channel.Channel) {
	s.mu.Lock()
	if s.ch == ch {
		s.stale = true
	}
	s.mu.Unlock()
}

// closedOr reports ErrClosed in place of err once the session is shut down,
// since Shutdown is what broke the channel.
func (s *Session) closedOr(err error) error {
	if s.State() == StateClosed {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
