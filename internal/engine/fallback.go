package engine

import (
	"context"
	"strings"

	"genied/internal/channel"
	"genied/internal/protocol"
)

// oneShot runs a fresh OneShotBinary for a single prompt. The process is
// fully reaped before returning; the persistent channel is left untouched.
func (s *Session) oneShot(ctx context.Context, prompt string, onToken func(string) error) (Metrics, error) {
	mt := newMeter(ModeOneShot)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return mt.finish(), ErrClosed
	}
	s.oneShotCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.oneShotCancel = nil
		s.mu.Unlock()
	}()

	spec := s.spec(s.cfg.OneShotBinary, "-c", s.cfg.ConfigFile, "-p", protocol.Encode(prompt))
	s.log.Info().Str("event", "fallback_spawn").Str("binary", s.cfg.OneShotBinary).Msg("using one-shot mode")
	s.pub.Publish(Event{Name: "fallback_spawn", Fields: map[string]any{"binary": s.cfg.OneShotBinary}})

	var dec protocol.Decoder
	var cbErr error
	res, err := channel.RunOnce(ctx, spec, func(line string) bool {
		s.log.Debug().Str("line", line).Msg("one-shot line")
		toks, done := dec.Feed(line)
		for _, tok := range toks {
			if cbErr = mt.deliver(onToken, tok); cbErr != nil {
				return false
			}
		}
		return !done
	})
	m := mt.finish()
	switch {
	case channel.IsStartError(err):
		return m, processStartError{err: err}
	case err != nil:
		if s.State() == StateClosed {
			return m, ErrClosed
		}
		return m, err
	case cbErr != nil:
		return m, cbErr
	}
	if m.Tokens > 0 {
		return m, nil
	}
	if diag := strings.TrimSpace(res.Diagnostics); diag != "" {
		return m, diagnosticError{text: diag, exitCode: res.ExitCode, cause: dec.Err()}
	}
	return m, noOutputError{exitCode: res.ExitCode, cause: dec.Err()}
}
