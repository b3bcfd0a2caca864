package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerateUninitializedUsesOneShot(t *testing.T) {
	s, pub := newSession(t, nil)
	rec := newRecorder()
	m, err := s.Generate(context.Background(), "cold start", rec.onToken)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	words, _ := rec.split(t)
	if m.Mode != ModeOneShot || !slices.Equal(words, []string{"one-shot ", "cold ", "start "}) {
		t.Fatalf("unexpected result %+v %q", m, words)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("fallback changed state to %v", s.State())
	}
	if !slices.Contains(pub.Names(), "fallback_spawn") {
		t.Fatalf("missing fallback_spawn in %v", pub.Names())
	}
}

func TestOneShotFailures(t *testing.T) {
	t.Run("diagnostics", func(t *testing.T) {
		s, _ := newSession(t, nil, "FAKE_GENIE_ONESHOT=diag")
		rec := newRecorder()
		m, err := s.Generate(context.Background(), "q", rec.onToken)
		text, ok := DiagnosticText(err)
		if !ok || !strings.Contains(text, "failed to load model") {
			t.Fatalf("want diagnostic error, got %v", err)
		}
		if ExitCode(err) != 2 || ErrorKind(err) != "diagnostic" {
			t.Fatalf("exit %d kind %q", ExitCode(err), ErrorKind(err))
		}
		if _, metrics := rec.split(t); m.Tokens != 0 || !strings.HasPrefix(metrics, "\n\n[Metrics: 0 tokens") {
			t.Fatalf("unexpected metrics %+v %q", m, metrics)
		}
	})
	t.Run("no output", func(t *testing.T) {
		s, _ := newSession(t, nil, "FAKE_GENIE_ONESHOT=empty")
		rec := newRecorder()
		_, err := s.Generate(context.Background(), "q", rec.onToken)
		if !IsNoOutput(err) || ExitCode(err) != 4 {
			t.Fatalf("want no output error with exit 4, got %v", err)
		}
		if !strings.Contains(err.Error(), "exit code: 4") {
			t.Fatalf("message should carry exit code: %q", err.Error())
		}
		rec.split(t)
	})
	t.Run("spawn", func(t *testing.T) {
		s, _ := newSession(t, func(c *Config) { c.OneShotBinary = "missing-t2t" })
		rec := newRecorder()
		_, err := s.Generate(context.Background(), "q", rec.onToken)
		if !IsProcessStartError(err) || ErrorKind(err) != "start" {
			t.Fatalf("want process start error, got %v", err)
		}
		rec.split(t)
	})
}

func TestPersistentFailuresDegrade(t *testing.T) {
	cases := []struct {
		mode  string
		check func(error) bool
		words []string
	}{
		{"midexit", IsExchangeError, []string{"partial "}},
		{"nobegin", IsProtocolError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			s, _ := newSession(t, nil, "FAKE_GENIE_MODE="+tc.mode)
			if st := s.Start(context.Background()); st != StateReady {
				t.Fatalf("Start: %v", st)
			}
			rec := newRecorder()
			m, err := s.Generate(context.Background(), "q", rec.onToken)
			if !tc.check(err) {
				t.Fatalf("unexpected error %v (%s)", err, ErrorKind(err))
			}
			words, _ := rec.split(t)
			if !slices.Equal(words, tc.words) || m.Tokens != len(tc.words) {
				t.Fatalf("partial tokens: want %q, got %q (%+v)", tc.words, words, m)
			}
			if s.State() != StateDegraded {
				t.Fatalf("want degraded, got %v", s.State())
			}
		})
	}
}

func TestLineTimeoutKeepsChannel(t *testing.T) {
	s, _ := newSession(t, func(c *Config) { c.LineTimeout = 150 * time.Millisecond }, "FAKE_GENIE_MODE=slow")
	if st := s.Start(context.Background()); st != StateReady {
		t.Fatalf("Start: %v", st)
	}
	pid := s.Status().Pid
	rec := newRecorder()
	_, err := s.Generate(context.Background(), "first", rec.onToken)
	if !IsTimeout(err) || ErrorKind(err) != "timeout" {
		t.Fatalf("want timeout, got %v", err)
	}
	if words, _ := rec.split(t); !slices.Equal(words, []string{"first "}) {
		t.Fatalf("unexpected partial %q", words)
	}
	if s.State() != StateReady {
		t.Fatalf("timeout must not degrade, got %v", s.State())
	}

	// Let the abandoned reply finish; the next call drains it first.
	time.Sleep(600 * time.Millisecond)
	rec = newRecorder()
	m, err := s.Generate(context.Background(), "second", rec.onToken)
	if err != nil {
		t.Fatalf("Generate after timeout: %v", err)
	}
	words, _ := rec.split(t)
	if m.Mode != ModePersistent || !slices.Equal(words, []string{"you ", "said ", "second "}) {
		t.Fatalf("stale reply leaked: %+v %q", m, words)
	}
	if s.Status().Pid != pid {
		t.Fatalf("channel was replaced")
	}
}

func TestStaleDrainFailureFallsBack(t *testing.T) {
	s, _ := newSession(t, func(c *Config) { c.LineTimeout = 100 * time.Millisecond }, "FAKE_GENIE_MODE=slow")
	if st := s.Start(context.Background()); st != StateReady {
		t.Fatalf("Start: %v", st)
	}
	if _, err := s.Generate(context.Background(), "first", newRecorder().onToken); !IsTimeout(err) {
		t.Fatalf("want timeout, got %v", err)
	}
	rec := newRecorder()
	m, err := s.Generate(context.Background(), "second", rec.onToken)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.Mode != ModeOneShot || s.State() != StateDegraded {
		t.Fatalf("want one-shot after failed drain, got %v in %v", m.Mode, s.State())
	}
}

func TestCallbackErrorStopsDelivery(t *testing.T) {
	s, _ := newSession(t, nil)
	if st := s.Start(context.Background()); st != StateReady {
		t.Fatalf("Start: %v", st)
	}
	stop := errors.New("client went away")
	rec := newRecorder()
	rec.failOn, rec.failErr = 1, stop
	m, err := s.Generate(context.Background(), "one two", rec.onToken)
	if !errors.Is(err, stop) || ErrorKind(err) != "callback" {
		t.Fatalf("want callback error, got %v", err)
	}
	if words, _ := rec.split(t); len(words) != 1 || m.Tokens != 1 {
		t.Fatalf("delivery continued after error: %q", words)
	}
	if s.State() != StateReady {
		t.Fatalf("callback error degraded the session: %v", s.State())
	}
	rec = newRecorder()
	if _, err := s.Generate(context.Background(), "three", rec.onToken); err != nil {
		t.Fatalf("next Generate: %v", err)
	}
	if words, _ := rec.split(t); !slices.Equal(words, []string{"you ", "said ", "three "}) {
		t.Fatalf("unexpected tokens %q", words)
	}
}

func TestGenerateIsSerialized(t *testing.T) {
	s, _ := newSession(t, nil, "FAKE_GENIE_MODE=hold")
	if st := s.Start(context.Background()); st != StateReady {
		t.Fatalf("Start: %v", st)
	}
	first := newRecorder()
	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), "hold", first.onToken)
		done <- err
	}()
	select {
	case <-first.first:
	case <-time.After(5 * time.Second):
		t.Fatalf("first generation produced no token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	second := newRecorder()
	m, err := s.Generate(ctx, "queued", second.onToken)
	if !errors.Is(err, context.DeadlineExceeded) || m.Mode != ModeNone {
		t.Fatalf("want wait to time out, got %v (%v)", err, m.Mode)
	}
	second.split(t)

	// Shutdown aborts the in-flight call, which still ends with its metrics token.
	s.Shutdown()
	select {
	case err := <-done:
		if ErrorKind(err) != "closed" {
			t.Fatalf("want closed error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("in-flight generation not aborted by Shutdown")
	}
	if words, _ := first.split(t); !slices.Equal(words, []string{"thinking "}) {
		t.Fatalf("unexpected tokens %q", words)
	}
}

func TestShutdownAbortsOneShot(t *testing.T) {
	s, _ := newSession(t, nil, "FAKE_GENIE_ONESHOT=slow")
	rec := newRecorder()
	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), "q", rec.onToken)
		done <- err
	}()
	select {
	case <-rec.first:
	case <-time.After(5 * time.Second):
		t.Fatalf("one-shot produced no token")
	}
	s.Shutdown()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("want ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("one-shot not aborted")
	}
}
