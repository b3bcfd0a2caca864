// Package channel owns a child inference process and exposes a line oriented
// view over its standard streams.
//
// A Channel runs two background goroutines for the life of the process: a
// stdout pump feeding ReadLine, and a diagnostic drain copying stderr into the
// logger. Neither blocks the other.
package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Spec describes how to launch the inference binary.
type Spec struct {
	// WorkDir is both the process working directory and the dynamic loader
	// search path (LD_LIBRARY_PATH).
	WorkDir string
	// Binary is resolved inside WorkDir unless absolute.
	Binary string
	Args   []string
	// Env entries are appended to the inherited environment.
	Env    []string
	Logger *zerolog.Logger
}

func (s Spec) binaryPath() string {
	if filepath.IsAbs(s.Binary) || s.WorkDir == "" {
		return s.Binary
	}
	return filepath.Join(s.WorkDir, s.Binary)
}

func (s Spec) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.binaryPath(), s.Args...)
	cmd.Dir = s.WorkDir
	env := append(os.Environ(), s.Env...)
	if s.WorkDir != "" {
		env = append(env, "LD_LIBRARY_PATH="+s.WorkDir)
	}
	cmd.Env = env
	return cmd
}

func (s Spec) logger() zerolog.Logger {
	if s.Logger == nil {
		return zerolog.Nop()
	}
	return s.Logger.With().Str("binary", s.Binary).Logger()
}

// Channel is one live child process. WriteLine and ReadLine may be called
// from different goroutines, but the owner must serialize exchanges.
type Channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	log    zerolog.Logger
	diag   *tail

	lines    chan string
	eos      chan struct{} // closed when the stdout pump returns
	diagDone chan struct{}
	procDone chan struct{} // closed when the process has exited
	exited   chan struct{} // closed once the process is reaped and both streams drained
	stop     chan struct{}

	writeMu  sync.Mutex
	closed   atomic.Bool
	stopOnce sync.Once
	exitCode atomic.Int64
}

// Start spawns the process described by spec.
func Start(spec Spec) (*Channel, error) {
	cmd := spec.command(context.Background())
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, startError{binary: spec.Binary, err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, startError{binary: spec.Binary, err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, startError{binary: spec.Binary, err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, startError{binary: spec.Binary, err: err}
	}
	c := &Channel{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		log:      spec.logger().With().Int("pid", cmd.Process.Pid).Logger(),
		diag:     newTail(diagTailBytes),
		lines:    make(chan string),
		eos:      make(chan struct{}),
		diagDone: make(chan struct{}),
		procDone: make(chan struct{}),
		exited:   make(chan struct{}),
		stop:     make(chan struct{}),
	}
	c.exitCode.Store(-1)
	go c.pump(stdout)
	go drainDiagnostics(stderr, c.log, c.diag, c.diagDone)
	go c.wait()
	go c.reap()
	c.log.Info().Str("event", "start").Str("dir", spec.WorkDir).Msg("process started")
	return c, nil
}

// pump is the only reader of stdout.
func (c *Channel) pump(r io.Reader) {
	defer close(c.eos)
	sc := newScanner(r)
	for sc.Scan() {
		select {
		case c.lines <- sc.Text():
		case <-c.stop:
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.log.Warn().Err(err).Msg("stdout scan stopped")
		_, _ = io.Copy(io.Discard, r)
	}
}

// wait observes process exit without touching the pipes, so lines the pump
// still holds stay readable after the child is gone.
func (c *Channel) wait() {
	ps, err := c.cmd.Process.Wait()
	if ps != nil {
		c.exitCode.Store(int64(ps.ExitCode()))
	}
	close(c.procDone)
	c.log.Info().Str("event", "exit").Int64("code", c.exitCode.Load()).AnErr("wait", err).Msg("process exited")
}

// reap releases the pipes once the process is gone and both readers are done.
func (c *Channel) reap() {
	<-c.procDone
	<-c.eos
	<-c.diagDone
	c.closed.Store(true)
	_ = c.stdout.Close()
	_ = c.stderr.Close()
	c.writeMu.Lock()
	_ = c.stdin.Close()
	c.writeMu.Unlock()
	close(c.exited)
}

// WriteLine writes text followed by a newline to the process stdin.
func (c *Channel) WriteLine(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrWrite
	}
	if _, err := io.WriteString(c.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// ReadLine returns the next stdout line. A timeout <= 0 waits indefinitely.
// On ErrTimeout no line is consumed.
func (c *Channel) ReadLine(timeout time.Duration) (string, error) {
	return c.ReadLineContext(context.Background(), timeout)
}

// ReadLineContext is ReadLine that also returns ctx.Err() when ctx is done.
func (c *Channel) ReadLineContext(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.eos:
		return "", ErrEndOfStream
	case <-expired:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// IsAlive reports whether the process is still running. It turns false on
// exit even while unread output remains buffered.
func (c *Channel) IsAlive() bool {
	select {
	case <-c.procDone:
		return false
	default:
		return true
	}
}

// Terminate closes the streams and kills the process if it is still running.
// It is idempotent and unblocks any pending ReadLine.
func (c *Channel) Terminate() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		_ = c.stdin.Close()
		if c.IsAlive() && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		select {
		case <-c.exited:
		case <-time.After(2 * time.Second):
			c.log.Warn().Str("event", "terminate_timeout").Msg("process not reaped in time")
		}
		c.log.Info().Str("event", "terminate").Msg("channel terminated")
	})
}

// Exited is closed once the process has been reaped.
func (c *Channel) Exited() <-chan struct{} { return c.exited }

// Diagnostics returns the tail of the process diagnostic stream.
func (c *Channel) Diagnostics() string { return c.diag.String() }

// Pid returns the process id.
func (c *Channel) Pid() int { return c.cmd.Process.Pid }

// ExitCode returns the exit code, or -1 while the process runs.
func (c *Channel) ExitCode() int { return int(c.exitCode.Load()) }
