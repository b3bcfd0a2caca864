package engine

import (
	"context"
	"errors"
	"fmt"

	"genied/internal/channel"
	"genied/internal/protocol"
)

// ErrClosed is returned by Generate after Shutdown.
var ErrClosed = errors.New("engine: session closed")

// protocolError signals a reply that violated the framing (no [BEGIN]:).
type protocolError struct{ err error }

func (e protocolError) Error() string { return "protocol error: " + e.err.Error() }

func (e protocolError) Unwrap() error { return e.err }

// IsProtocolError reports whether err indicates a malformed or unframed reply.
func IsProtocolError(err error) bool {
	var pe protocolError
	return errors.As(err, &pe) || errors.Is(err, protocol.ErrNoBegin)
}

// exchangeError signals a persistent channel failing mid exchange.
type exchangeError struct {
	stage string
	err   error
}

func (e exchangeError) Error() string { return "persistent " + e.stage + ": " + e.err.Error() }

func (e exchangeError) Unwrap() error { return e.err }

// IsExchangeError reports whether err came from a broken persistent channel.
func IsExchangeError(err error) bool {
	var ee exchangeError
	return errors.As(err, &ee)
}

// processStartError signals the one-shot binary could not be spawned.
type processStartError struct{ err error }

func (e processStartError) Error() string { return "process start: " + e.err.Error() }

func (e processStartError) Unwrap() error { return e.err }

// IsProcessStartError reports whether the inference binary failed to spawn.
func IsProcessStartError(err error) bool {
	var pe processStartError
	return errors.As(err, &pe) || channel.IsStartError(err)
}

// noOutputError signals a one-shot run that produced no tokens and no diagnostics.
type noOutputError struct {
	exitCode int
	cause    error
}

func (e noOutputError) Error() string {
	return fmt.Sprintf("no output received. exit code: %d", e.exitCode)
}

func (e noOutputError) Unwrap() error { return e.cause }

// IsNoOutput reports whether a generation produced nothing and left no diagnostics.
func IsNoOutput(err error) bool {
	var ne noOutputError
	return errors.As(err, &ne)
}

// diagnosticError carries error text captured from the diagnostic stream.
type diagnosticError struct {
	text     string
	exitCode int
	cause    error
}

func (e diagnosticError) Error() string { return "error: " + e.text }

func (e diagnosticError) Unwrap() error { return e.cause }

// DiagnosticText returns the captured diagnostic text, if err carries any.
func DiagnosticText(err error) (string, bool) {
	var de diagnosticError
	if errors.As(err, &de) {
		return de.text, true
	}
	return "", false
}

// ExitCode returns the one-shot exit code carried by err, or -1.
func ExitCode(err error) int {
	var ne noOutputError
	if errors.As(err, &ne) {
		return ne.exitCode
	}
	var de diagnosticError
	if errors.As(err, &de) {
		return de.exitCode
	}
	return -1
}

// IsTimeout reports whether a per-line read timed out.
func IsTimeout(err error) bool { return errors.Is(err, channel.ErrTimeout) }

// ErrorKind classifies err for callers that surface failures to users.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, channel.ErrWrite):
		return "write"
	case IsProcessStartError(err):
		return "start"
	case func() bool { _, ok := DiagnosticText(err); return ok }():
		return "diagnostic"
	case IsNoOutput(err):
		return "no_output"
	case IsProtocolError(err):
		return "protocol"
	case IsExchangeError(err):
		return "exchange"
	default:
		return "callback"
	}
}
