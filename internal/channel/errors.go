package channel

import "errors"

var (
	// ErrWrite is returned by WriteLine when the process has exited or stdin is closed.
	ErrWrite = errors.New("channel write failed")
	// ErrTimeout is returned by ReadLine when no line arrived in time. The
	// channel remains usable.
	ErrTimeout = errors.New("channel read timed out")
	// ErrEndOfStream is returned by ReadLine once stdout is exhausted.
	ErrEndOfStream = errors.New("channel end of stream")
)

// startError signals that the binary could not be spawned.
type startError struct {
	binary string
	err    error
}

func (e startError) Error() string { return "start " + e.binary + ": " + e.err.Error() }

func (e startError) Unwrap() error { return e.err }

// IsStartError reports whether err came from spawning the process.
func IsStartError(err error) bool {
	var se startError
	return errors.As(err, &se)
}
