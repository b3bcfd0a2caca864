package extract

import (
	"context"
	"fmt"
	"time"
)

// DefaultAwaitTimeout caps how long Await waits for a callback.
const DefaultAwaitTimeout = 5 * time.Second

type outcome struct {
	text string
	err  error
}

// Await runs start, which must eventually call done exactly once from any
// goroutine, and waits for that call, ctx or timeout. A non-positive timeout
// means DefaultAwaitTimeout. Calls to done after Await has returned are
// dropped.
func Await(ctx context.Context, timeout time.Duration, start func(done func(string, error))) (string, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	ch := make(chan outcome, 1)
	start(func(text string, err error) {
		select {
		case ch <- outcome{text: text, err: err}:
		default:
		}
	})
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o := <-ch:
		return o.text, o.err
	case <-t.C:
		return "", fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Callback adapts a callback-style engine into an Extractor with a timeout.
type Callback struct {
	Timeout time.Duration
	Start   func(source string, done func(string, error))
}

func (c Callback) Extract(ctx context.Context, source string) (string, error) {
	text, err := Await(ctx, c.Timeout, func(done func(string, error)) { c.Start(source, done) })
	if err != nil {
		return "", ErrExtraction(source, err)
	}
	return text, nil
}
