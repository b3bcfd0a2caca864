package engine

import "context"

// acquire takes the single in-flight slot. ctx only bounds the wait.
// Returns a release func to be deferred.
func (s *Session) acquire(ctx context.Context) (func(), error) {
	select {
	case <-s.closedCh:
		return func() {}, ErrClosed
	default:
	}
	select {
	case s.genCh <- struct{}{}:
		return func() { <-s.genCh }, nil
	case <-s.closedCh:
		return func() {}, ErrClosed
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}
