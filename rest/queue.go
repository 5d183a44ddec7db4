package rest

import (
	"context"
	"sync"
)

// AsyncQueue admits callers one at a time in strict arrival order.
// The zero value is ready to use.
type AsyncQueue struct {
	mu      sync.Mutex
	pending []chan struct{}
}

// Wait blocks until every caller that entered before has called Shift.
// The caller must call Shift exactly once when Wait returns nil.
//
// If ctx is done first, Wait returns its error and the caller leaves the
// queue: its slot is released as soon as its turn comes, so callers
// behind it are not stranded.
func (q *AsyncQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	var prev chan struct{}
	if n := len(q.pending); n > 0 {
		prev = q.pending[n-1]
	}
	q.pending = append(q.pending, make(chan struct{}))
	q.mu.Unlock()

	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-prev
			q.Shift()
		}()
		return ctx.Err()
	}
}

// Shift ends the current caller's turn and admits the next one.
func (q *AsyncQueue) Shift() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return
	}
	close(q.pending[0])
	q.pending[0] = nil
	q.pending = q.pending[1:]
}

// Remaining returns the number of callers holding or waiting for a turn.
func (q *AsyncQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
