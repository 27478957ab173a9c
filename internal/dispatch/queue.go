package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/embodiedxr/npc-gateway/internal/observability"
)

// Queue is a FIFO of deferred actions bridging producer goroutines
// (recognizer callbacks, stream readers, watchers) to the single session
// goroutine that owns UI-visible state. Enqueue is safe from any
// goroutine; exactly one consumer must drain.
type Queue struct {
	mu      sync.Mutex
	pending []func()
}

// NewQueue creates an empty dispatch queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an action to the queue. It never blocks and may be
// called from any goroutine. Nil actions are ignored.
func (q *Queue) Enqueue(action func()) {
	if action == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, action)
	depth := len(q.pending)
	q.mu.Unlock()

	observability.SetDispatchQueueDepth(depth)
}

// Drain runs every action queued at the moment of the call, in FIFO
// order, on the caller's goroutine. Actions enqueued while draining
// (including by a running action) are left for the next call, so a
// self-enqueueing action cannot starve the tick.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, action := range batch {
		action()
	}
	if len(batch) > 0 {
		observability.SetDispatchQueueDepth(q.Len())
	}
	return len(batch)
}

// Len reports the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue once per tick until ctx is cancelled. This is
// the consumer loop; callers must not drain from other goroutines while
// Run is active.
func (q *Queue) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Drain()
		}
	}
}
