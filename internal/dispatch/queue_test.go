package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDrain_FIFOOrder(t *testing.T) {
	q := NewQueue()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() { got = append(got, i) })
	}

	if n := q.Drain(); n != 5 {
		t.Fatalf("Drain ran %d actions, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("action order at %d = %d, want %d", i, v, i)
		}
	}
}

func TestDrain_SelfEnqueueDeferredToNextPass(t *testing.T) {
	q := NewQueue()

	ran := 0
	q.Enqueue(func() {
		ran++
		q.Enqueue(func() { ran++ })
	})

	if n := q.Drain(); n != 1 {
		t.Fatalf("first Drain ran %d actions, want 1", n)
	}
	if ran != 1 {
		t.Fatalf("after first drain ran = %d, want 1", ran)
	}
	if n := q.Drain(); n != 1 {
		t.Fatalf("second Drain ran %d actions, want 1", n)
	}
	if ran != 2 {
		t.Errorf("after second drain ran = %d, want 2", ran)
	}
}

func TestEnqueue_Nil(t *testing.T) {
	q := NewQueue()
	q.Enqueue(nil)
	if q.Len() != 0 {
		t.Errorf("Len = %d after nil enqueue, want 0", q.Len())
	}
}

func TestEnqueue_ConcurrentProducersAllRunOnce(t *testing.T) {
	q := NewQueue()

	const producers = 8
	const perProducer = 50

	var mu sync.Mutex
	seen := make(map[int][]int) // producer -> sequence numbers in execution order

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				i := i
				q.Enqueue(func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()

	total := 0
	for q.Len() > 0 {
		total += q.Drain()
	}
	if total != producers*perProducer {
		t.Fatalf("drained %d actions, want %d", total, producers*perProducer)
	}

	// Per-producer order must be preserved even when interleaved.
	for p, seq := range seen {
		for i, v := range seq {
			if v != i {
				t.Errorf("producer %d: execution order at %d = %d, want %d", p, i, v, i)
				break
			}
		}
	}
}

func TestRun_DrainsOnTick(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	q.Enqueue(func() { close(done) })

	go q.Run(ctx, time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued action was not drained by Run loop")
	}
}
