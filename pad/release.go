package pad

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// releaseEntry is one deferred callback keyed by absolute deadline. seq
// breaks ties so equal deadlines run in schedule order.
type releaseEntry struct {
	at  time.Time
	seq uint64
	fn  func()
}

type releaseHeap []releaseEntry

func (h releaseHeap) Len() int { return len(h) }

func (h releaseHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h releaseHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *releaseHeap) Push(x any) { *h = append(*h, x.(releaseEntry)) }

func (h *releaseHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// ReleaseScheduler runs deferred state mutations for the pulse helpers.
// One worker goroutine waits for the earliest deadline; scheduling an
// earlier entry re-signals the wait. Callbacks fire no earlier than their
// deadline, with no further real-time guarantee.
type ReleaseScheduler struct {
	mu    sync.Mutex
	queue releaseHeap
	seq   uint64
	wake  chan struct{}

	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReleaseScheduler creates a scheduler ticking on clock.
func NewReleaseScheduler(clock clockwork.Clock) *ReleaseScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReleaseScheduler{
		wake:   make(chan struct{}, 1),
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (r *ReleaseScheduler) Start() {
	go r.run()
}

// Stop cancels the worker and waits for it to exit. Pending callbacks are
// discarded.
func (r *ReleaseScheduler) Stop() {
	r.cancel()
	<-r.done
}

// Schedule inserts fn to run once delay has elapsed. Negative delays are
// clamped to zero, which runs fn on the worker's next wake-up.
func (r *ReleaseScheduler) Schedule(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	at := r.clock.Now().Add(delay)
	r.mu.Lock()
	r.seq++
	heap.Push(&r.queue, releaseEntry{at: at, seq: r.seq, fn: fn})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of callbacks not yet fired.
func (r *ReleaseScheduler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *ReleaseScheduler) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			select {
			case <-r.ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}

		next := r.queue[0]
		now := r.clock.Now()
		if now.Before(next.at) {
			wait := next.at.Sub(now)
			r.mu.Unlock()
			timer := r.clock.NewTimer(wait)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				return
			case <-r.wake:
				// an earlier entry may have arrived
				timer.Stop()
			case <-timer.Chan():
			}
			continue
		}

		heap.Pop(&r.queue)
		r.mu.Unlock()
		next.fn()
	}
}
