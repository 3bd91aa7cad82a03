package dsuwu

import (
	"context"
	"sync"
	"time"

	"github.com/dsuwu/go-dsuwu/pad"
)

// MockProducer provides a mock implementation of Producer for testing.
// It applies a configurable mutation at a fixed cadence and tracks its
// lifecycle for verification.
type MockProducer struct {
	// Interval between mutations (default: one 60Hz frame).
	Interval time.Duration

	// Mutate is applied to the assigned slot every interval. Nil means
	// "touch nothing but keep running".
	Mutate func(*pad.State)

	mu      sync.Mutex
	started bool
	stopped bool
	runs    int
	slot    int
}

// Run implements the Producer interface
func (m *MockProducer) Run(ctx context.Context, pads *pad.Store, slot int) error {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}

	m.mu.Lock()
	m.started = true
	m.slot = slot
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.stopped = true
			m.mu.Unlock()
			return nil
		case <-ticker.C:
			if m.Mutate != nil {
				if err := pads.Update(slot, m.Mutate); err != nil {
					return err
				}
			}
			m.mu.Lock()
			m.runs++
			m.mu.Unlock()
		}
	}
}

// Started reports whether Run has been entered
func (m *MockProducer) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stopped reports whether Run observed cancellation and returned
func (m *MockProducer) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Runs returns the number of completed mutation intervals
func (m *MockProducer) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// Slot returns the slot the producer was assigned
func (m *MockProducer) Slot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot
}
