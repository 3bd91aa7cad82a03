package pad

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameDelay = time.Second / 60

func pulseFixture(t *testing.T) (*ReleaseScheduler, *Store, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	store := NewStore(StoreConfig{Clock: fc})
	sched := NewReleaseScheduler(fc)
	sched.Start()
	t.Cleanup(sched.Stop)
	return sched, store, fc
}

func buttons2Of(t *testing.T, store *Store, slot int) uint8 {
	t.Helper()
	snap, ok := store.Snapshot(slot)
	require.True(t, ok)
	return snap.Buttons2
}

// Three frames of circle: held before 50ms, released at 50ms.
func TestPulseButtonRelease(t *testing.T) {
	sched, store, fc := pulseFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, PulseButton(sched, store, 0, 3, ButtonCircle))
	assert.Equal(t, uint8(0x20), buttons2Of(t, store, 0))

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(49 * time.Millisecond)
	assert.Equal(t, uint8(0x20), buttons2Of(t, store, 0), "held before 3 frames elapse")

	fc.Advance(time.Millisecond)
	assert.Eventually(t, func() bool {
		return buttons2Of(t, store, 0) == 0
	}, time.Second, time.Millisecond)
}

func TestPulseButtonClearsOnlyItsOwnBits(t *testing.T) {
	sched, store, fc := pulseFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// another writer holds cross the whole time
	require.NoError(t, store.Update(0, func(s *State) { s.Buttons2 |= 0x40 }))

	require.NoError(t, PulseButton(sched, store, 0, 1, ButtonCircle, ButtonHome))
	snap, _ := store.Snapshot(0)
	assert.Equal(t, uint8(0x60), snap.Buttons2)
	assert.True(t, snap.Home)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(frameDelay)
	assert.Eventually(t, func() bool {
		snap, _ := store.Snapshot(0)
		return snap.Buttons2 == 0x40 && !snap.Home
	}, time.Second, time.Millisecond)
}

func TestPulseButtonZeroFramesNeverReleases(t *testing.T) {
	sched, store, _ := pulseFixture(t)

	require.NoError(t, PulseButton(sched, store, 0, 0, ButtonSquare))
	assert.Equal(t, uint8(0x80), buttons2Of(t, store, 0))
	assert.Zero(t, sched.Pending())
}

func TestPulseButtonGroupsAndMisc(t *testing.T) {
	sched, store, _ := pulseFixture(t)

	require.NoError(t, PulseButton(sched, store, 0, 0,
		ButtonShare, ButtonOptions, ButtonUp, ButtonTriangle, ButtonCross, ButtonTouch))

	snap, _ := store.Snapshot(0)
	assert.Equal(t, uint8(0x19), snap.Buttons1)
	assert.Equal(t, uint8(0x50), snap.Buttons2)
	assert.True(t, snap.TouchButton)
	assert.False(t, snap.Home)
}

func TestPulseButtonXorTogglesTwice(t *testing.T) {
	sched, store, fc := pulseFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// cross already held: the pulse inverts, then restores
	require.NoError(t, store.Update(0, func(s *State) { s.Buttons2 = 0x40 }))

	require.NoError(t, PulseButtonXor(sched, store, 0, 2, ButtonCross, ButtonCircle))
	assert.Equal(t, uint8(0x20), buttons2Of(t, store, 0))

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(2 * frameDelay)
	assert.Eventually(t, func() bool {
		return buttons2Of(t, store, 0) == 0x40
	}, time.Second, time.Millisecond)
}
