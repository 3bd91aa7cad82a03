package pad

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	return NewStore(StoreConfig{Clock: fc}), fc
}

func TestEnsureIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Ensure(2))
	require.NoError(t, store.Update(2, func(s *State) { s.Buttons1 = 0xFF }))
	require.NoError(t, store.Ensure(2))

	snap, ok := store.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, uint8(0xFF), snap.Buttons1, "Ensure must not reset existing state")

	assert.ErrorIs(t, store.Ensure(-1), ErrNegativeSlot)
}

func TestDefaultStateIsIdleAndDisconnected(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Ensure(0))

	snap := store.UpdateConnection(0)
	assert.True(t, snap.IsIdle(store.Deadzone()))
	assert.False(t, snap.Connected)
	assert.Equal(t, uint8(StickCenter), snap.LStickX)
	assert.Equal(t, uint8(StickCenter), snap.RStickY)
}

func TestIsIdle(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
		idle   bool
	}{
		{"untouched", func(s *State) {}, true},
		{"button held", func(s *State) { s.Buttons2 = 0x20 }, false},
		{"home held", func(s *State) { s.Home = true }, false},
		{"touch button", func(s *State) { s.TouchButton = true }, false},
		{"stick drift inside deadzone", func(s *State) { s.LStickX = StickCenter + 3 }, true},
		{"stick outside deadzone", func(s *State) { s.LStickX = StickCenter + 4 }, false},
		{"right stick low", func(s *State) { s.RStickY = 0 }, false},
		{"dpad pressure", func(s *State) { s.DpadAnalog[1] = 10 }, false},
		{"face pressure", func(s *State) { s.FaceAnalog[3] = 1 }, false},
		{"trigger", func(s *State) { s.AnalogL2 = 200 }, false},
		{"active touch", func(s *State) { s.Touch1 = Touch{Active: true, X: 5, Y: 5} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			require.NoError(t, store.Update(0, tt.mutate))
			snap, ok := store.Snapshot(0)
			require.True(t, ok)
			assert.Equal(t, tt.idle, snap.IsIdle(store.Deadzone()))
		})
	}
}

func TestUpdateConnection(t *testing.T) {
	store, _ := newTestStore(t)

	// activity implies connected
	require.NoError(t, store.Update(0, func(s *State) { s.Buttons1 = 0x10 }))
	assert.True(t, store.UpdateConnection(0).Connected)

	// releasing everything drops the connection again
	require.NoError(t, store.Update(0, func(s *State) { s.Buttons1 = 0 }))
	assert.False(t, store.UpdateConnection(0).Connected)

	// an idle-flagged slot stays connected regardless of input
	require.NoError(t, store.SetIdle(1, true))
	assert.True(t, store.UpdateConnection(1).Connected)
}

func TestGeneratedMACs(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Equal(t, [6]byte{0, 0, 0, 0, 0, 0}, store.MAC(0))
	assert.Equal(t, [6]byte{0, 0, 0, 0, 0, 1}, store.MAC(1))
	assert.Equal(t, [6]byte{0, 0, 0, 0, 1, 0}, store.MAC(256))

	// reads are memoized
	assert.Equal(t, store.MAC(1), store.MAC(1))
}

func TestSetMAC(t *testing.T) {
	store, _ := newTestStore(t)

	want := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	require.NoError(t, store.SetMACString(1, "AA:BB:CC:DD:EE:01"))
	assert.Equal(t, want, store.MAC(1))

	require.NoError(t, store.SetMACString(2, "aabbccddee01"))
	assert.Equal(t, want, store.MAC(2))

	assert.Error(t, store.SetMACString(3, "not-a-mac"))
	assert.Error(t, store.SetMACString(3, "AA:BB:CC:DD:EE"))
	assert.ErrorIs(t, store.SetMAC(-1, want), ErrNegativeSlot)

	// a failed parse must not have touched slot 3
	assert.Equal(t, [6]byte{0, 0, 0, 0, 0, 3}, store.MAC(3))
}

func TestSetConnectionType(t *testing.T) {
	store, _ := newTestStore(t)

	for _, ct := range []int8{-1, 0, 1, 2} {
		require.NoError(t, store.SetConnectionType(0, ct))
		snap, _ := store.Snapshot(0)
		assert.Equal(t, ct, snap.ConnectionType)
	}

	err := store.SetConnectionType(0, 3)
	assert.ErrorIs(t, err, ErrInvalidConnectionType)
	err = store.SetConnectionType(-1, 1)
	assert.ErrorIs(t, err, ErrNegativeSlot)
}

func TestDirtySignalCoalesces(t *testing.T) {
	store, _ := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Update(0, func(s *State) { s.Buttons1 = uint8(i) }))
	}

	select {
	case <-store.Dirty():
	default:
		t.Fatal("expected a pending dirty signal")
	}
	select {
	case <-store.Dirty():
		t.Fatal("dirty signal should coalesce to one wake-up")
	default:
	}
}

func TestClearDirty(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Update(0, func(s *State) { s.Home = true }))
	store.ClearDirty()
	select {
	case <-store.Dirty():
		t.Fatal("dirty signal survived ClearDirty")
	default:
	}
}

func TestSetMotorAndExpiry(t *testing.T) {
	store, fc := newTestStore(t)

	require.NoError(t, store.SetMotor(0, 1, 200))
	snap, _ := store.Snapshot(0)
	assert.Equal(t, uint8(200), snap.Motors[1])

	assert.ErrorIs(t, store.SetMotor(0, 9, 1), ErrUnknownMotor)

	// inside the TTL the intensity survives a pass
	fc.Advance(4 * time.Second)
	store.AdvancePacket(0, 5*time.Second)
	snap, _ = store.Snapshot(0)
	assert.Equal(t, uint8(200), snap.Motors[1])
	assert.Equal(t, uint32(1), snap.PacketNum)

	// past the TTL the motor clamps to zero
	fc.Advance(2 * time.Second)
	store.AdvancePacket(0, 5*time.Second)
	snap, _ = store.Snapshot(0)
	assert.Equal(t, uint8(0), snap.Motors[1])
	assert.Equal(t, uint32(2), snap.PacketNum)
}

func TestAdvancePacketWraps(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Update(0, func(s *State) { s.PacketNum = 0xFFFFFFFF }))
	store.ClearDirty()

	store.AdvancePacket(0, time.Second)
	snap, _ := store.Snapshot(0)
	assert.Equal(t, uint32(0), snap.PacketNum)

	// dispatcher bookkeeping must not raise the dirty signal
	select {
	case <-store.Dirty():
		t.Fatal("AdvancePacket raised the dirty signal")
	default:
	}
}

func TestSnapshotDoesNotAliasMotors(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.SetMotor(0, 0, 10))

	snap, _ := store.Snapshot(0)
	snap.Motors[0] = 99

	again, _ := store.Snapshot(0)
	assert.Equal(t, uint8(10), again.Motors[0])
}

func TestConcurrentSlotWriters(t *testing.T) {
	store, _ := newTestStore(t)
	var wg sync.WaitGroup
	for slot := 0; slot < 4; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = store.Update(slot, func(s *State) {
					s.Buttons1 ^= 0x01
					s.Buttons2 ^= 0x80
				})
			}
		}(slot)
	}
	wg.Wait()

	for slot := 0; slot < 4; slot++ {
		snap, ok := store.Snapshot(slot)
		require.True(t, ok)
		// both bytes flipped the same number of times, so they agree
		assert.Equal(t, snap.Buttons1 != 0, snap.Buttons2 != 0, "slot %d snapshot tore", slot)
	}
}

func TestSlotsSorted(t *testing.T) {
	store, _ := newTestStore(t)
	for _, slot := range []int{3, 0, 2, 1} {
		require.NoError(t, store.Ensure(slot))
	}
	assert.Equal(t, []int{0, 1, 2, 3}, store.Slots())
}
