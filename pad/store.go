package pad

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
)

// StoreError is a well-typed failure from a Store setter. Invalid
// arguments are rejected before any field is touched.
type StoreError string

func (e StoreError) Error() string {
	return string(e)
}

const (
	ErrNegativeSlot          StoreError = "slot index cannot be negative"
	ErrInvalidMAC            StoreError = "invalid MAC address"
	ErrInvalidConnectionType StoreError = "invalid connection type"
	ErrUnknownMotor          StoreError = "motor id out of range"
)

// macSpace is the number of distinct 6-byte MAC addresses. Generated
// addresses recycle above it.
const macSpace = uint64(1) << 48

// slotEntry pairs a slot's state with its own lock so readers of separate
// slots never block on each other.
type slotEntry struct {
	mu    sync.Mutex
	state State
}

// StoreConfig configures a slot store.
type StoreConfig struct {
	// Deadzone is the stick drift tolerance for the idle test.
	Deadzone uint8
	// MotorCount is the number of rumble motors per slot.
	MotorCount int
	// Clock supplies motor timestamps; tests inject a fake.
	Clock  clockwork.Clock
	Logger interfaces.Logger
}

// Store is the shared slot-state table. One instance is shared by all
// producers and the dispatcher. All mutation goes through Update or the
// typed setters, which serialize per slot and raise the coalescing dirty
// signal.
type Store struct {
	mu    sync.RWMutex // guards the slot and MAC maps, not slot fields
	slots map[int]*slotEntry
	macs  map[int][6]byte

	dirty chan struct{}

	deadzone   uint8
	motorCount int
	clock      clockwork.Clock
	logger     interfaces.Logger

	recycleWarn sync.Once
}

// NewStore creates an empty slot store.
func NewStore(config StoreConfig) *Store {
	if config.Deadzone == 0 {
		config.Deadzone = constants.DefaultStickDeadzone
	}
	if config.MotorCount <= 0 {
		config.MotorCount = constants.DefaultMotorCount
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	return &Store{
		slots:      make(map[int]*slotEntry),
		macs:       make(map[int][6]byte),
		dirty:      make(chan struct{}, 1),
		deadzone:   config.Deadzone,
		motorCount: config.MotorCount,
		clock:      config.Clock,
		logger:     config.Logger,
	}
}

// Deadzone returns the configured stick deadzone.
func (st *Store) Deadzone() uint8 {
	return st.deadzone
}

// Clock returns the store's clock. Components that must agree with the
// store about time (motor expiry, registration TTLs) share it.
func (st *Store) Clock() clockwork.Clock {
	return st.clock
}

// Ensure creates a default state and a generated MAC for slot if absent.
// It is idempotent and safe from any goroutine.
func (st *Store) Ensure(slot int) error {
	if slot < 0 {
		return ErrNegativeSlot
	}
	st.mu.Lock()
	if _, ok := st.slots[slot]; !ok {
		entry := &slotEntry{state: defaultState(st.motorCount)}
		st.slots[slot] = entry
	}
	if _, ok := st.macs[slot]; !ok {
		st.macs[slot] = st.generateMAC(slot)
	}
	st.mu.Unlock()
	return nil
}

// generateMAC encodes the slot index big-endian into 6 bytes, modulo 2^48.
// Callers hold st.mu.
func (st *Store) generateMAC(slot int) [6]byte {
	idx := uint64(slot)
	if idx >= macSpace {
		st.recycleWarn.Do(func() {
			st.logger.Warnf("MAC addresses recycle for slots above 2^48")
		})
		idx %= macSpace
	}
	var mac [6]byte
	for i := 5; i >= 0; i-- {
		mac[i] = byte(idx)
		idx >>= 8
	}
	return mac
}

// MAC returns the slot's MAC address, materializing a generated one on
// first read.
func (st *Store) MAC(slot int) [6]byte {
	st.mu.RLock()
	mac, ok := st.macs[slot]
	st.mu.RUnlock()
	if ok {
		return mac
	}
	st.mu.Lock()
	mac, ok = st.macs[slot]
	if !ok {
		mac = st.generateMAC(slot)
		st.macs[slot] = mac
	}
	st.mu.Unlock()
	return mac
}

// SetMAC overrides the slot's MAC address. The MAC table sits under the
// store-wide lock, not the slot lock, and the change does not raise the
// dirty signal.
func (st *Store) SetMAC(slot int, mac [6]byte) error {
	if slot < 0 {
		return ErrNegativeSlot
	}
	st.mu.Lock()
	st.macs[slot] = mac
	st.mu.Unlock()
	return nil
}

// SetMACString parses common MAC notations (AA:BB:CC:DD:EE:FF,
// AA-BB-CC-DD-EE-FF or AABBCCDDEEFF) and assigns the result. The address
// is validated before anything is applied.
func (st *Store) SetMACString(slot int, s string) error {
	mac, err := ParseMAC(s)
	if err != nil {
		return err
	}
	return st.SetMAC(slot, mac)
}

// ParseMAC converts a textual MAC address into its 6 raw bytes.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hex := make([]byte, 0, 12)
	for _, c := range s {
		switch {
		case c == ':' || c == '-' || c == ' ':
			continue
		case c >= '0' && c <= '9':
			hex = append(hex, byte(c-'0'))
		case c >= 'a' && c <= 'f':
			hex = append(hex, byte(c-'a'+10))
		case c >= 'A' && c <= 'F':
			hex = append(hex, byte(c-'A'+10))
		default:
			return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
		}
	}
	if len(hex) != 12 {
		return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	for i := 0; i < 6; i++ {
		mac[i] = hex[2*i]<<4 | hex[2*i+1]
	}
	return mac, nil
}

// Slots returns the known slot ids in ascending order.
func (st *Store) Slots() []int {
	st.mu.RLock()
	out := make([]int, 0, len(st.slots))
	for slot := range st.slots {
		out = append(out, slot)
	}
	st.mu.RUnlock()
	sort.Ints(out)
	return out
}

// entry returns the slot's entry, creating it if needed.
func (st *Store) entry(slot int) *slotEntry {
	st.mu.RLock()
	e, ok := st.slots[slot]
	st.mu.RUnlock()
	if ok {
		return e
	}
	_ = st.Ensure(slot)
	st.mu.RLock()
	e = st.slots[slot]
	st.mu.RUnlock()
	return e
}

// Snapshot returns a self-consistent copy of the slot's state. The second
// return is false if the slot has never been addressed.
func (st *Store) Snapshot(slot int) (State, bool) {
	st.mu.RLock()
	e, ok := st.slots[slot]
	st.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	out := e.state.clone()
	e.mu.Unlock()
	return out, true
}

// Update runs fn on the slot's state under its lock and raises the dirty
// signal. This is the producer write API: a reader observing the slot
// afterwards sees all of fn's changes or none.
func (st *Store) Update(slot int, fn func(*State)) error {
	if slot < 0 {
		return ErrNegativeSlot
	}
	e := st.entry(slot)
	e.mu.Lock()
	fn(&e.state)
	e.mu.Unlock()
	st.MarkDirty()
	return nil
}

// updateQuiet is Update without the dirty signal, for dispatcher-side
// bookkeeping (packet numbers, motor expiry) that must not wake itself.
func (st *Store) updateQuiet(slot int, fn func(*State)) {
	e := st.entry(slot)
	e.mu.Lock()
	fn(&e.state)
	e.mu.Unlock()
}

// SetIdle marks the slot as forced-connected regardless of input.
func (st *Store) SetIdle(slot int, idle bool) error {
	return st.Update(slot, func(s *State) {
		s.Idle = idle
		if idle {
			s.Connected = true
		}
	})
}

// SetConnectionType sets the slot's connection type. -1 disconnects the
// slot, 0 is N/A, 1 USB, 2 Bluetooth; anything else is rejected before
// the state is touched.
func (st *Store) SetConnectionType(slot int, connectionType int8) error {
	if slot < 0 {
		return ErrNegativeSlot
	}
	if connectionType < -1 || connectionType > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidConnectionType, connectionType)
	}
	return st.Update(slot, func(s *State) {
		s.ConnectionType = connectionType
	})
}

// SetMotor records a rumble intensity and stamps the motor's timestamp.
func (st *Store) SetMotor(slot int, motorID uint8, intensity uint8) error {
	now := st.clock.Now()
	var err error
	uerr := st.Update(slot, func(s *State) {
		if int(motorID) >= len(s.Motors) {
			err = ErrUnknownMotor
			return
		}
		s.Motors[motorID] = intensity
		s.MotorTimestamps[motorID] = now
	})
	if uerr != nil {
		return uerr
	}
	return err
}

// UpdateConnection re-derives the slot's connected flag from the idle
// test and returns the resulting snapshot. Called by the dispatcher once
// per slot per reconciliation pass; it does not raise the dirty signal.
func (st *Store) UpdateConnection(slot int) State {
	e := st.entry(slot)
	e.mu.Lock()
	e.state.updateConnection(st.deadzone)
	out := e.state.clone()
	e.mu.Unlock()
	return out
}

// AdvancePacket wraps the slot's packet number forward and clamps motors
// whose timestamps fell outside ttl. Dispatcher-only; quiet.
func (st *Store) AdvancePacket(slot int, ttl time.Duration) {
	now := st.clock.Now()
	st.updateQuiet(slot, func(s *State) {
		s.PacketNum++
		for i := range s.Motors {
			if s.Motors[i] != 0 && now.Sub(s.MotorTimestamps[i]) > ttl {
				s.Motors[i] = 0
			}
		}
	})
}

// SetQuietConnected force-sets the connected flag without raising the
// dirty signal. The dispatcher uses it when a slot soft-disconnects.
func (st *Store) SetQuietConnected(slot int, connected bool) {
	st.updateQuiet(slot, func(s *State) {
		s.Connected = connected
	})
}

// MarkDirty raises the coalescing dirty signal. Many writes between two
// reconciliations fold into one wake-up.
func (st *Store) MarkDirty() {
	select {
	case st.dirty <- struct{}{}:
	default:
	}
}

// Dirty is the wake channel the dispatcher multiplexes with the socket.
func (st *Store) Dirty() <-chan struct{} {
	return st.dirty
}

// ClearDirty drains a pending dirty signal after a reconciliation pass.
func (st *Store) ClearDirty() {
	select {
	case <-st.dirty:
	default:
	}
}
