package dsuwu

import (
	"context"

	"github.com/dsuwu/go-dsuwu/pad"
)

// Producer is any task that writes slot state: scripted pulses, a
// captured-log replayer, a HID reader, a remote-DSU mirror. Run is a
// long-running call that must return promptly once ctx is cancelled.
// Producers mutate their assigned slot through the store's write API;
// slot ids are ints because slots above 255 may exist internally even
// though they can never appear on the wire.
type Producer interface {
	Run(ctx context.Context, pads *pad.Store, slot int) error
}

// ProducerFunc adapts a plain function to the Producer interface.
type ProducerFunc func(ctx context.Context, pads *pad.Store, slot int) error

// Run implements Producer
func (f ProducerFunc) Run(ctx context.Context, pads *pad.Store, slot int) error {
	return f(ctx, pads, slot)
}

// SlotSpec declares what drives one slot. The zero value leaves the slot
// disconnected (the NONE sentinel); Idle forces the slot connected with
// no producer task behind it.
type SlotSpec struct {
	Producer Producer
	Idle     bool

	// MAC optionally overrides the slot's generated MAC address,
	// in AA:BB:CC:DD:EE:FF or AABBCCDDEEFF notation.
	MAC string
}

// NoneSlot leaves a slot disconnected.
func NoneSlot() SlotSpec {
	return SlotSpec{}
}

// IdleSlot forces a slot to appear connected with no input behind it.
func IdleSlot() SlotSpec {
	return SlotSpec{Idle: true}
}

// ProducerSlot assigns a producer to a slot.
func ProducerSlot(p Producer) SlotSpec {
	return SlotSpec{Producer: p}
}
