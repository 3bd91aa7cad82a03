package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dsuwu/go-dsuwu"
	"github.com/dsuwu/go-dsuwu/pad"
	"github.com/dsuwu/go-dsuwu/producer"
)

// buildSlotSpec resolves a producer spec string:
//
//	""            / "none"         leave the slot disconnected
//	"idle"                         force-connected, no producer
//	"circle" "cross" "square" "triangle"
//	                               demo pulse loops
//	"pulse:<btn>[,<btn>...]"       pulse an arbitrary button set
//	"replay:<path>[,<motion>]"     replay a captured JSONL file
//	"dsu://host:port/slot"         mirror a remote DSU server's slot
func buildSlotSpec(spec string) (dsuwu.SlotSpec, error) {
	switch strings.ToLower(spec) {
	case "", "none":
		return dsuwu.NoneSlot(), nil
	case "idle":
		return dsuwu.IdleSlot(), nil
	case "circle":
		return dsuwu.ProducerSlot(producer.Circle()), nil
	case "cross":
		return dsuwu.ProducerSlot(producer.Cross()), nil
	case "square":
		return dsuwu.ProducerSlot(producer.Square()), nil
	case "triangle":
		return dsuwu.ProducerSlot(producer.Triangle()), nil
	}

	switch {
	case strings.HasPrefix(spec, "pulse:"):
		return buildPulseSpec(strings.TrimPrefix(spec, "pulse:"))
	case strings.HasPrefix(spec, "replay:"):
		return buildReplaySpec(strings.TrimPrefix(spec, "replay:"))
	case strings.HasPrefix(spec, "dsu://"):
		return buildForwardSpec(strings.TrimPrefix(spec, "dsu://"))
	}

	return dsuwu.SlotSpec{}, fmt.Errorf("unknown producer spec %q", spec)
}

func buildPulseSpec(names string) (dsuwu.SlotSpec, error) {
	var buttons []pad.Button
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		b, ok := pad.ButtonByName(name)
		if !ok {
			return dsuwu.SlotSpec{}, fmt.Errorf("unknown button %q", name)
		}
		buttons = append(buttons, b)
	}
	if len(buttons) == 0 {
		return dsuwu.SlotSpec{}, fmt.Errorf("pulse spec names no buttons")
	}
	return dsuwu.ProducerSlot(&producer.Pulse{Buttons: buttons}), nil
}

func buildReplaySpec(arg string) (dsuwu.SlotSpec, error) {
	parts := strings.SplitN(arg, ",", 2)
	if parts[0] == "" {
		return dsuwu.SlotSpec{}, fmt.Errorf("replay spec names no file")
	}
	r := &producer.Replay{Path: parts[0], Slot: producer.SlotAll}
	if len(parts) == 2 {
		r.MotionPath = parts[1]
	}
	return dsuwu.ProducerSlot(r), nil
}

func buildForwardSpec(arg string) (dsuwu.SlotSpec, error) {
	host, slotStr, ok := strings.Cut(arg, "/")
	if !ok || host == "" {
		return dsuwu.SlotSpec{}, fmt.Errorf("forward spec wants dsu://host:port/slot")
	}
	slot, err := strconv.ParseUint(slotStr, 10, 8)
	if err != nil {
		return dsuwu.SlotSpec{}, fmt.Errorf("invalid remote slot %q", slotStr)
	}
	return dsuwu.ProducerSlot(producer.NewForward(host, uint8(slot))), nil
}
