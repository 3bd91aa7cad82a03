// Package producer ships the input producers bundled with the server:
// scripted button pulses, a captured-log replayer and a remote-DSU
// mirror. All of them drive slots through the pad store's write API and
// return promptly on cancellation.
package producer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/pad"
)

// Pulse presses a fixed button set for a few frames out of every cycle,
// the classic demo-loop behavior. Releases are timed through a release
// scheduler so the press width stays exact even if the producer tick
// jitters.
type Pulse struct {
	// Buttons pressed each cycle.
	Buttons []pad.Button

	// PressFrames is the press width in 60Hz frames (default: 3).
	PressFrames int

	// CycleFrames is the cycle length in 60Hz frames (default: 60).
	CycleFrames int

	// Scheduler times the releases. Nil means the producer runs a
	// private one for its lifetime.
	Scheduler *pad.ReleaseScheduler

	// Clock drives the cycle cadence; tests inject a fake.
	Clock clockwork.Clock
}

// SetScheduler lets the host hand over its process-wide release
// scheduler before the producer starts.
func (p *Pulse) SetScheduler(sched *pad.ReleaseScheduler) {
	p.Scheduler = sched
}

// Circle returns a pulse producer tapping circle once a second.
func Circle() *Pulse {
	return &Pulse{Buttons: []pad.Button{pad.ButtonCircle}}
}

// Cross returns a pulse producer tapping cross once a second.
func Cross() *Pulse {
	return &Pulse{Buttons: []pad.Button{pad.ButtonCross}}
}

// Square returns a pulse producer tapping square once a second.
func Square() *Pulse {
	return &Pulse{Buttons: []pad.Button{pad.ButtonSquare}}
}

// Triangle returns a pulse producer tapping triangle once a second.
func Triangle() *Pulse {
	return &Pulse{Buttons: []pad.Button{pad.ButtonTriangle}}
}

// Run implements the producer contract.
func (p *Pulse) Run(ctx context.Context, pads *pad.Store, slot int) error {
	pressFrames := p.PressFrames
	if pressFrames <= 0 {
		pressFrames = 3
	}
	cycleFrames := p.CycleFrames
	if cycleFrames <= pressFrames {
		cycleFrames = 60
	}
	clock := p.Clock
	if clock == nil {
		clock = pads.Clock()
	}

	sched := p.Scheduler
	if sched == nil {
		sched = pad.NewReleaseScheduler(clock)
		sched.Start()
		defer sched.Stop()
	}

	if err := pads.Ensure(slot); err != nil {
		return err
	}

	cycle := clock.NewTicker(constants.FrameDelay * time.Duration(cycleFrames))
	defer cycle.Stop()

	for {
		if err := pad.PulseButton(sched, pads, slot, pressFrames, p.Buttons...); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-cycle.Chan():
		}
	}
}
