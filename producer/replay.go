package producer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dsuwu/go-dsuwu/pad"
)

// SlotAll replays every slot found in the capture instead of remapping
// entries onto the assigned slot.
const SlotAll = -1

// replayEntry is one JSON-Lines record from an input or motion capture.
// Input and motion captures share the time/slot envelope; the remaining
// fields identify which kind a record is.
type replayEntry struct {
	Time float64 `json:"time"`
	Slot int     `json:"slot"`

	// input capture fields
	Connected   *bool     `json:"connected,omitempty"`
	Buttons1    uint8     `json:"buttons1"`
	Buttons2    uint8     `json:"buttons2"`
	Home        bool      `json:"home"`
	TouchButton bool      `json:"touch_button"`
	LS          *[2]uint8 `json:"ls,omitempty"`
	RS          *[2]uint8 `json:"rs,omitempty"`
	Dpad        [4]uint8  `json:"dpad"`
	Face        [4]uint8  `json:"face"`
	AnalogR1    uint8     `json:"analog_r1"`
	AnalogL1    uint8     `json:"analog_l1"`
	AnalogR2    uint8     `json:"analog_r2"`
	AnalogL2    uint8     `json:"analog_l2"`
	Touch1      *touchRec `json:"touch1,omitempty"`
	Touch2      *touchRec `json:"touch2,omitempty"`

	// motion capture fields
	MotionTS uint64      `json:"motion_ts"`
	Accel    *[3]float32 `json:"accel,omitempty"`
	Gyro     *[3]float32 `json:"gyro,omitempty"`
}

type touchRec struct {
	Active bool      `json:"active"`
	ID     uint8     `json:"id"`
	Pos    [2]uint16 `json:"pos"`
}

// isMotion tells the two record kinds apart: motion captures carry accel
// or gyro data and no stick fields.
func (e *replayEntry) isMotion() bool {
	return e.Accel != nil || e.Gyro != nil
}

// Replay feeds captured input (and optionally motion) records back into
// a slot, honoring the inter-record timing. Undecodable lines are
// skipped, matching the capture tools' tolerance for truncated files.
type Replay struct {
	// Path is the JSON-Lines input capture.
	Path string

	// MotionPath optionally points at a motion capture replayed
	// alongside, merged by record time.
	MotionPath string

	// Slot filters the capture: only records for this slot play back,
	// remapped onto the assigned slot. SlotAll replays every slot under
	// its own number.
	Slot int
}

// NewReplay replays one captured slot.
func NewReplay(path string, slot int) *Replay {
	return &Replay{Path: path, Slot: slot}
}

// entryScanner pulls decodable records off one capture file.
type entryScanner struct {
	scanner *bufio.Scanner
}

func (s *entryScanner) next() *replayEntry {
	if s == nil {
		return nil
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e replayEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		return &e
	}
	return nil
}

// Run implements the producer contract.
func (r *Replay) Run(ctx context.Context, pads *pad.Store, slot int) error {
	inputs, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("open input capture: %w", err)
	}
	defer inputs.Close()

	var motionFile io.Closer
	var motion *entryScanner
	if r.MotionPath != "" {
		f, err := os.Open(r.MotionPath)
		if err != nil {
			return fmt.Errorf("open motion capture: %w", err)
		}
		motionFile = f
		motion = &entryScanner{scanner: bufio.NewScanner(f)}
	}
	if motionFile != nil {
		defer motionFile.Close()
	}

	in := &entryScanner{scanner: bufio.NewScanner(inputs)}
	nextInput := in.next()
	var nextMotion *replayEntry
	if motion != nil {
		nextMotion = motion.next()
	}

	var prevTime float64
	havePrev := false

	for nextInput != nil || nextMotion != nil {
		// merge the two streams by record time
		useMotion := nextMotion != nil && (nextInput == nil || nextMotion.Time <= nextInput.Time)
		var entry *replayEntry
		if useMotion {
			entry = nextMotion
			nextMotion = motion.next()
		} else {
			entry = nextInput
			nextInput = in.next()
		}

		if r.Slot != SlotAll && entry.Slot != r.Slot {
			continue
		}

		if havePrev {
			delay := time.Duration((entry.Time - prevTime) * float64(time.Second))
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
			}
		}
		prevTime = entry.Time
		havePrev = true

		if ctx.Err() != nil {
			return nil
		}

		target := slot
		if r.Slot == SlotAll {
			target = entry.Slot
		}
		if err := pads.Update(target, entry.apply); err != nil {
			return err
		}
	}
	return nil
}

// apply copies a record into the live state.
func (e *replayEntry) apply(s *pad.State) {
	if e.isMotion() {
		s.MotionTimestamp = e.MotionTS
		if e.Accel != nil {
			s.Accel = *e.Accel
		}
		if e.Gyro != nil {
			s.Gyro = *e.Gyro
		}
		return
	}

	if e.Connected != nil {
		s.Connected = *e.Connected
	}
	s.Buttons1 = e.Buttons1
	s.Buttons2 = e.Buttons2
	s.Home = e.Home
	s.TouchButton = e.TouchButton
	if e.LS != nil {
		s.LStickX, s.LStickY = e.LS[0], e.LS[1]
	} else {
		s.LStickX, s.LStickY = pad.StickCenter, pad.StickCenter
	}
	if e.RS != nil {
		s.RStickX, s.RStickY = e.RS[0], e.RS[1]
	} else {
		s.RStickX, s.RStickY = pad.StickCenter, pad.StickCenter
	}
	s.DpadAnalog = e.Dpad
	s.FaceAnalog = e.Face
	s.AnalogR1 = e.AnalogR1
	s.AnalogL1 = e.AnalogL1
	s.AnalogR2 = e.AnalogR2
	s.AnalogL2 = e.AnalogL2
	s.Touch1 = touchOf(e.Touch1)
	s.Touch2 = touchOf(e.Touch2)
}

func touchOf(rec *touchRec) pad.Touch {
	if rec == nil {
		return pad.Touch{}
	}
	return pad.Touch{
		Active: rec.Active,
		ID:     rec.ID,
		X:      rec.Pos[0],
		Y:      rec.Pos[1],
	}
}
