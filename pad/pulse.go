package pad

import (
	"time"

	"github.com/dsuwu/go-dsuwu/internal/constants"
)

// PulseButton presses the named buttons on slot immediately. When frames
// is positive a release fires after frames worth of 60Hz time, clearing
// exactly the buttons (and home/touch flags) that were set here. Other
// bits the slot holds are left alone.
func PulseButton(sched *ReleaseScheduler, store *Store, slot int, frames int, buttons ...Button) error {
	mask1, mask2, home, touch := Masks(buttons...)

	err := store.Update(slot, func(s *State) {
		s.Buttons1 |= mask1
		s.Buttons2 |= mask2
		if home {
			s.Home = true
		}
		if touch {
			s.TouchButton = true
		}
	})
	if err != nil {
		return err
	}

	if frames > 0 {
		sched.Schedule(framesToDuration(frames), func() {
			_ = store.Update(slot, func(s *State) {
				s.Buttons1 &^= mask1
				s.Buttons2 &^= mask2
				if home {
					s.Home = false
				}
				if touch {
					s.TouchButton = false
				}
			})
		})
	}
	return nil
}

// PulseButtonXor toggles the named buttons immediately. When frames is
// positive a second toggle fires after frames worth of 60Hz time, so the
// net effect is a pulse regardless of the starting state.
func PulseButtonXor(sched *ReleaseScheduler, store *Store, slot int, frames int, buttons ...Button) error {
	mask1, mask2, home, touch := Masks(buttons...)

	toggle := func(s *State) {
		s.Buttons1 ^= mask1
		s.Buttons2 ^= mask2
		if home {
			s.Home = !s.Home
		}
		if touch {
			s.TouchButton = !s.TouchButton
		}
	}

	if err := store.Update(slot, toggle); err != nil {
		return err
	}

	if frames > 0 {
		sched.Schedule(framesToDuration(frames), func() {
			_ = store.Update(slot, toggle)
		})
	}
	return nil
}

func framesToDuration(frames int) time.Duration {
	return time.Duration(frames) * constants.FrameDelay
}
