package motion

import (
	"fmt"
	"math"
	"sort"
)

// Channel identifies one actuator, 0 <= Channel < N.
type Channel int

// State holds the current angle of every configured channel.
// It is not safe for concurrent use: a Mover owns it during a move.
type State struct {
	actuationRange float64
	angles         map[Channel]float64
}

// NewState creates a state covering exactly the channels in initial.
// Initial angles are clamped to [0, actuationRange].
func NewState(actuationRange float64, initial map[Channel]float64) (*State, error) {
	if !(actuationRange > 0) || math.IsInf(actuationRange, 0) {
		return nil, fmt.Errorf("%w: actuation range must be > 0, got %g", ErrInvalidConfiguration, actuationRange)
	}
	s := &State{
		actuationRange: actuationRange,
		angles:         make(map[Channel]float64, len(initial)),
	}
	for ch, a := range initial {
		if ch < 0 {
			return nil, fmt.Errorf("%w: negative channel %d", ErrInvalidConfiguration, ch)
		}
		if math.IsNaN(a) {
			return nil, fmt.Errorf("%w: channel %d initial angle is NaN", ErrInvalidConfiguration, ch)
		}
		s.angles[ch] = Clamp(a, 0, actuationRange)
	}
	return s, nil
}

// Get returns the current angle of ch.
func (s *State) Get(ch Channel) (float64, error) {
	a, ok := s.angles[ch]
	if !ok {
		return 0, unknownChannel(ch)
	}
	return a, nil
}

// Set stores angle for ch, clamped to [0, Range()].
func (s *State) Set(ch Channel, angle float64) error {
	if _, ok := s.angles[ch]; !ok {
		return unknownChannel(ch)
	}
	if math.IsNaN(angle) {
		return fmt.Errorf("channel %d: angle is NaN", ch)
	}
	s.angles[ch] = Clamp(angle, 0, s.actuationRange)
	return nil
}

// Range returns the actuation range in degrees.
func (s *State) Range() float64 {
	return s.actuationRange
}

// Channels returns the configured channels in ascending order.
func (s *State) Channels() []Channel {
	chs := make([]Channel, 0, len(s.angles))
	for ch := range s.angles {
		chs = append(chs, ch)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	return chs
}

// Snapshot returns a copy of all current angles.
func (s *State) Snapshot() map[Channel]float64 {
	out := make(map[Channel]float64, len(s.angles))
	for ch, a := range s.angles {
		out[ch] = a
	}
	return out
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
