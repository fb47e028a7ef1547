package motion

import "sync"

// Sink makes a physical actuator seek an angle. Implementations should
// return a *HardwareError; the scheduler wraps anything else in one.
type Sink interface {
	SetAngle(ch Channel, angle float64) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ch Channel, angle float64) error

func (f SinkFunc) SetAngle(ch Channel, angle float64) error {
	return f(ch, angle)
}

// Write is one recorded SetAngle call.
type Write struct {
	Channel Channel
	Angle   float64
}

// RecordingSink is a Sink that records every write. It is used by tests
// and by the mock hardware setup.
type RecordingSink struct {
	mu     sync.Mutex
	writes []Write

	// Fail, if set, is consulted before recording call n (0-based).
	// A non-nil return fails that write.
	Fail func(n int, ch Channel, angle float64) error
	// OnWrite, if set, runs after each successful write.
	OnWrite func(n int, ch Channel, angle float64)
}

func (r *RecordingSink) SetAngle(ch Channel, angle float64) error {
	r.mu.Lock()
	n := len(r.writes)
	if r.Fail != nil {
		if err := r.Fail(n, ch, angle); err != nil {
			r.mu.Unlock()
			return &HardwareError{Channel: ch, Cause: err}
		}
	}
	r.writes = append(r.writes, Write{Channel: ch, Angle: angle})
	onWrite := r.OnWrite
	r.mu.Unlock()

	if onWrite != nil {
		onWrite(n, ch, angle)
	}
	return nil
}

// Writes returns a copy of all recorded writes.
func (r *RecordingSink) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// WritesFor returns the recorded angles for one channel, in order.
func (r *RecordingSink) WritesFor(ch Channel) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, w := range r.writes {
		if w.Channel == ch {
			out = append(out, w.Angle)
		}
	}
	return out
}
