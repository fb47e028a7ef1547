package sweep

import (
	"context"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// Mover is the part of motion.Mover the sweep needs.
type Mover interface {
	Move(ctx context.Context, targets map[motion.Channel]float64) (motion.Result, error)
	Channels() []motion.Channel
}

// Params defines an autonomous sweep.
type Params struct {
	StartAngle float64       // preset angle of the return leg
	EndAngle   float64       // preset angle of the outbound leg
	Pause      time.Duration // rest at each end
	Cycles     int           // round trips; 0 = until cancelled
}

// Driver alternates every channel between two preset angles.
type Driver struct {
	mover  Mover
	params Params
}

func NewDriver(m Mover, p Params) *Driver {
	return &Driver{
		mover:  m,
		params: p,
	}
}

// Run sweeps to EndAngle, pauses, sweeps to StartAngle, pauses, and repeats
// until ctx is cancelled or Cycles round trips are done. Cancellation is a
// normal stop and returns nil; hardware errors end the sweep.
func (d *Driver) Run(ctx context.Context) error {
	debug.Section("Starting Sweep")
	debug.Value("Sweep start angle", d.params.StartAngle)
	debug.Value("Sweep end angle", d.params.EndAngle)

	legs := []float64{d.params.EndAngle, d.params.StartAngle}
	for cycle := 1; d.params.Cycles <= 0 || cycle <= d.params.Cycles; cycle++ {
		for _, angle := range legs {
			if ctx.Err() != nil {
				return nil
			}
			debug.Live("Cycle %d: moving all channels to %.1f°", cycle, angle)
			res, err := d.mover.Move(ctx, d.uniform(angle))
			if err != nil {
				return err
			}
			if res.Cancelled {
				return nil
			}
			if !sleep(ctx, d.params.Pause) {
				return nil
			}
		}
	}
	debug.Live("Sweep finished after %d cycle(s)", d.params.Cycles)
	return nil
}

func (d *Driver) uniform(angle float64) map[motion.Channel]float64 {
	targets := make(map[motion.Channel]float64)
	for _, ch := range d.mover.Channels() {
		targets[ch] = angle
	}
	return targets
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
