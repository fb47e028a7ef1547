package motion

import (
	"context"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
)

// Result describes how far a plan got.
type Result struct {
	Ticks     int  // tick count of the plan
	Completed int  // ticks fully written
	Cancelled bool // stopped by ctx before the final snap
	Snapped   bool // final exact-snap written
}

// Scheduler walks a Plan one tick at a time.
type Scheduler struct {
	TickDelay time.Duration // pause after every tick
}

// NewScheduler creates a scheduler pacing ticks with tickDelay.
func NewScheduler(tickDelay time.Duration) *Scheduler {
	return &Scheduler{TickDelay: tickDelay}
}

// Execute runs plan against state and sink.
//
// Each tick writes every channel in ascending order, sink first and state
// second, then waits TickDelay. After the last tick every channel is snapped
// to its exact target. ctx is only observed between ticks: a cancelled move
// returns with Cancelled set, a nil error, and no snap.
//
// The first sink failure aborts the whole plan. The returned error is a
// *HardwareError and state keeps the last angle written for each channel.
func (s *Scheduler) Execute(ctx context.Context, plan *Plan, state *State, sink Sink) (Result, error) {
	res := Result{Ticks: plan.Ticks()}
	if plan.Empty() {
		return res, nil
	}
	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}

	debug.Move(len(plan.steps), plan.ticks)
	for _, st := range plan.steps {
		debug.Plan(int(st.Channel), st.Start, st.Target, st.Increment)
	}

	for tick := 1; tick <= plan.ticks; tick++ {
		for _, st := range plan.steps {
			cur, err := state.Get(st.Channel)
			if err != nil {
				return res, err
			}
			next := Clamp(cur+st.Increment, 0, plan.actuationRange)
			if err := write(sink, state, st.Channel, next); err != nil {
				return res, err
			}
			debug.Tick(tick, int(st.Channel), next)
		}
		res.Completed = tick

		if !s.wait(ctx) && tick < plan.ticks {
			debug.Live("Move cancelled after tick %d/%d", tick, plan.ticks)
			res.Cancelled = true
			return res, nil
		}
	}

	for _, st := range plan.steps {
		if err := write(sink, state, st.Channel, st.Target); err != nil {
			return res, err
		}
		debug.Snap(int(st.Channel), st.Target)
	}
	res.Snapped = true
	return res, nil
}

// wait blocks for TickDelay and reports false if ctx was cancelled.
func (s *Scheduler) wait(ctx context.Context) bool {
	if s.TickDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.TickDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func write(sink Sink, state *State, ch Channel, angle float64) error {
	if err := sink.SetAngle(ch, angle); err != nil {
		if _, ok := AsHardwareError(err); ok {
			return err
		}
		return &HardwareError{Channel: ch, Cause: err}
	}
	return state.Set(ch, angle)
}
