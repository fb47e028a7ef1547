package motion

import (
	"fmt"
	"math"
	"sort"
)

// Step is the per-channel part of a Plan.
type Step struct {
	Channel   Channel
	Start     float64
	Target    float64
	Increment float64 // degrees per tick, may be fractional
}

// Plan is a synchronized move: every channel advances by its own
// increment once per tick, for the same number of ticks.
// A Plan is immutable once built.
type Plan struct {
	ticks          int
	actuationRange float64
	steps          []Step // ascending channel order
}

// Ticks returns the shared tick count (0 only for an empty plan).
func (p *Plan) Ticks() int {
	return p.ticks
}

// Range returns the actuation range the plan was clamped against.
func (p *Plan) Range() float64 {
	return p.actuationRange
}

// Empty reports whether the plan moves no channel at all.
func (p *Plan) Empty() bool {
	return len(p.steps) == 0
}

// Steps returns a copy of the per-channel steps in ascending channel order.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Target returns the clamped target angle for ch.
func (p *Plan) Target(ch Channel) (float64, bool) {
	for _, s := range p.steps {
		if s.Channel == ch {
			return s.Target, true
		}
	}
	return 0, false
}

// MaxTicks bounds the tick count of a single plan.
const MaxTicks = math.MaxInt32

// Interpolate builds a Plan moving every channel of targets from its angle
// in current to its (clamped) target in the same number of ticks.
//
// The tick count is floor(maxAbsDelta/stepSize) with a floor of 1, so a
// request that changes nothing still re-asserts every angle once. Each
// channel's increment is its own delta divided by that shared tick count.
// Out-of-range targets are clamped and a NaN target keeps the current angle.
func Interpolate(current, targets map[Channel]float64, stepSize, actuationRange float64) (*Plan, error) {
	if !(stepSize > 0) || math.IsInf(stepSize, 0) {
		return nil, fmt.Errorf("%w: step size must be > 0, got %g", ErrInvalidConfiguration, stepSize)
	}
	if !(actuationRange > 0) || math.IsInf(actuationRange, 0) {
		return nil, fmt.Errorf("%w: actuation range must be > 0, got %g", ErrInvalidConfiguration, actuationRange)
	}

	p := &Plan{actuationRange: actuationRange}
	if len(targets) == 0 {
		return p, nil
	}

	p.steps = make([]Step, 0, len(targets))
	maxAbsDelta := 0.0
	for ch, target := range targets {
		start, ok := current[ch]
		if !ok {
			return nil, unknownChannel(ch)
		}
		if math.IsNaN(target) {
			target = start
		}
		target = Clamp(target, 0, actuationRange)
		p.steps = append(p.steps, Step{Channel: ch, Start: start, Target: target})
		maxAbsDelta = math.Max(maxAbsDelta, math.Abs(target-start))
	}
	sort.Slice(p.steps, func(i, j int) bool { return p.steps[i].Channel < p.steps[j].Channel })

	ticks := math.Floor(maxAbsDelta / stepSize)
	if ticks > MaxTicks {
		return nil, fmt.Errorf("%w: step size %g needs %.0f ticks for a %g° move, limit is %d",
			ErrInvalidConfiguration, stepSize, ticks, maxAbsDelta, MaxTicks)
	}
	p.ticks = int(ticks)
	if p.ticks < 1 {
		p.ticks = 1
	}
	for i := range p.steps {
		s := &p.steps[i]
		s.Increment = (s.Target - s.Start) / float64(p.ticks)
	}
	return p, nil
}
