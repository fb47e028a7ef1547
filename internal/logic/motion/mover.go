package motion

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
)

// Config holds the motion parameters of a Mover.
type Config struct {
	StepSize  float64       // degrees moved per tick by the farthest-travelling channel
	TickDelay time.Duration // pause between ticks
	Home      map[Channel]float64
}

// Mover serializes moves against one State and one Sink. Only one move is
// ever in flight; Move queues behind it and TryMove rejects with ErrBusy.
type Mover struct {
	state *State
	sink  Sink
	sched *Scheduler
	step  float64
	home  map[Channel]float64
	chans []Channel

	slot chan struct{} // holds a token while a move is in flight

	mu     sync.Mutex
	live   map[Channel]float64 // last angles written, readable during a move
	cancel context.CancelFunc
}

// NewMover creates a Mover owning state. cfg.Home defaults to the angles
// in state at construction time.
func NewMover(state *State, sink Sink, cfg Config) (*Mover, error) {
	if !(cfg.StepSize > 0) || math.IsInf(cfg.StepSize, 0) {
		return nil, fmt.Errorf("%w: step size must be > 0, got %g", ErrInvalidConfiguration, cfg.StepSize)
	}
	if cfg.TickDelay < 0 {
		return nil, fmt.Errorf("%w: tick delay must be >= 0, got %s", ErrInvalidConfiguration, cfg.TickDelay)
	}
	home := cfg.Home
	if home == nil {
		home = state.Snapshot()
	}
	for ch := range home {
		if _, err := state.Get(ch); err != nil {
			return nil, fmt.Errorf("home position: %w", err)
		}
	}
	return &Mover{
		state: state,
		sink:  sink,
		sched: NewScheduler(cfg.TickDelay),
		step:  cfg.StepSize,
		home:  home,
		chans: state.Channels(),
		slot:  make(chan struct{}, 1),
		live:  state.Snapshot(),
	}, nil
}

// Move waits for any in-flight move to finish, then moves to targets.
// Channels absent from targets keep their angle.
func (m *Mover) Move(ctx context.Context, targets map[Channel]float64) (Result, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{Cancelled: true}, nil
	}
	defer func() { <-m.slot }()
	return m.run(ctx, targets)
}

// TryMove moves to targets, or returns ErrBusy if a move is in flight.
func (m *Mover) TryMove(ctx context.Context, targets map[Channel]float64) (Result, error) {
	select {
	case m.slot <- struct{}{}:
	default:
		return Result{}, ErrBusy
	}
	defer func() { <-m.slot }()
	return m.run(ctx, targets)
}

// Home moves every home channel back to its home angle in one move.
func (m *Mover) Home(ctx context.Context) (Result, error) {
	return m.Move(ctx, m.HomeAngles())
}

// HomeAngles returns a copy of the home position.
func (m *Mover) HomeAngles() map[Channel]float64 {
	out := make(map[Channel]float64, len(m.home))
	for ch, a := range m.home {
		out[ch] = a
	}
	return out
}

// Cancel stops the in-flight move between ticks. It is idempotent and
// safe to call from any goroutine, with or without a move in flight.
func (m *Mover) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Busy reports whether a move is in flight.
func (m *Mover) Busy() bool {
	return len(m.slot) > 0
}

// Snapshot returns the last angle written for every channel.
func (m *Mover) Snapshot() map[Channel]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Channel]float64, len(m.live))
	for ch, a := range m.live {
		out[ch] = a
	}
	return out
}

// Channels returns the configured channels in ascending order.
func (m *Mover) Channels() []Channel {
	out := make([]Channel, len(m.chans))
	copy(out, m.chans)
	return out
}

// Range returns the actuation range in degrees.
func (m *Mover) Range() float64 {
	return m.state.Range()
}

// StepSize returns the configured step size in degrees.
func (m *Mover) StepSize() float64 {
	return m.step
}

func (m *Mover) run(ctx context.Context, targets map[Channel]float64) (Result, error) {
	moveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
	}()

	plan, err := Interpolate(m.state.Snapshot(), targets, m.step, m.state.Range())
	if err != nil {
		return Result{}, err
	}
	res, err := m.sched.Execute(moveCtx, plan, m.state, SinkFunc(m.mirror))
	if err != nil {
		debug.Error(err)
	}
	return res, err
}

// mirror forwards to the real sink and records successful writes for Snapshot.
func (m *Mover) mirror(ch Channel, angle float64) error {
	if err := m.sink.SetAngle(ch, angle); err != nil {
		return err
	}
	m.mu.Lock()
	m.live[ch] = angle
	m.mu.Unlock()
	return nil
}
