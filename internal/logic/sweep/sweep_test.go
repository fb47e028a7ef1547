package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// recordingMover records requested targets and fakes completed moves.
type recordingMover struct {
	channels []motion.Channel
	moves    []map[motion.Channel]float64
	err      error
	onMove   func(n int)
}

func (r *recordingMover) Move(_ context.Context, targets map[motion.Channel]float64) (motion.Result, error) {
	r.moves = append(r.moves, targets)
	if r.onMove != nil {
		r.onMove(len(r.moves))
	}
	if r.err != nil {
		return motion.Result{}, r.err
	}
	return motion.Result{Ticks: 1, Completed: 1, Snapped: true}, nil
}

func (r *recordingMover) Channels() []motion.Channel {
	return r.channels
}

func TestDriver_AlternatesEndThenStart(t *testing.T) {
	m := &recordingMover{channels: []motion.Channel{0, 1, 2}}
	d := NewDriver(m, Params{StartAngle: 60, EndAngle: 120, Cycles: 2})

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{120, 60, 120, 60}
	if len(m.moves) != len(want) {
		t.Fatalf("moves = %d, want %d", len(m.moves), len(want))
	}
	for i, targets := range m.moves {
		if len(targets) != 3 {
			t.Errorf("move %d covers %d channels, want 3", i, len(targets))
		}
		for ch, a := range targets {
			if a != want[i] {
				t.Errorf("move %d ch%d = %v, want %v", i, ch, a, want[i])
			}
		}
	}
}

func TestDriver_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &recordingMover{
		channels: []motion.Channel{0},
		onMove: func(n int) {
			if n == 5 {
				cancel()
			}
		},
	}
	d := NewDriver(m, Params{StartAngle: 60, EndAngle: 120})

	if err := d.Run(ctx); err != nil {
		t.Fatalf("cancellation must return nil, got %v", err)
	}
	if len(m.moves) != 5 {
		t.Errorf("moves = %d, want 5", len(m.moves))
	}
}

func TestDriver_PauseInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &recordingMover{
		channels: []motion.Channel{0},
		onMove:   func(int) { cancel() },
	}
	d := NewDriver(m, Params{StartAngle: 0, EndAngle: 180, Pause: time.Hour})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pause was not interrupted by cancel")
	}
}

func TestDriver_StopsOnHardwareError(t *testing.T) {
	hwErr := &motion.HardwareError{Channel: 0, Cause: errors.New("bus fault")}
	m := &recordingMover{channels: []motion.Channel{0}, err: hwErr}
	d := NewDriver(m, Params{StartAngle: 60, EndAngle: 120})

	err := d.Run(context.Background())
	if !errors.Is(err, hwErr) {
		t.Errorf("err = %v, want hardware error", err)
	}
	if len(m.moves) != 1 {
		t.Errorf("moves = %d, want 1", len(m.moves))
	}
}

func TestDriver_WithRealMover(t *testing.T) {
	state, err := motion.NewState(180, map[motion.Channel]float64{0: 90, 1: 90})
	if err != nil {
		t.Fatal(err)
	}
	sink := &motion.RecordingSink{}
	mover, err := motion.NewMover(state, sink, motion.Config{StepSize: 1})
	if err != nil {
		t.Fatal(err)
	}

	d := NewDriver(mover, Params{StartAngle: 60, EndAngle: 120, Cycles: 1})
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := mover.Snapshot()
	if snap[0] != 60 || snap[1] != 60 {
		t.Errorf("after one cycle = %v, want both at 60", snap)
	}
	// 90->120: 30 ticks + snap, 120->60: 60 ticks + snap
	if n := len(sink.WritesFor(0)); n != 31+61 {
		t.Errorf("ch0 writes = %d, want %d", n, 31+61)
	}
}
