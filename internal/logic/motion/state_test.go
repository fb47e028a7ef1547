package motion

import (
	"errors"
	"math"
	"testing"
)

func TestNewState_ClampsInitialAngles(t *testing.T) {
	s, err := NewState(180, map[Channel]float64{0: -5, 1: 90, 2: 400})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	want := map[Channel]float64{0: 0, 1: 90, 2: 180}
	for ch, w := range want {
		got, err := s.Get(ch)
		if err != nil {
			t.Fatalf("Get(%d): %v", ch, err)
		}
		if got != w {
			t.Errorf("Get(%d) = %v, want %v", ch, got, w)
		}
	}
}

func TestNewState_InvalidConfiguration(t *testing.T) {
	cases := []struct {
		name     string
		rangeDeg float64
		initial  map[Channel]float64
	}{
		{"zero_range", 0, map[Channel]float64{0: 90}},
		{"nan_range", math.NaN(), map[Channel]float64{0: 90}},
		{"negative_channel", 180, map[Channel]float64{-1: 90}},
		{"nan_initial", 180, map[Channel]float64{0: math.NaN()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewState(tc.rangeDeg, tc.initial); !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("err = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestState_SetClamps(t *testing.T) {
	s, _ := NewState(180, map[Channel]float64{0: 90})

	if err := s.Set(0, 200); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := s.Get(0); got != 180 {
		t.Errorf("after Set(200) = %v, want 180", got)
	}
	if err := s.Set(0, -10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := s.Get(0); got != 0 {
		t.Errorf("after Set(-10) = %v, want 0", got)
	}
}

func TestState_SetRejectsNaN(t *testing.T) {
	s, _ := NewState(180, map[Channel]float64{0: 90})
	if err := s.Set(0, math.NaN()); err == nil {
		t.Error("expected error for NaN angle")
	}
	if got, _ := s.Get(0); got != 90 {
		t.Errorf("angle changed to %v after rejected Set", got)
	}
}

func TestState_UnknownChannel(t *testing.T) {
	s, _ := NewState(180, map[Channel]float64{0: 90})

	if _, err := s.Get(5); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Get(5) err = %v, want ErrUnknownChannel", err)
	}
	if err := s.Set(5, 10); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Set(5) err = %v, want ErrUnknownChannel", err)
	}
	if len(s.Snapshot()) != 1 {
		t.Error("Set on unknown channel must not add it")
	}
}

func TestState_ChannelsSorted(t *testing.T) {
	s, _ := NewState(180, map[Channel]float64{7: 1, 0: 2, 3: 3})
	got := s.Channels()
	want := []Channel{0, 3, 7}
	if len(got) != len(want) {
		t.Fatalf("Channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Channels = %v, want %v", got, want)
			break
		}
	}
}

func TestState_SnapshotIsCopy(t *testing.T) {
	s, _ := NewState(180, map[Channel]float64{0: 90})
	snap := s.Snapshot()
	snap[0] = 10
	if got, _ := s.Get(0); got != 90 {
		t.Errorf("state mutated through snapshot: %v", got)
	}
}
