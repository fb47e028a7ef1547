// Package busservo drives Feetech STS/SCS serial bus servos as a motion.Sink.
package busservo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Config describes the bus and the position window mapped to the
// actuation range.
type Config struct {
	Port           string
	BaudRate       int
	Protocol       int // feetech.ProtocolSTS or feetech.ProtocolSCS
	Timeout        time.Duration
	Transport      feetech.Transport // optional, overrides Port
	MinPosition    int               // raw position at 0°
	MaxPosition    int               // raw position at ActuationRange
	ActuationRange float64
}

// Sink sends one goal position per SetAngle. The channel number is the
// servo ID on the bus.
type Sink struct {
	bus     *feetech.Bus
	servos  map[motion.Channel]*feetech.Servo
	cfg     Config
	timeout time.Duration
}

// Open opens the bus and enables torque on every channel.
func Open(ctx context.Context, cfg Config, channels []motion.Channel) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}

	debug.Info("Initializing Feetech bus on %s", cfg.Port)
	bus, err := feetech.NewBus(feetech.BusConfig{
		Transport: cfg.Transport,
		Port:      cfg.Port,
		BaudRate:  cfg.BaudRate,
		Protocol:  cfg.Protocol,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	s, err := New(bus, cfg, channels)
	if err != nil {
		bus.Close()
		return nil, err
	}
	for ch, servo := range s.servos {
		if err := servo.Enable(ctx); err != nil {
			bus.Close()
			return nil, fmt.Errorf("enable servo %d: %w", ch, err)
		}
	}
	return s, nil
}

// New wraps an already open bus without touching the servos.
func New(bus *feetech.Bus, cfg Config, channels []motion.Channel) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	s := &Sink{
		bus:     bus,
		servos:  make(map[motion.Channel]*feetech.Servo, len(channels)),
		cfg:     cfg,
		timeout: cfg.Timeout,
	}
	for _, ch := range channels {
		if ch < 0 || int(ch) > int(feetech.MaxServoID) {
			return nil, fmt.Errorf("%w: servo id %d", motion.ErrInvalidConfiguration, ch)
		}
		s.servos[ch] = feetech.NewServo(bus, int(ch), nil)
	}
	return s, nil
}

func (c Config) validate() error {
	if c.MaxPosition <= c.MinPosition || c.MinPosition < 0 {
		return fmt.Errorf("%w: position window %d-%d", motion.ErrInvalidConfiguration, c.MinPosition, c.MaxPosition)
	}
	if !(c.ActuationRange > 0) {
		return fmt.Errorf("%w: actuation range %g", motion.ErrInvalidConfiguration, c.ActuationRange)
	}
	return nil
}

// Position maps angle onto the configured position window.
func (s *Sink) Position(angle float64) int {
	return position(s.cfg, angle)
}

func position(cfg Config, angle float64) int {
	angle = motion.Clamp(angle, 0, cfg.ActuationRange)
	span := float64(cfg.MaxPosition - cfg.MinPosition)
	return cfg.MinPosition + int(math.Round(angle/cfg.ActuationRange*span))
}

// SetAngle writes the goal position of servo ch.
func (s *Sink) SetAngle(ch motion.Channel, angle float64) error {
	servo, ok := s.servos[ch]
	if !ok {
		return &motion.HardwareError{Channel: ch, Cause: motion.ErrUnknownChannel}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	pos := s.Position(angle)
	debug.Trace("feetech servo %d -> position %d", ch, pos)
	if err := servo.SetPosition(ctx, pos); err != nil {
		return &motion.HardwareError{Channel: ch, Cause: err}
	}
	return nil
}

// Release disables torque on every servo.
func (s *Sink) Release(ctx context.Context) error {
	var firstErr error
	for ch, servo := range s.servos {
		if err := servo.Disable(ctx); err != nil && firstErr == nil {
			firstErr = &motion.HardwareError{Channel: ch, Cause: err}
		}
	}
	return firstErr
}

// Close closes the bus.
func (s *Sink) Close() error {
	return s.bus.Close()
}
