// Package servo maps servo angles onto pulse widths of a pwm.Driver.
package servo

import (
	"fmt"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/hw/pwm"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// Calibration describes which pulse widths reach the two ends of the
// actuation range. These must be tuned per servo model.
type Calibration struct {
	MinPulse       time.Duration // pulse at 0°
	MaxPulse       time.Duration // pulse at ActuationRange
	ActuationRange float64       // degrees covered by MinPulse..MaxPulse
}

// Validate checks the calibration is usable.
func (c Calibration) Validate() error {
	if c.MinPulse <= 0 || c.MaxPulse <= c.MinPulse {
		return fmt.Errorf("%w: pulse range %s-%s", motion.ErrInvalidConfiguration, c.MinPulse, c.MaxPulse)
	}
	if !(c.ActuationRange > 0) {
		return fmt.Errorf("%w: actuation range %g", motion.ErrInvalidConfiguration, c.ActuationRange)
	}
	return nil
}

// Pulse returns the pulse width for angle, clamped to the actuation range.
func (c Calibration) Pulse(angle float64) time.Duration {
	angle = motion.Clamp(angle, 0, c.ActuationRange)
	span := float64(c.MaxPulse - c.MinPulse)
	return c.MinPulse + time.Duration(angle/c.ActuationRange*span+0.5)
}

// Bank is a set of servos sharing one driver and one calibration.
// It implements motion.Sink.
type Bank struct {
	drv      pwm.Driver
	cal      Calibration
	channels map[motion.Channel]bool
}

// NewBank sets up every channel on drv.
func NewBank(drv pwm.Driver, cal Calibration, channels []motion.Channel) (*Bank, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	b := &Bank{
		drv:      drv,
		cal:      cal,
		channels: make(map[motion.Channel]bool, len(channels)),
	}
	for _, ch := range channels {
		if err := drv.SetupChannel(int(ch)); err != nil {
			return nil, fmt.Errorf("setup channel %d: %w", ch, err)
		}
		b.channels[ch] = true
	}
	debug.Verbose("Servo bank ready: %d channel(s), %s-%s over %g°", len(channels), cal.MinPulse, cal.MaxPulse, cal.ActuationRange)
	return b, nil
}

// SetAngle drives ch to angle.
func (b *Bank) SetAngle(ch motion.Channel, angle float64) error {
	if !b.channels[ch] {
		return &motion.HardwareError{Channel: ch, Cause: motion.ErrUnknownChannel}
	}
	if err := b.drv.SetPulse(int(ch), b.cal.Pulse(angle)); err != nil {
		return &motion.HardwareError{Channel: ch, Cause: err}
	}
	return nil
}

// Release stops the pulse on every channel so the servos go limp.
func (b *Bank) Release() error {
	var firstErr error
	for ch := range b.channels {
		if err := b.drv.SetPulse(int(ch), 0); err != nil && firstErr == nil {
			firstErr = &motion.HardwareError{Channel: ch, Cause: err}
		}
	}
	return firstErr
}
