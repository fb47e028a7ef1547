package pwm

import (
	"fmt"
	"sort"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// PWM clock: one count per microsecond.
const pwmClockHz = 1_000_000

// BCM pins wired to the BCM283x hardware PWM block, by PWM channel.
// Pins on the same PWM channel always output the same signal.
var hardwarePWMPins = map[int]int{12: 0, 18: 0, 13: 1, 19: 1}

// RPiDriver is the real implementation for Raspberry Pi hardware PWM using go-rpio.
// Each channel maps to one PWM-capable BCM pin.
type RPiDriver struct {
	pins     map[int]rpio.Pin // channel -> pin
	cycleLen uint32           // PWM counts per period, one count per microsecond
}

// NewRPiDriver creates a real PWM driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiDriver(pins map[int]int, frequencyHz int) (*RPiDriver, error) {
	debug.Info("Initializing real PWM driver (go-rpio)")

	cycleLen, err := rpioCycleLen(frequencyHz)
	if err != nil {
		return nil, err
	}
	channels := make([]int, 0, len(pins))
	for ch := range pins {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	mapped := make(map[int]rpio.Pin, len(pins))
	owner := make(map[int]int, 2) // PWM channel -> servo channel
	for _, ch := range channels {
		pin := pins[ch]
		pwmCh, ok := hardwarePWMPins[pin]
		if !ok {
			return nil, fmt.Errorf("channel %d: BCM pin %d has no hardware PWM (use 12, 13, 18 or 19)", ch, pin)
		}
		if prev, taken := owner[pwmCh]; taken {
			return nil, fmt.Errorf("channel %d: BCM pin %d shares PWM%d with channel %d (pin %d); pins 12/18 and 13/19 cannot drive different servos",
				ch, pin, pwmCh, prev, pins[prev])
		}
		owner[pwmCh] = ch
		mapped[ch] = rpio.Pin(pin)
	}

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:     mapped,
		cycleLen: cycleLen,
	}, nil
}

func (r *RPiDriver) SetupChannel(ch int) error {
	p, ok := r.pins[ch]
	if !ok {
		return fmt.Errorf("channel %d has no pin configured", ch)
	}
	debug.PWM("SetupChannel", ch, int(p))

	p.Mode(rpio.Pwm)
	p.Freq(pwmClockHz)
	p.DutyCycle(0, r.cycleLen)
	return nil
}

func (r *RPiDriver) SetPulse(ch int, width time.Duration) error {
	p, ok := r.pins[ch]
	if !ok {
		return fmt.Errorf("channel %d has no pin configured", ch)
	}
	duty := uint32(width / time.Microsecond)
	if duty > r.cycleLen {
		return fmt.Errorf("channel %d: pulse %s longer than period", ch, width)
	}
	debug.PWM("SetPulse", ch, width)
	p.DutyCycle(duty, r.cycleLen)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("PWM Close (real driver)")

	// Stop pulses and reset all pins to input (safe state)
	for ch, p := range r.pins {
		debug.Verbose("Resetting channel %d (pin %d) to input", ch, int(p))
		p.DutyCycle(0, r.cycleLen)
		p.Input()
	}

	return rpio.Close()
}

// rpioCycleLen returns the number of 1µs PWM counts in one period.
func rpioCycleLen(frequencyHz int) (uint32, error) {
	if frequencyHz <= 0 || frequencyHz > 1000 {
		return 0, fmt.Errorf("pwm frequency must be 1-1000 Hz, got %d", frequencyHz)
	}
	return uint32(time.Second / time.Microsecond / time.Duration(frequencyHz)), nil
}
