package pwm

import (
	"fmt"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

const (
	pca9685Channels   = 16
	pca9685Resolution = 4096 // counts per period (12 bit)
	// DefaultPCA9685Address is the factory I2C address of the board.
	DefaultPCA9685Address = 0x40
)

// PCA9685Driver drives up to 16 servos from one PCA9685 board over I2C.
type PCA9685Driver struct {
	bus    i2c.BusCloser
	dev    *pca9685.Dev
	period time.Duration
}

// NewPCA9685Driver opens the I2C bus (empty name = first bus) and sets the
// board to frequencyHz.
func NewPCA9685Driver(busName string, address uint16, frequencyHz int) (*PCA9685Driver, error) {
	debug.Info("Initializing PCA9685 driver (periph.io)")

	if frequencyHz <= 0 || frequencyHz > 1526 {
		return nil, fmt.Errorf("pca9685 frequency must be 1-1526 Hz, got %d", frequencyHz)
	}
	if address == 0 {
		address = DefaultPCA9685Address
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w (is I2C enabled?)", busName, err)
	}
	dev, err := pca9685.NewI2C(bus, address)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685 at %#x: %w (check wiring, power and address)", address, err)
	}
	if err := dev.SetPwmFreq(physic.Frequency(frequencyHz) * physic.Hertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set pca9685 frequency: %w", err)
	}
	debug.Verbose("PCA9685 found at %#x, frequency set to %d Hz", address, frequencyHz)

	return &PCA9685Driver{
		bus:    bus,
		dev:    dev,
		period: Period(frequencyHz),
	}, nil
}

func (p *PCA9685Driver) SetupChannel(ch int) error {
	debug.PWM("SetupChannel", ch, nil)
	if ch < 0 || ch >= pca9685Channels {
		return fmt.Errorf("pca9685 has channels 0-%d, got %d", pca9685Channels-1, ch)
	}
	return nil
}

func (p *PCA9685Driver) SetPulse(ch int, width time.Duration) error {
	debug.PWM("SetPulse", ch, width)
	counts, err := DutyCounts(width, p.period, pca9685Resolution)
	if err != nil {
		return fmt.Errorf("channel %d: %w", ch, err)
	}
	return p.dev.SetPwm(ch, 0, gpio.Duty(counts))
}

func (p *PCA9685Driver) Close() error {
	debug.Trace("PWM Close (pca9685)")
	return p.bus.Close()
}

// DutyCounts converts a pulse width into on-counts of a period split in
// resolution steps, rounding to the nearest count.
func DutyCounts(width, period time.Duration, resolution int) (int, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid pwm period %s", period)
	}
	if width < 0 || width > period {
		return 0, fmt.Errorf("pulse %s outside period %s", width, period)
	}
	return int((int64(width)*int64(resolution) + int64(period)/2) / int64(period)), nil
}
