package pwm

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/ServoSync/internal/debug"
)

// Driver defines the abstract interface for servo pulse outputs.
// This allows plugging in a real Raspberry Pi or PCA9685 implementation
// or a mock for development on PC.
type Driver interface {
	// SetupChannel prepares a channel for output at the driver frequency.
	SetupChannel(ch int) error
	// SetPulse asserts a pulse of the given width on every period.
	// A zero width stops the output (servo goes limp).
	SetPulse(ch int, width time.Duration) error
	Close() error
}

// Config selects and parameterizes a driver.
type Config struct {
	Type        string      // "mock", "rpio" or "pca9685"
	FrequencyHz int         // pulse frequency, 50 for most analog servos
	Pins        map[int]int // rpio: channel -> BCM pin
	I2CBus      string      // pca9685: bus name, "" for the first bus
	I2CAddress  uint16      // pca9685: device address, usually 0x40
}

// NewDriver creates a driver based on cfg.Type.
func NewDriver(cfg Config) (Driver, error) {
	switch cfg.Type {
	case "", "mock":
		debug.Info("Using MOCK PWM driver (development mode)")
		return NewMockDriver(), nil
	case "rpio":
		return NewRPiDriver(cfg.Pins, cfg.FrequencyHz)
	case "pca9685":
		return NewPCA9685Driver(cfg.I2CBus, cfg.I2CAddress, cfg.FrequencyHz)
	default:
		return nil, fmt.Errorf("unsupported pwm driver type: %s", cfg.Type)
	}
}

// MockDriver is a test implementation that logs and remembers pulses.
// Used for development on PC or testing.
type MockDriver struct {
	mu     sync.Mutex
	setup  map[int]bool
	pulses map[int]time.Duration
	closed bool
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		setup:  make(map[int]bool),
		pulses: make(map[int]time.Duration),
	}
}

func (m *MockDriver) SetupChannel(ch int) error {
	debug.PWM("SetupChannel", ch, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setup[ch] = true
	return nil
}

func (m *MockDriver) SetPulse(ch int, width time.Duration) error {
	debug.PWM("SetPulse", ch, width)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock pwm: driver closed")
	}
	if !m.setup[ch] {
		return fmt.Errorf("mock pwm: channel %d not set up", ch)
	}
	m.pulses[ch] = width
	return nil
}

// Pulse returns the last pulse width written to ch.
func (m *MockDriver) Pulse(ch int) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.pulses[ch]
	return w, ok
}

func (m *MockDriver) Close() error {
	debug.Trace("PWM Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Period returns the pulse period for a frequency in Hz.
func Period(frequencyHz int) time.Duration {
	if frequencyHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(frequencyHz)
}
