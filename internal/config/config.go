package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// MinStepDeg is the smallest accepted motion.step_deg.
const MinStepDeg = 0.001

// Driver types accepted in driver.type.
const (
	DriverMock    = "mock"
	DriverRPIO    = "rpio"
	DriverPCA9685 = "pca9685"
	DriverFeetech = "feetech"
)

// ServoConfig describes the pulse-width servos (ignored by the feetech driver
// except for actuation_range).
type ServoConfig struct {
	ActuationRange float64 `yaml:"actuation_range"` // degrees covered by min..max pulse (default 180)
	MinPulseUs     int     `yaml:"min_pulse_us"`    // pulse at 0° (default 500)
	MaxPulseUs     int     `yaml:"max_pulse_us"`    // pulse at actuation_range (default 2500)
	FrequencyHz    int     `yaml:"frequency_hz"`    // PWM frequency (default 50)
	ReleaseOnExit  bool    `yaml:"release_on_exit"` // stop pulses / disable torque on shutdown
}

// MotionConfig holds the interpolation parameters.
type MotionConfig struct {
	StepDeg      float64 `yaml:"step_deg"`      // max degrees per tick (default 1)
	TickDelayMs  int     `yaml:"tick_delay_ms"` // delay between ticks (default 15)
	InitialAngle float64 `yaml:"initial_angle"` // home angle for channels without their own (default 90, use a per-channel 0 for 0°)
	JogDeg       float64 `yaml:"jog_deg"`       // TUI jog increment (default 5)
}

// SweepConfig drives the autonomous sweep mode.
type SweepConfig struct {
	StartAngle float64 `yaml:"start_angle"` // default 60
	EndAngle   float64 `yaml:"end_angle"`   // default 120
	PauseMs    int     `yaml:"pause_ms"`    // pause at each end (default 500)
	Cycles     int     `yaml:"cycles"`      // 0 = until interrupted
}

// ChannelConfig is one servo output.
type ChannelConfig struct {
	ID           int      `yaml:"id"`            // channel number (PCA9685 output or Feetech servo ID)
	Pin          int      `yaml:"pin"`           // BCM pin, rpio driver only
	InitialAngle *float64 `yaml:"initial_angle"` // optional, overrides motion.initial_angle
}

// ChannelsConfig lists the channels. Count is a shorthand creating
// channels 0..Count-1 when List is empty.
type ChannelsConfig struct {
	Count int             `yaml:"count"`
	List  []ChannelConfig `yaml:"list"`
}

// PCA9685Config selects the I2C board.
type PCA9685Config struct {
	Bus     string `yaml:"bus"`     // I2C bus name, empty = first bus
	Address uint16 `yaml:"address"` // default 0x40
}

// FeetechConfig selects the serial bus.
type FeetechConfig struct {
	Port        string `yaml:"port"`         // e.g. /dev/ttyUSB0
	BaudRate    int    `yaml:"baud_rate"`    // default 1000000
	Protocol    string `yaml:"protocol"`     // "sts" (default) or "scs"
	MinPosition int    `yaml:"min_position"` // raw position at 0° (default 0)
	MaxPosition int    `yaml:"max_position"` // raw position at actuation_range (default 4095)
}

// DriverConfig selects the hardware backend.
type DriverConfig struct {
	Type    string        `yaml:"type"` // mock | rpio | pca9685 | feetech
	PCA9685 PCA9685Config `yaml:"pca9685"`
	Feetech FeetechConfig `yaml:"feetech"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Servo    ServoConfig    `yaml:"servo"`
	Motion   MotionConfig   `yaml:"motion"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Channels ChannelsConfig `yaml:"channels"`
	Driver   DriverConfig   `yaml:"driver"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files whose parent directory is
// named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	if !filepath.IsAbs(clean) && (clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))) {
		return fmt.Errorf("config path must not escape the working directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when every field is omitted.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Servo.ActuationRange == 0 {
		c.Servo.ActuationRange = 180
	}
	if c.Servo.MinPulseUs == 0 {
		c.Servo.MinPulseUs = 500
	}
	if c.Servo.MaxPulseUs == 0 {
		c.Servo.MaxPulseUs = 2500
	}
	if c.Servo.FrequencyHz == 0 {
		c.Servo.FrequencyHz = 50
	}

	if c.Motion.StepDeg == 0 {
		c.Motion.StepDeg = 1
	}
	if c.Motion.TickDelayMs == 0 {
		c.Motion.TickDelayMs = 15
	}
	if c.Motion.InitialAngle == 0 {
		c.Motion.InitialAngle = 90
	}
	if c.Motion.JogDeg == 0 {
		c.Motion.JogDeg = 5
	}

	if c.Sweep.StartAngle == 0 && c.Sweep.EndAngle == 0 {
		c.Sweep.StartAngle = 60
		c.Sweep.EndAngle = 120
	}
	if c.Sweep.PauseMs == 0 {
		c.Sweep.PauseMs = 500
	}

	if len(c.Channels.List) == 0 {
		if c.Channels.Count == 0 {
			c.Channels.Count = 16
		}
		for i := 0; i < c.Channels.Count; i++ {
			c.Channels.List = append(c.Channels.List, ChannelConfig{ID: i})
		}
	}

	if c.Driver.Type == "" {
		c.Driver.Type = DriverMock
	}
	if c.Driver.PCA9685.Address == 0 {
		c.Driver.PCA9685.Address = 0x40
	}
	if c.Driver.Feetech.BaudRate == 0 {
		c.Driver.Feetech.BaudRate = 1000000
	}
	if c.Driver.Feetech.Protocol == "" {
		c.Driver.Feetech.Protocol = "sts"
	}
	if c.Driver.Feetech.MaxPosition == 0 {
		c.Driver.Feetech.MaxPosition = 4095
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Servo.ActuationRange <= 0 {
		return fmt.Errorf("servo.actuation_range must be > 0, got %.2f", c.Servo.ActuationRange)
	}
	if c.Servo.MinPulseUs <= 0 || c.Servo.MaxPulseUs <= c.Servo.MinPulseUs {
		return fmt.Errorf("servo pulse range must satisfy 0 < min_pulse_us < max_pulse_us, got %d-%d", c.Servo.MinPulseUs, c.Servo.MaxPulseUs)
	}
	if c.Servo.FrequencyHz <= 0 {
		return fmt.Errorf("servo.frequency_hz must be > 0, got %d", c.Servo.FrequencyHz)
	}
	if period := 1e6 / float64(c.Servo.FrequencyHz); float64(c.Servo.MaxPulseUs) > period {
		return fmt.Errorf("servo.max_pulse_us %d exceeds the %.0fµs PWM period", c.Servo.MaxPulseUs, period)
	}

	if math.IsNaN(c.Motion.StepDeg) || c.Motion.StepDeg < MinStepDeg || c.Motion.StepDeg > c.Servo.ActuationRange {
		return fmt.Errorf("motion.step_deg must be within %g-%.0f, got %g", MinStepDeg, c.Servo.ActuationRange, c.Motion.StepDeg)
	}
	if c.Motion.TickDelayMs < 0 {
		return fmt.Errorf("motion.tick_delay_ms must be >= 0, got %d", c.Motion.TickDelayMs)
	}
	if c.Motion.InitialAngle < 0 || c.Motion.InitialAngle > c.Servo.ActuationRange {
		return fmt.Errorf("motion.initial_angle must be within 0-%.0f, got %.2f", c.Servo.ActuationRange, c.Motion.InitialAngle)
	}
	if c.Motion.JogDeg <= 0 {
		return fmt.Errorf("motion.jog_deg must be > 0, got %.2f", c.Motion.JogDeg)
	}

	for _, a := range []float64{c.Sweep.StartAngle, c.Sweep.EndAngle} {
		if a < 0 || a > c.Servo.ActuationRange {
			return fmt.Errorf("sweep angles must be within 0-%.0f, got %.2f", c.Servo.ActuationRange, a)
		}
	}
	if c.Sweep.PauseMs < 0 {
		return fmt.Errorf("sweep.pause_ms must be >= 0, got %d", c.Sweep.PauseMs)
	}
	if c.Sweep.Cycles < 0 {
		return fmt.Errorf("sweep.cycles must be >= 0, got %d", c.Sweep.Cycles)
	}

	seen := make(map[int]bool, len(c.Channels.List))
	for _, ch := range c.Channels.List {
		if ch.ID < 0 {
			return fmt.Errorf("channel id must be >= 0, got %d", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %d", ch.ID)
		}
		seen[ch.ID] = true
		if ch.InitialAngle != nil && (*ch.InitialAngle < 0 || *ch.InitialAngle > c.Servo.ActuationRange) {
			return fmt.Errorf("channel %d initial_angle must be within 0-%.0f, got %.2f", ch.ID, c.Servo.ActuationRange, *ch.InitialAngle)
		}
	}
	if len(c.Channels.List) == 0 {
		return fmt.Errorf("at least one channel is required")
	}

	switch c.Driver.Type {
	case DriverMock, DriverPCA9685:
	case DriverRPIO:
		for _, ch := range c.Channels.List {
			if ch.Pin == 0 {
				return fmt.Errorf("channel %d: pin is required by the rpio driver", ch.ID)
			}
		}
	case DriverFeetech:
		if c.Driver.Feetech.Port == "" {
			return fmt.Errorf("driver.feetech.port is required")
		}
		if c.Driver.Feetech.Protocol != "sts" && c.Driver.Feetech.Protocol != "scs" {
			return fmt.Errorf("driver.feetech.protocol must be sts or scs, got %q", c.Driver.Feetech.Protocol)
		}
		if c.Driver.Feetech.MinPosition < 0 || c.Driver.Feetech.MaxPosition <= c.Driver.Feetech.MinPosition {
			return fmt.Errorf("driver.feetech position window must satisfy 0 <= min < max, got %d-%d", c.Driver.Feetech.MinPosition, c.Driver.Feetech.MaxPosition)
		}
	default:
		return fmt.Errorf("driver.type must be mock, rpio, pca9685 or feetech, got %q", c.Driver.Type)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ChannelIDs returns the configured channel numbers in ascending order.
func (c *Config) ChannelIDs() []int {
	ids := make([]int, 0, len(c.Channels.List))
	for _, ch := range c.Channels.List {
		ids = append(ids, ch.ID)
	}
	sort.Ints(ids)
	return ids
}

// InitialAngles returns the home angle of every channel.
func (c *Config) InitialAngles() map[int]float64 {
	out := make(map[int]float64, len(c.Channels.List))
	for _, ch := range c.Channels.List {
		a := c.Motion.InitialAngle
		if ch.InitialAngle != nil {
			a = *ch.InitialAngle
		}
		out[ch.ID] = a
	}
	return out
}

// Pins maps channel id to BCM pin for the rpio driver.
func (c *Config) Pins() map[int]int {
	out := make(map[int]int, len(c.Channels.List))
	for _, ch := range c.Channels.List {
		out[ch.ID] = ch.Pin
	}
	return out
}

// TickDelay returns the delay between two interpolation ticks.
func (c *Config) TickDelay() time.Duration {
	return time.Duration(c.Motion.TickDelayMs) * time.Millisecond
}

// SweepPause returns the pause at each end of a sweep.
func (c *Config) SweepPause() time.Duration {
	return time.Duration(c.Sweep.PauseMs) * time.Millisecond
}

// MinPulse returns the pulse width at 0°.
func (c *Config) MinPulse() time.Duration {
	return time.Duration(c.Servo.MinPulseUs) * time.Microsecond
}

// MaxPulse returns the pulse width at the end of the actuation range.
func (c *Config) MaxPulse() time.Duration {
	return time.Duration(c.Servo.MaxPulseUs) * time.Microsecond
}
