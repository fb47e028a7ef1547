package main

import (
	"context"
	"fmt"

	"github.com/cjeanneret/ServoSync/internal/config"
	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/hw/busservo"
	"github.com/cjeanneret/ServoSync/internal/hw/pwm"
	"github.com/cjeanneret/ServoSync/internal/hw/servo"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
	"github.com/hipsterbrown/feetech-servo/feetech"
)

// hardware is the actuator side selected by driver.type.
type hardware struct {
	sink    motion.Sink
	release func(ctx context.Context) error
	close   func() error
}

// newHardware opens the driver named in cfg and returns a sink over every
// configured channel.
func newHardware(ctx context.Context, cfg *config.Config) (*hardware, error) {
	channels := make([]motion.Channel, 0, len(cfg.Channels.List))
	for _, id := range cfg.ChannelIDs() {
		channels = append(channels, motion.Channel(id))
	}

	if cfg.Driver.Type == config.DriverFeetech {
		ft := cfg.Driver.Feetech
		protocol := feetech.ProtocolSTS
		if ft.Protocol == "scs" {
			protocol = feetech.ProtocolSCS
		}
		sink, err := busservo.Open(ctx, busservo.Config{
			Port:           ft.Port,
			BaudRate:       ft.BaudRate,
			Protocol:       protocol,
			MinPosition:    ft.MinPosition,
			MaxPosition:    ft.MaxPosition,
			ActuationRange: cfg.Servo.ActuationRange,
		}, channels)
		if err != nil {
			return nil, fmt.Errorf("open feetech bus: %w", err)
		}
		return &hardware{sink: sink, release: sink.Release, close: sink.Close}, nil
	}

	drv, err := pwm.NewDriver(pwm.Config{
		Type:        cfg.Driver.Type,
		FrequencyHz: cfg.Servo.FrequencyHz,
		Pins:        cfg.Pins(),
		I2CBus:      cfg.Driver.PCA9685.Bus,
		I2CAddress:  cfg.Driver.PCA9685.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("init pwm driver: %w", err)
	}
	bank, err := servo.NewBank(drv, servo.Calibration{
		MinPulse:       cfg.MinPulse(),
		MaxPulse:       cfg.MaxPulse(),
		ActuationRange: cfg.Servo.ActuationRange,
	}, channels)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("init servo bank: %w", err)
	}
	debug.PrintStruct("Servo config", cfg.Servo)
	return &hardware{
		sink:    bank,
		release: func(context.Context) error { return bank.Release() },
		close:   drv.Close,
	}, nil
}
