package motion

import (
	"errors"
	"fmt"
)

// Sentinel errors for the motion core.
var (
	ErrInvalidConfiguration = errors.New("invalid motion configuration")
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrBusy                 = errors.New("move already in progress")
)

// HardwareError reports a failed actuator write for one channel.
// The core never retries it.
type HardwareError struct {
	Channel Channel
	Cause   error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("channel %d: hardware write failed: %v", e.Channel, e.Cause)
}

func (e *HardwareError) Unwrap() error {
	return e.Cause
}

// AsHardwareError extracts a HardwareError from an error chain, if present.
func AsHardwareError(err error) (*HardwareError, bool) {
	var hwErr *HardwareError
	if errors.As(err, &hwErr) {
		return hwErr, true
	}
	return nil, false
}

func unknownChannel(ch Channel) error {
	return fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
}
