package types

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultStepsKey is the key of the step table that applies to every device
// without its own override.
const DefaultStepsKey = "default"

// ErrMissingDefaultSteps is returned when the settings do not contain a default
// step table. Without it no target can be computed so a cycle must not start.
var ErrMissingDefaultSteps = errors.New("settings are missing the default step table")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Settings represents the configuration loaded once per process (or once per
// cycle) and treated as read-only afterwards.
type Settings struct {
	// Credentials for the Nest account, opaque to the control logic.
	Credentials Credentials `json:"-" yaml:"-"`

	// DefaultSteps applies to every thermostat without an override.
	DefaultSteps StepTable `json:"defaultSteps" validate:"required,min=1"`
	// DeviceSteps holds per-thermostat overrides keyed by serial number.
	DeviceSteps map[string]StepTable `json:"deviceSteps,omitempty"`

	// LatencyDays is how many days of daily forecast lows are considered when
	// computing the reference temperature. 0 disables the forecast entirely.
	LatencyDays int `json:"latencyDays" validate:"min=0"`

	// DryRun computes targets without sending them to the thermostats.
	DryRun bool `json:"dryRun"`
}

// Credentials for the Nest account.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	// AccessToken skips the password grant when set.
	AccessToken string `json:"access_token,omitempty" yaml:"access_token"`
	// UserID is the Nest user the status document belongs to. It is read from
	// the token response when empty.
	UserID string `json:"user_id,omitempty" yaml:"user_id"`
}

// StepsFor returns the step table for the given thermostat and whether it is
// a device-specific override.
func (s Settings) StepsFor(deviceID string) (StepTable, bool) {
	if steps, ok := s.DeviceSteps[deviceID]; ok {
		return steps, true
	}
	return s.DefaultSteps, false
}

// Validate checks that the settings can drive a cycle.
func (s Settings) Validate() error {
	if len(s.DefaultSteps) == 0 {
		return ErrMissingDefaultSteps
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	for id, steps := range s.DeviceSteps {
		if len(steps) == 0 {
			return fmt.Errorf("invalid settings: empty step table for device %s", id)
		}
	}
	return nil
}
