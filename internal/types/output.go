package types

import (
	"time"
)

// State is the requested or resulting logical state of an output.
type State string

const (
	StateOn  State = "on"
	StateOff State = "off"
)

// Valid returns true for on and off.
func (s State) Valid() bool {
	return s == StateOn || s == StateOff
}

// Capability declares how an output is driven.
type Capability string

const (
	CapabilityOnOff  Capability = "on_off"
	CapabilityPWM    Capability = "pwm"
	CapabilityVolume Capability = "volume"
	CapabilityValue  Capability = "value"
)

// Valid returns true when the capability is known.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityOnOff, CapabilityPWM, CapabilityVolume, CapabilityValue:
		return true
	default:
		return false
	}
}

// Policy is applied to an output at startup or shutdown.
type Policy string

const (
	PolicyOff         Policy = "off"
	PolicyOn          Policy = "on"
	PolicyRestoreLast Policy = "restore_last"
	PolicySetValue    Policy = "set_value"
	// PolicyNone leaves the output untouched (shutdown only).
	PolicyNone Policy = "none"
)

// Output is the persisted configuration of one physical output.
type Output struct {
	ID         string     `json:"id" yaml:"id"`
	DeviceType string     `json:"device_type" yaml:"device_type"`
	Name       string     `json:"name" yaml:"name"`
	Capability Capability `json:"capability" yaml:"capability"`
	Amps       float64    `json:"amps" yaml:"amps"`

	StartupPolicy  Policy  `json:"startup_policy" yaml:"startup_policy"`
	StartupValue   float64 `json:"startup_value" yaml:"startup_value"`
	ShutdownPolicy Policy  `json:"shutdown_policy" yaml:"shutdown_policy"`
	ShutdownValue  float64 `json:"shutdown_value" yaml:"shutdown_value"`

	PWMHertz  int  `json:"pwm_hertz" yaml:"pwm_hertz"`
	PWMInvert bool `json:"pwm_invert" yaml:"pwm_invert"`

	ForceCommand     bool `json:"force_command" yaml:"force_command"`
	TriggerAtStartup bool `json:"trigger_at_startup" yaml:"trigger_at_startup"`

	// Unit and channel stamped on recorded measurements.
	MeasurementUnit string `json:"measurement_unit,omitempty" yaml:"measurement_unit"`
	Channel         int    `json:"channel" yaml:"channel"`

	LastDutyCycle float64    `json:"last_duty_cycle" yaml:"last_duty_cycle"`
	OffUntil      *time.Time `json:"off_until,omitempty" yaml:"off_until"`

	// Driver specific settings, validated against the device type schema.
	Options map[string]any `json:"options,omitempty" yaml:"options"`
}
