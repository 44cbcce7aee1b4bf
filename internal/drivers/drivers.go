// Package drivers implements the hardware backends of outputs.
package drivers

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/modbus"
	"github.com/KevinKickass/OpenOutputCore/internal/mqtt"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// Device types understood by the factory.
const (
	TypeSimulated     = "simulated"
	TypeModbusRelay   = "modbus_relay"
	TypeModbusPWM     = "modbus_pwm"
	TypeGPIORelay     = "gpio_relay"
	TypeMQTTRelay     = "mqtt_relay"
	TypeMQTTDispenser = "mqtt_dispenser"
)

var (
	ErrCapabilityMismatch = errors.New("device type does not support capability")
	ErrNoPublisher        = errors.New("mqtt is not enabled")
	ErrNotSetup           = errors.New("driver not set up")
)

// Config holds the process wide defaults drivers fall back to.
type Config struct {
	GPIOChip      string
	ModbusTimeout time.Duration
	MQTTQoS       byte
	Topics        mqtt.Topics
}

// Factory builds drivers from output configurations.
type Factory struct {
	cfg       Config
	validator *Validator
	publisher mqtt.Publisher
	logger    *zap.Logger

	// dialModbus is replaced in tests.
	dialModbus func(address string, timeout time.Duration) ModbusConn
}

// NewFactory creates a factory. publisher may be nil when MQTT is disabled;
// MQTT device types then fail to build.
func NewFactory(cfg Config, validator *Validator, publisher mqtt.Publisher, logger *zap.Logger) *Factory {
	if cfg.GPIOChip == "" {
		cfg.GPIOChip = "gpiochip0"
	}
	if cfg.ModbusTimeout <= 0 {
		cfg.ModbusTimeout = 5 * time.Second
	}
	return &Factory{
		cfg:       cfg,
		validator: validator,
		publisher: publisher,
		logger:    logger,
		dialModbus: func(address string, timeout time.Duration) ModbusConn {
			return modbus.NewClient(address, timeout)
		},
	}
}

// Build validates out's options and creates its driver. It satisfies
// output.DriverFactory.
func (f *Factory) Build(out types.Output) (output.Driver, error) {
	if err := f.validator.ValidateOptions(out.DeviceType, out.Options); err != nil {
		return nil, fmt.Errorf("output %s: %w", out.ID, err)
	}

	capability := out.Capability
	if capability == "" {
		capability = types.CapabilityOnOff
	}
	if !supports(out.DeviceType, capability) {
		return nil, fmt.Errorf("%w: %s cannot drive %s", ErrCapabilityMismatch, out.DeviceType, capability)
	}

	logger := f.logger.With(
		zap.String("output_id", out.ID),
		zap.String("device_type", out.DeviceType))

	switch out.DeviceType {
	case TypeSimulated:
		return newSimulated(out.Options)
	case TypeModbusRelay:
		return newModbusRelay(f, out.Options, logger)
	case TypeModbusPWM:
		return newModbusPWM(f, out.Options, logger)
	case TypeGPIORelay:
		return newGPIORelay(f.cfg.GPIOChip, out.Options, logger)
	case TypeMQTTRelay, TypeMQTTDispenser:
		if f.publisher == nil {
			return nil, fmt.Errorf("output %s: %w", out.ID, ErrNoPublisher)
		}
		return newMQTTDriver(f, out, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, out.DeviceType)
	}
}

func supports(deviceType string, c types.Capability) bool {
	switch deviceType {
	case TypeSimulated:
		return c.Valid()
	case TypeModbusRelay, TypeGPIORelay, TypeMQTTRelay:
		return c == types.CapabilityOnOff
	case TypeModbusPWM:
		return c == types.CapabilityPWM
	case TypeMQTTDispenser:
		return c == types.CapabilityVolume || c == types.CapabilityValue
	default:
		return false
	}
}
