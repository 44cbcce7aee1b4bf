package drivers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/mqtt"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

type mqttOptions struct {
	Topic    string  `json:"topic"`
	Retained bool    `json:"retained"`
	FlowRate float64 `json:"flow_rate"`
}

// MQTTDriver publishes commands to a device listening on a topic. A relay
// reports the last command it sent. A dispenser with a flow rate reports on
// until the commanded amount should have been dispensed.
type MQTTDriver struct {
	mu        sync.Mutex
	publisher mqtt.Publisher
	topic     string
	qos       byte
	opts      mqttOptions
	dispenser bool
	setup     bool
	now       func() time.Time
	logger    *zap.Logger

	on        bool
	busyUntil time.Time
}

func newMQTTDriver(f *Factory, out types.Output, logger *zap.Logger) (*MQTTDriver, error) {
	var opts mqttOptions
	if err := decodeOptions(out.Options, &opts); err != nil {
		return nil, err
	}

	topic := opts.Topic
	if topic == "" {
		topic = f.cfg.Topics.Command(out.ID)
	}

	return &MQTTDriver{
		publisher: f.publisher,
		topic:     topic,
		qos:       f.cfg.MQTTQoS,
		opts:      opts,
		dispenser: out.DeviceType == TypeMQTTDispenser,
		now:       time.Now,
		logger:    logger,
	}, nil
}

func (d *MQTTDriver) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cs, ok := d.publisher.(mqtt.ConnectionStatus); ok && !cs.IsConnected() {
		d.logger.Warn("MQTT not connected yet, commands are queued by the client",
			zap.String("topic", d.topic))
	}
	d.setup = true
	return nil
}

func (d *MQTTDriver) Switch(ctx context.Context, cmd output.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.setup {
		return ErrNotSetup
	}

	now := d.now()
	payload, err := mqtt.FormatCommand(cmd.State, cmd.Amount, cmd.DutyCycle, now)
	if err != nil {
		return fmt.Errorf("format command: %w", err)
	}

	retained := d.opts.Retained && !d.dispenser
	if err := d.publisher.Publish(d.topic, d.qos, retained, payload); err != nil {
		return err
	}

	d.on = cmd.State == types.StateOn
	d.busyUntil = time.Time{}
	if d.on && d.dispenser && d.opts.FlowRate > 0 && cmd.Amount > 0 {
		secs := cmd.Amount / d.opts.FlowRate
		d.busyUntil = now.Add(time.Duration(secs * float64(time.Second)))
	}
	return nil
}

func (d *MQTTDriver) IsOn(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.on && !d.busyUntil.IsZero() && !d.now().Before(d.busyUntil) {
		d.on = false
		d.busyUntil = time.Time{}
	}
	return d.on, nil
}

func (d *MQTTDriver) IsSetup() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setup
}

// Shutdown only forgets the state. The broker connection is shared.
func (d *MQTTDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup = false
	d.on = false
	d.busyUntil = time.Time{}
	return nil
}

// TracksState is true for dispensers, whose completion the controller
// cannot derive from its own timers.
func (d *MQTTDriver) TracksState() bool {
	return d.dispenser
}
