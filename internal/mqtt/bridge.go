package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/trigger"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

var (
	_ trigger.Dispatcher       = (*Bridge)(nil)
	_ output.Listener          = (*Bridge)(nil)
	_ output.MeasurementWriter = (*Bridge)(nil)
)

// Bridge mirrors controller activity onto the broker. It acts as a trigger
// dispatcher, a transition listener and a measurement writer.
type Bridge struct {
	pub    Publisher
	topics Topics
	qos    byte
	pool   *tasks.Pool
	logger *zap.Logger
}

// NewBridge creates a bridge publishing below prefix. State updates are
// handed to pool so that listeners never block a switch.
func NewBridge(pub Publisher, prefix string, qos byte, pool *tasks.Pool, logger *zap.Logger) *Bridge {
	return &Bridge{
		pub:    pub,
		topics: Topics{Prefix: prefix},
		qos:    qos,
		pool:   pool,
		logger: logger,
	}
}

// Topics returns the topic layout used by the bridge.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Dispatch publishes the trigger message.
func (b *Bridge) Dispatch(ctx context.Context, triggerID, message string) error {
	payload, err := json.Marshal(TriggerPayload{
		TriggerID: triggerID,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("format trigger payload: %w", err)
	}
	return b.publish("trigger", b.topics.Trigger(triggerID), false, payload)
}

// OutputChanged publishes the retained state of the output.
func (b *Bridge) OutputChanged(tr output.Transition) {
	payload, err := json.Marshal(StatePayload{
		OutputID:  tr.Output.ID,
		Name:      tr.Output.Name,
		State:     string(tr.State),
		Amount:    tr.Amount,
		DutyCycle: tr.DutyCycle,
		Timestamp: tr.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		b.logger.Warn("Failed to format state payload", zap.Error(err))
		return
	}

	topic := b.topics.State(tr.Output.ID)
	err = b.pool.TrySubmit(tasks.Task{
		Name: "mqtt-state:" + tr.Output.ID,
		Run: func(ctx context.Context) error {
			return b.publish("state", topic, true, payload)
		},
	})
	if err != nil {
		metrics.IncMQTTPublish("state", metrics.ResultDropped)
		b.logger.Warn("State update dropped",
			zap.String("output_id", tr.Output.ID),
			zap.Error(err))
	}
}

// WriteMeasurement mirrors the measurement.
func (b *Bridge) WriteMeasurement(ctx context.Context, m types.Measurement) error {
	payload, err := FormatMeasurement(m)
	if err != nil {
		return fmt.Errorf("format measurement: %w", err)
	}
	return b.publish("measurement", b.topics.Measurement(m.OutputID), false, payload)
}

func (b *Bridge) publish(kind, topic string, retained bool, payload []byte) error {
	if err := b.pub.Publish(topic, b.qos, retained, payload); err != nil {
		metrics.IncMQTTPublish(kind, metrics.ResultError)
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	metrics.IncMQTTPublish(kind, metrics.ResultSuccess)
	return nil
}
