package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MeasurementWriter persists one measurement.
type MeasurementWriter interface {
	WriteMeasurement(ctx context.Context, m types.Measurement) error
}

// MultiWriter writes to every writer and joins their errors.
type MultiWriter []MeasurementWriter

func (mw MultiWriter) WriteMeasurement(ctx context.Context, m types.Measurement) error {
	var errs []error
	for _, w := range mw {
		if w == nil {
			continue
		}
		if err := w.WriteMeasurement(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder persists output measurements on the task pool. Writes are best
// effort: a full queue or a failing writer is logged and the measurement is
// dropped.
type Recorder struct {
	writer  MeasurementWriter
	pool    *tasks.Pool
	timeout time.Duration
	logger  *zap.Logger
}

func NewRecorder(writer MeasurementWriter, pool *tasks.Pool, logger *zap.Logger) *Recorder {
	return &Recorder{
		writer:  writer,
		pool:    pool,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Record queues m for writing. It never blocks.
func (r *Recorder) Record(m types.Measurement) {
	if r == nil || r.writer == nil {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	err := r.pool.TrySubmit(tasks.Task{
		Name: "measurement:" + m.OutputID,
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			if err := r.writer.WriteMeasurement(ctx, m); err != nil {
				metrics.IncMeasurement(string(m.Kind), metrics.ResultError)
				return fmt.Errorf("failed to write measurement for output %s: %w", m.OutputID, err)
			}
			metrics.IncMeasurement(string(m.Kind), metrics.ResultSuccess)
			return nil
		},
	})
	if err != nil {
		metrics.IncMeasurement(string(m.Kind), metrics.ResultDropped)
		r.logger.Warn("Measurement dropped",
			zap.String("output_id", m.OutputID),
			zap.String("kind", string(m.Kind)),
			zap.Float64("value", m.Value),
			zap.Error(err))
	}
}

// RecordDuration records a signed on duration starting at start.
func (r *Recorder) RecordDuration(cfg types.Output, seconds float64, start time.Time) {
	unit := cfg.MeasurementUnit
	if unit == "" {
		unit = types.UnitSecond
	}
	r.Record(types.Measurement{
		OutputID:  cfg.ID,
		Unit:      unit,
		Value:     seconds,
		Kind:      types.KindDuration,
		Channel:   cfg.Channel,
		Timestamp: start,
	})
}

// RecordDutyCycle records the duty cycle as seen by the driver.
func (r *Recorder) RecordDutyCycle(cfg types.Output, duty float64, at time.Time) {
	r.Record(types.Measurement{
		OutputID:  cfg.ID,
		Unit:      types.UnitPercent,
		Value:     duty,
		Kind:      types.KindDutyCycle,
		Channel:   cfg.Channel,
		Timestamp: at,
	})
}
