package storage

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

var ErrNotFound = errors.New("not found")

// Store is everything the service persists. PostgresClient and the memory
// store implement it.
type Store interface {
	LoadOutputs(ctx context.Context) ([]types.Output, error)
	GetOutput(ctx context.Context, id string) (types.Output, error)
	SaveOutput(ctx context.Context, out types.Output) error
	DeleteOutput(ctx context.Context, id string) error
	SetOffUntil(ctx context.Context, id string, until *time.Time) error
	SetLastDutyCycle(ctx context.Context, id string, duty float64) error

	MaxAmps(ctx context.Context) (float64, error)
	SetMaxAmps(ctx context.Context, amps float64) error

	ListTriggers(ctx context.Context) ([]types.Trigger, error)
	ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error)
	SaveTrigger(ctx context.Context, t types.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error

	WriteMeasurement(ctx context.Context, m types.Measurement) error
	RecentMeasurements(ctx context.Context, outputID string, limit int) ([]types.Measurement, error)

	Close()
}

const settingMaxAmps = "max_amps"
