package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/google/uuid"
)

// WriteMeasurement stores one measurement. A zero timestamp is stored as now.
func (p *PostgresClient) WriteMeasurement(ctx context.Context, m types.Measurement) error {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		id = uuid.New()
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO output_measurements (id, output_id, unit, value, kind, channel, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, m.OutputID, m.Unit, m.Value, string(m.Kind), m.Channel, ts)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

// RecentMeasurements returns the newest measurements of an output, newest first.
func (p *PostgresClient) RecentMeasurements(ctx context.Context, outputID string, limit int) ([]types.Measurement, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, output_id, unit, value, kind, channel, ts
		FROM output_measurements
		WHERE output_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, outputID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	measurements := make([]types.Measurement, 0)
	for rows.Next() {
		var (
			m    types.Measurement
			id   uuid.UUID
			kind string
		)
		if err := rows.Scan(&id, &m.OutputID, &m.Unit, &m.Value, &kind, &m.Channel, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.ID = id.String()
		m.Kind = types.MeasurementKind(kind)
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read measurements: %w", err)
	}
	return measurements, nil
}
