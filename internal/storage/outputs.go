package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/jackc/pgx/v5"
)

const outputColumns = `
	id, device_type, name, capability, amps,
	startup_policy, startup_value, shutdown_policy, shutdown_value,
	pwm_hertz, pwm_invert, force_command, trigger_at_startup,
	measurement_unit, channel, last_duty_cycle, off_until, options`

// LoadOutputs returns every configured output
func (p *PostgresClient) LoadOutputs(ctx context.Context) ([]types.Output, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+outputColumns+` FROM outputs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs: %w", err)
	}
	defer rows.Close()

	outputs := make([]types.Output, 0)
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outputs: %w", err)
	}

	return outputs, nil
}

func (p *PostgresClient) GetOutput(ctx context.Context, id string) (types.Output, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+outputColumns+` FROM outputs WHERE id = $1`, id)
	out, err := scanOutput(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Output{}, fmt.Errorf("output %s: %w", id, ErrNotFound)
	}
	return out, err
}

// SaveOutput inserts or updates an output. Runtime owned columns
// (last_duty_cycle, off_until) are left alone on update.
func (p *PostgresClient) SaveOutput(ctx context.Context, out types.Output) error {
	options, err := json.Marshal(out.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if out.Options == nil {
		options = []byte("{}")
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO outputs (`+outputColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id)
		DO UPDATE SET
			device_type = EXCLUDED.device_type,
			name = EXCLUDED.name,
			capability = EXCLUDED.capability,
			amps = EXCLUDED.amps,
			startup_policy = EXCLUDED.startup_policy,
			startup_value = EXCLUDED.startup_value,
			shutdown_policy = EXCLUDED.shutdown_policy,
			shutdown_value = EXCLUDED.shutdown_value,
			pwm_hertz = EXCLUDED.pwm_hertz,
			pwm_invert = EXCLUDED.pwm_invert,
			force_command = EXCLUDED.force_command,
			trigger_at_startup = EXCLUDED.trigger_at_startup,
			measurement_unit = EXCLUDED.measurement_unit,
			channel = EXCLUDED.channel,
			options = EXCLUDED.options,
			updated_at = NOW()
	`, out.ID, out.DeviceType, out.Name, string(out.Capability), out.Amps,
		string(out.StartupPolicy), out.StartupValue, string(out.ShutdownPolicy), out.ShutdownValue,
		out.PWMHertz, out.PWMInvert, out.ForceCommand, out.TriggerAtStartup,
		out.MeasurementUnit, out.Channel, out.LastDutyCycle, out.OffUntil, options,
	)
	if err != nil {
		return fmt.Errorf("failed to save output %s: %w", out.ID, err)
	}
	return nil
}

func (p *PostgresClient) DeleteOutput(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM outputs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete output: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("output %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *PostgresClient) SetOffUntil(ctx context.Context, id string, until *time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outputs SET off_until = $2, updated_at = NOW() WHERE id = $1
	`, id, until)
	if err != nil {
		return fmt.Errorf("failed to set off_until: %w", err)
	}
	return nil
}

func (p *PostgresClient) SetLastDutyCycle(ctx context.Context, id string, duty float64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outputs SET last_duty_cycle = $2, updated_at = NOW() WHERE id = $1
	`, id, duty)
	if err != nil {
		return fmt.Errorf("failed to set last_duty_cycle: %w", err)
	}
	return nil
}

func scanOutput(row pgx.Row) (types.Output, error) {
	var (
		out            types.Output
		capability     string
		startupPolicy  string
		shutdownPolicy string
		optionsJSON    []byte
	)

	err := row.Scan(
		&out.ID, &out.DeviceType, &out.Name, &capability, &out.Amps,
		&startupPolicy, &out.StartupValue, &shutdownPolicy, &out.ShutdownValue,
		&out.PWMHertz, &out.PWMInvert, &out.ForceCommand, &out.TriggerAtStartup,
		&out.MeasurementUnit, &out.Channel, &out.LastDutyCycle, &out.OffUntil, &optionsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Output{}, err
		}
		return types.Output{}, fmt.Errorf("failed to scan output: %w", err)
	}

	out.Capability = types.Capability(capability)
	out.StartupPolicy = types.Policy(startupPolicy)
	out.ShutdownPolicy = types.Policy(shutdownPolicy)

	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &out.Options); err != nil {
			return types.Output{}, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}

	return out, nil
}
