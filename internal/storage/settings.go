package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// MaxAmps returns the stored amp limit, or the configured default when none
// has been stored yet.
func (p *PostgresClient) MaxAmps(ctx context.Context) (float64, error) {
	var raw string
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, settingMaxAmps).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.defaultMaxAmps, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read max amps: %w", err)
	}

	amps, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid max amps setting %q: %w", raw, err)
	}
	return amps, nil
}

func (p *PostgresClient) SetMaxAmps(ctx context.Context, amps float64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, settingMaxAmps, strconv.FormatFloat(amps, 'f', -1, 64))
	if err != nil {
		return fmt.Errorf("failed to store max amps: %w", err)
	}
	return nil
}
