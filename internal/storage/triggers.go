package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/jackc/pgx/v5"
)

const triggerColumns = `id, name, output_id, kind, condition, threshold, active`

func (p *PostgresClient) ListTriggers(ctx context.Context) ([]types.Trigger, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+triggerColumns+` FROM output_triggers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	return collectTriggers(rows)
}

// ListOutputTriggers returns the triggers bound to one output
func (p *PostgresClient) ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+triggerColumns+`
		FROM output_triggers
		WHERE output_id = $1
		ORDER BY id
	`, outputID)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	return collectTriggers(rows)
}

func (p *PostgresClient) SaveTrigger(ctx context.Context, t types.Trigger) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO output_triggers (`+triggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			output_id = EXCLUDED.output_id,
			kind = EXCLUDED.kind,
			condition = EXCLUDED.condition,
			threshold = EXCLUDED.threshold,
			active = EXCLUDED.active
	`, t.ID, t.Name, t.OutputID, string(t.Kind), string(t.Condition), t.Threshold, t.Active)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", t.ID, err)
	}
	return nil
}

func (p *PostgresClient) DeleteTrigger(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM output_triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	return nil
}

func collectTriggers(rows pgx.Rows) ([]types.Trigger, error) {
	defer rows.Close()

	triggers := make([]types.Trigger, 0)
	for rows.Next() {
		var (
			t         types.Trigger
			kind      string
			condition string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.OutputID, &kind, &condition, &t.Threshold, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		t.Kind = types.TriggerKind(kind)
		t.Condition = types.TriggerCondition(condition)
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read triggers: %w", err)
	}
	return triggers, nil
}
