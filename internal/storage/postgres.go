package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/KevinKickass/OpenOutputCore/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type PostgresClient struct {
	pool           *pgxpool.Pool
	defaultMaxAmps float64
}

// NewPostgresClient connects to the database. defaultMaxAmps is reported
// until a max_amps setting has been stored.
func NewPostgresClient(cfg config.DatabaseConfig, defaultMaxAmps float64) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool, defaultMaxAmps: defaultMaxAmps}, nil
}

// EnsureSchema creates the tables the service needs if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

var _ Store = (*PostgresClient)(nil)
