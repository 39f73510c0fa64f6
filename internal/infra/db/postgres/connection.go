package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPgxPool connects a pool with the given max connections.
func NewPgxPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	return pgxpool.ConnectConfig(ctx, cfg)
}
