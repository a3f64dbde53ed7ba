package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the shared pool. It stays nil when Postgres is unreachable, in which
// case every query fails with errNoDB and callers fall back.
var DB *pgxpool.Pool

var errNoDB = errors.New("database not connected")

// ConnectDB opens the pool and pings it once.
func ConnectDB(ctx context.Context, connStr string) error {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("db ping error: %w", err)
	}

	DB = pool
	return nil
}

// Close releases the pool if one was opened.
func Close() {
	if DB != nil {
		DB.Close()
	}
}

func pool() (*pgxpool.Pool, error) {
	if DB == nil {
		return nil, errNoDB
	}
	return DB, nil
}
