package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/kandev/execwatch/internal/common/config"
)

// The monitor writes one graph per finished execution plus one upsert per
// tool transition, so a small pool is enough.
const (
	defaultPostgresMaxConns = 8
	defaultPostgresMinConns = 2
	postgresConnMaxIdleTime = 5 * time.Minute
	postgresPingTimeout     = 5 * time.Second
	postgresApplicationName = "execwatch"
)

// OpenPostgres opens the execution store on PostgreSQL through pgx, sized
// from cfg.
func OpenPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	conn, err := sqlx.Open(DriverPGX, postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	maxConns, minConns := postgresPoolSize(cfg)
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)
	conn.SetConnMaxIdleTime(postgresConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

func postgresDSN(cfg config.DatabaseConfig) string {
	return cfg.DSN() + " application_name=" + postgresApplicationName
}

// postgresPoolSize applies defaults and keeps the idle floor within the cap.
func postgresPoolSize(cfg config.DatabaseConfig) (maxConns, minConns int) {
	maxConns, minConns = cfg.MaxConns, cfg.MinConns
	if maxConns <= 0 {
		maxConns = defaultPostgresMaxConns
	}
	if minConns <= 0 {
		minConns = defaultPostgresMinConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	return maxConns, minConns
}
