// Package db opens the durable store used for execution snapshots, tool
// call state and logs.
package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/execwatch/internal/common/config"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite3 = "sqlite3"
	DriverPGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == DriverPGX
}

// Pool provides separate read and write database connections.
//
// For SQLite the writer is a single connection and the reader a read-only
// pool over the same WAL database. For PostgreSQL both are the same *sqlx.DB.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Open opens the pool described by cfg.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, DriverSQLite3), sqlx.NewDb(reader, DriverSQLite3)), nil
	case "postgres":
		conn, err := OpenPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return NewPool(conn, conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Writer returns the connection pool used for writes and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// DriverName returns the database/sql driver of the pool.
func (p *Pool) DriverName() string { return p.writer.DriverName() }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
