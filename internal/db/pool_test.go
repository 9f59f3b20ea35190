package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/common/config"
)

func TestOpenSQLitePool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "execwatch.db")
	pool, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	assert.Equal(t, DriverSQLite3, pool.DriverName())
	assert.False(t, IsPostgres(pool.DriverName()))

	_, err = pool.Writer().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = pool.Writer().Exec(`INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, pool.Reader().Get(&v, `SELECT v FROM kv WHERE k = ?`, "a"))
	assert.Equal(t, "1", v)

	_, err = pool.Reader().Exec(`INSERT INTO kv (k, v) VALUES (?, ?)`, "b", "2")
	assert.Error(t, err, "reader pool is read-only")
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
	assert.True(t, IsPostgres(DriverPGX))
}

func TestPostgresSettings(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		max, min int
	}{
		{"defaults", config.DatabaseConfig{}, defaultPostgresMaxConns, defaultPostgresMinConns},
		{"configured", config.DatabaseConfig{MaxConns: 20, MinConns: 4}, 20, 4},
		{"idle floor capped", config.DatabaseConfig{MaxConns: 1, MinConns: 3}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxConns, minConns := postgresPoolSize(tt.cfg)
			assert.Equal(t, tt.max, maxConns)
			assert.Equal(t, tt.min, minConns)
		})
	}

	dsn := postgresDSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", DBName: "execwatch", SSLMode: "disable"})
	assert.Contains(t, dsn, "host=db port=5432")
	assert.Contains(t, dsn, "application_name=execwatch")
}
