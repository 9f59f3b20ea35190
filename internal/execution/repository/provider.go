package repository

import (
	"github.com/kandev/execwatch/internal/common/config"
	"github.com/kandev/execwatch/internal/db"
)

// Provide opens the configured database and returns a repository that owns it.
func Provide(cfg config.DatabaseConfig) (*SQLRepository, func() error, error) {
	pool, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := NewWithPool(pool)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}
