// internal/graphstore/factory.go
package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/config"
)

// Open builds the graph repository selected by cfg.GraphBackend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (schemas.GraphRepository, error) {
	switch strings.ToLower(cfg.GraphBackend) {
	case "", "memory":
		return NewMemoryRepo(logger), nil
	case "sqlite":
		path, err := homedir.Expand(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sqlite path: %w", err)
		}
		return OpenSQLite(ctx, path, logger)
	case "postgres":
		repo, err := Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.GraphBackend)
	}
}
