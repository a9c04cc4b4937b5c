// internal/blobstore/factory.go
package blobstore

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/config"
)

// Open builds the blob store selected by cfg.BlobBackend.
func Open(cfg config.StorageConfig, logger *zap.Logger) (schemas.BlobStore, error) {
	switch strings.ToLower(cfg.BlobBackend) {
	case "", "fs":
		return NewFSStore(cfg.BlobRoot, cfg.Compress, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
