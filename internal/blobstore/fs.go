// internal/blobstore/fs.go
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// compressedExt marks brotli-encoded blob files.
const compressedExt = ".br"

// FSStore writes each blob to <root>/<kind>/<sha256>, brotli-compressed when
// enabled. Keys are independent of compression, so a store can read blobs
// written with either setting.
type FSStore struct {
	root     string
	compress bool
	log      *zap.Logger
}

var _ schemas.BlobStore = (*FSStore)(nil)

// NewFSStore prepares root (a leading ~ is expanded).
func NewFSStore(root string, compress bool, logger *zap.Logger) (*FSStore, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("failed to expand blob root: %w", err)
	}
	if expanded == "" {
		return nil, errors.New("blob root is empty")
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, storageError("blobstore.init", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSStore{root: expanded, compress: compress, log: logger.Named("blobstore")}, nil
}

// Root returns the expanded root directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) Put(ctx context.Context, kind string, data []byte) (string, error) {
	key, err := KeyFor(kind, data)
	if err != nil {
		return "", err
	}
	if ok, _ := s.Exists(ctx, key); ok {
		return key, nil
	}

	path := s.path(key)
	if s.compress {
		path += compressedExt
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", storageError("blobstore.put", err)
	}

	payload := data
	if s.compress {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(data); err != nil {
			return "", storageError("blobstore.put", err)
		}
		if err := w.Close(); err != nil {
			return "", storageError("blobstore.put", err)
		}
		payload = buf.Bytes()
	}

	// Write to a sibling temp file and rename so readers never see a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", storageError("blobstore.put", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", storageError("blobstore.put", err)
	}
	if err := tmp.Close(); err != nil {
		return "", storageError("blobstore.put", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", storageError("blobstore.put", err)
	}

	s.log.Debug("Blob stored", zap.String("key", key), zap.Int("bytes", len(data)), zap.Int("stored_bytes", len(payload)))
	return key, nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if _, _, err := SplitKey(key); err != nil {
		return nil, err
	}
	path := s.path(key)

	raw, err := os.ReadFile(path + compressedExt)
	if err == nil {
		data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, storageError("blobstore.get", fmt.Errorf("decompress %s: %w", key, err))
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, storageError("blobstore.get", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, storageError("blobstore.get", err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if _, _, err := SplitKey(key); err != nil {
		return err
	}
	path := s.path(key)
	for _, p := range []string{path, path + compressedExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return storageError("blobstore.delete", err)
		}
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, _, err := SplitKey(key); err != nil {
		return false, err
	}
	path := s.path(key)
	for _, p := range []string{path + compressedExt, path} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, storageError("blobstore.exists", err)
		}
	}
	return false, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
