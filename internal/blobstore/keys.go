// internal/blobstore/keys.go
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("blob not found")

var (
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	keyPattern  = regexp.MustCompile(`^([a-z][a-z0-9_]*)/([0-9a-f]{64})$`)
)

// KeyFor derives the content address of data under kind. Equal payloads
// always map to the same key.
func KeyFor(kind string, data []byte) (string, error) {
	if !kindPattern.MatchString(kind) {
		return "", fmt.Errorf("invalid blob kind %q", kind)
	}
	sum := sha256.Sum256(data)
	return kind + "/" + hex.EncodeToString(sum[:]), nil
}

// SplitKey validates key and returns its kind and hash parts.
func SplitKey(key string) (kind, hash string, err error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", "", fmt.Errorf("malformed blob key %q", key)
	}
	return m[1], m[2], nil
}

func storageError(op string, err error) error {
	return domain.NewError(domain.CodeStorage, op, err)
}
