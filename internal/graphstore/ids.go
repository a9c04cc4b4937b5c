// internal/graphstore/ids.go
package graphstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// ErrNotFound is returned by reads for an unknown id.
var ErrNotFound = errors.New("not found")

// NodeID is the identity of a screen node: its composite signature hash.
func NodeID(sig domain.ScreenSignature) (string, error) {
	if sig.IsZero() {
		return "", errors.New("signature has no composite hash")
	}
	return sig.CompositeHash, nil
}

// EdgeID derives a transition id from its endpoints and action key, so
// repeated upserts of the same transition collide.
func EdgeID(from, to, action string) (string, error) {
	if from == "" || to == "" || action == "" {
		return "", fmt.Errorf("edge needs from, to and action (got %q, %q, %q)", from, to, action)
	}
	h := sha256.New()
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	h.Write([]byte{0})
	h.Write([]byte(action))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dbError classifies a driver failure for the orchestrator.
func dbError(op string, err error) error {
	return domain.NewError(domain.CodeDatabase, op, err)
}

// nowFunc is a variable so tests can pin time.
var nowFunc = func() time.Time { return time.Now().UTC() }
