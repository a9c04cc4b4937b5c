// internal/cache/key.go
package cache

import (
	"strings"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

const keySep = ":"

// Key is the composite cache key of a decision.
type Key struct {
	Decision  domain.DecisionType
	Model     string
	Signature string
	Delta     string
	Context   string
	// Extra discriminates decisions that share the other parts, e.g. plan cursor.
	Extra string
}

// String renders the key with the decision type first, so "verify:*" style
// patterns select one decision class.
func (k Key) String() string {
	parts := []string{string(k.Decision), k.Model, k.Signature, k.Delta, k.Context, k.Extra}
	for i, p := range parts {
		if p == "" {
			parts[i] = "-"
			continue
		}
		parts[i] = strings.ReplaceAll(p, keySep, "_")
	}
	return strings.Join(parts, keySep)
}
