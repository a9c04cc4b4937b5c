// internal/cache/cache.go
package cache

import (
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Default TTLs per decision class.
const (
	PerScreenTTL = 7 * 24 * time.Hour
	RoutingTTL   = time.Hour
)

// Config sizes the cache tiers. A zero size means unbounded.
type Config struct {
	PerScreenTTL  time.Duration
	RoutingTTL    time.Duration
	PerScreenSize int
	RoutingSize   int
}

// DefaultConfig returns the stock TTLs and sizes.
func DefaultConfig() Config {
	return Config{
		PerScreenTTL:  PerScreenTTL,
		RoutingTTL:    RoutingTTL,
		PerScreenSize: 10000,
		RoutingSize:   2000,
	}
}

// DecisionCache memoizes decision outputs. Per-screen decisions and the more
// volatile routing decisions live in separate expiring LRUs so each keeps its
// own TTL. Keys are pure functions of content, so concurrent runs share entries.
type DecisionCache struct {
	perScreen *expirable.LRU[string, []byte]
	routing   *expirable.LRU[string, []byte]
	logger    *zap.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	evictCalls  atomic.Int64
	invalidated atomic.Int64
}

var _ schemas.DecisionCache = (*DecisionCache)(nil)

// New creates a decision cache.
func New(cfg Config, logger *zap.Logger) *DecisionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerScreenTTL <= 0 {
		cfg.PerScreenTTL = PerScreenTTL
	}
	if cfg.RoutingTTL <= 0 {
		cfg.RoutingTTL = RoutingTTL
	}
	c := &DecisionCache{logger: logger.Named("decision_cache")}
	onEvict := func(string, []byte) { c.evictCalls.Add(1) }
	c.perScreen = expirable.NewLRU[string, []byte](cfg.PerScreenSize, onEvict, cfg.PerScreenTTL)
	c.routing = expirable.NewLRU[string, []byte](cfg.RoutingSize, onEvict, cfg.RoutingTTL)
	return c
}

// TTLFor returns the TTL class of a decision type.
func TTLFor(decision domain.DecisionType, cfg Config) time.Duration {
	if isRouting(decision) {
		return cfg.RoutingTTL
	}
	return cfg.PerScreenTTL
}

func isRouting(decision domain.DecisionType) bool {
	switch decision {
	case domain.DecisionShouldContinue, domain.DecisionSwitchPolicy:
		return true
	case domain.DecisionChooseAction, domain.DecisionVerify, domain.DecisionDetectProgress:
		return false
	}
	return true
}

func (c *DecisionCache) tierForKey(key string) *expirable.LRU[string, []byte] {
	decision, _, _ := strings.Cut(key, keySep)
	if isRouting(domain.DecisionType(decision)) {
		return c.routing
	}
	return c.perScreen
}

// Get returns the cached value for key.
func (c *DecisionCache) Get(key string) ([]byte, bool) {
	v, ok := c.tierForKey(key).Get(key)
	if ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return nil, false
}

// Discard removes key after a Get whose value the caller rejected and moves
// that lookup from the hit count to the miss count.
func (c *DecisionCache) Discard(key string) {
	if c.tierForKey(key).Remove(key) {
		c.invalidated.Add(1)
	}
	if c.hits.Add(-1) < 0 {
		c.hits.Add(1)
		return
	}
	c.misses.Add(1)
}

// Set stores value under key in the tier for decision.
func (c *DecisionCache) Set(key string, decision domain.DecisionType, value []byte) {
	tier := c.perScreen
	if isRouting(decision) {
		tier = c.routing
	}
	tier.Add(key, append([]byte(nil), value...))
}

// Invalidate removes every key matching the glob pattern (path.Match syntax)
// and returns how many were removed.
func (c *DecisionCache) Invalidate(pattern string) int {
	removed := 0
	for _, tier := range []*expirable.LRU[string, []byte]{c.perScreen, c.routing} {
		for _, key := range tier.Keys() {
			ok, err := path.Match(pattern, key)
			if err != nil {
				c.logger.Warn("Invalid invalidation pattern", zap.String("pattern", pattern), zap.Error(err))
				return removed
			}
			if ok && tier.Remove(key) {
				removed++
				c.invalidated.Add(1)
			}
		}
	}
	if removed > 0 {
		c.logger.Debug("Invalidated cache entries", zap.String("pattern", pattern), zap.Int("count", removed))
	}
	return removed
}

// Stats returns aggregate statistics. Evictions count TTL expiry and LRU
// pressure, not explicit invalidation.
func (c *DecisionCache) Stats() domain.CacheStats {
	return domain.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictCalls.Load() - c.invalidated.Load(),
		Size:      c.perScreen.Len() + c.routing.Len(),
	}
}
