// internal/domain/summary.go
package domain

import "time"

// ExplorationStats are repository-side totals for a run.
type ExplorationStats struct {
	NodesTotal int `json:"nodes_total" yaml:"nodes_total"`
	EdgesTotal int `json:"edges_total" yaml:"edges_total"`
	RunNodes   int `json:"run_nodes" yaml:"run_nodes"`
	RunEdges   int `json:"run_edges" yaml:"run_edges"`
}

// CacheStats are aggregate decision cache statistics.
type CacheStats struct {
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
	Size      int   `json:"size" yaml:"size"`
}

// HitRate returns hits/(hits+misses), or 0 when nothing was looked up.
func (c CacheStats) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// RunSummary is emitted by the Stop node.
type RunSummary struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	AppID      string             `json:"app_id" yaml:"app_id"`
	StopReason StopReason         `json:"stop_reason" yaml:"stop_reason"`
	Class      ReasonClass        `json:"class" yaml:"class"`
	Counters   Counters           `json:"counters" yaml:"counters"`
	Duration   time.Duration      `json:"duration" yaml:"duration"`
	Policy     Policy             `json:"policy" yaml:"policy"`
	Stats      ExplorationStats   `json:"stats" yaml:"stats"`
	Cache      CacheStats         `json:"cache" yaml:"cache"`
	Metrics    map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	LastError  string             `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}
