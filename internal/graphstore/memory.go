// internal/graphstore/memory.go
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// MemoryRepo is an ephemeral GraphRepository. It backs tests and runs that
// do not need the graph after the process exits.
type MemoryRepo struct {
	mu       sync.RWMutex
	nodes    map[string]domain.ScreenNode
	edges    map[string]domain.TransitionEdge
	outgoing map[string][]string // node id -> edge ids
	runs     map[string]domain.RunSummary
	log      *zap.Logger
}

var _ schemas.GraphRepository = (*MemoryRepo)(nil)

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo(logger *zap.Logger) *MemoryRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRepo{
		nodes:    make(map[string]domain.ScreenNode),
		edges:    make(map[string]domain.TransitionEdge),
		outgoing: make(map[string][]string),
		runs:     make(map[string]domain.RunSummary),
		log:      logger.Named("memory_graph"),
	}
}

func (r *MemoryRepo) UpsertNode(ctx context.Context, sig domain.ScreenSignature, meta domain.NodeMeta) (domain.UpsertResult, error) {
	id, err := NodeID(sig)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	now := nowFunc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.Visits++
		n.LastSeen = now
		r.nodes[id] = n
		return domain.UpsertResult{ID: id}, nil
	}
	r.nodes[id] = domain.ScreenNode{
		ID:           id,
		AppID:        meta.AppID,
		LayoutHash:   sig.LayoutHash,
		OCRStemsHash: sig.OCRStemsHash,
		FirstRunID:   meta.RunID,
		Bundle:       meta.Bundle,
		Visits:       1,
		FirstSeen:    now,
		LastSeen:     now,
	}
	r.log.Debug("Node created", zap.String("id", id))
	return domain.UpsertResult{ID: id, Created: true}, nil
}

func (r *MemoryRepo) UpsertEdge(ctx context.Context, from, to, action string, meta domain.EdgeMeta) (domain.UpsertResult, error) {
	id, err := EdgeID(from, to, action)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	now := nowFunc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[from]; !ok {
		return domain.UpsertResult{}, fmt.Errorf("source node %q: %w", from, ErrNotFound)
	}
	if _, ok := r.nodes[to]; !ok {
		return domain.UpsertResult{}, fmt.Errorf("destination node %q: %w", to, ErrNotFound)
	}
	if e, ok := r.edges[id]; ok {
		e.Count++
		e.LastSeen = now
		r.edges[id] = e
		return domain.UpsertResult{ID: id}, nil
	}
	r.edges[id] = domain.TransitionEdge{
		ID:         id,
		From:       from,
		To:         to,
		Action:     action,
		FirstRunID: meta.RunID,
		Count:      1,
		FirstSeen:  now,
		LastSeen:   now,
	}
	r.outgoing[from] = append(r.outgoing[from], id)
	return domain.UpsertResult{ID: id, Created: true}, nil
}

func (r *MemoryRepo) GetNode(ctx context.Context, id string) (domain.ScreenNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return domain.ScreenNode{}, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// GetNeighbors returns the distinct targets of id's outgoing edges, sorted by id.
func (r *MemoryRepo) GetNeighbors(ctx context.Context, id string) ([]domain.ScreenNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []domain.ScreenNode
	for _, eid := range r.outgoing[id] {
		to := r.edges[eid].To
		if seen[to] {
			continue
		}
		seen[to] = true
		out = append(out, r.nodes[to])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) GetExplorationStats(ctx context.Context, runID string) (domain.ExplorationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := domain.ExplorationStats{NodesTotal: len(r.nodes), EdgesTotal: len(r.edges)}
	for _, n := range r.nodes {
		if n.FirstRunID == runID {
			stats.RunNodes++
		}
	}
	for _, e := range r.edges {
		if e.FirstRunID == runID {
			stats.RunEdges++
		}
	}
	return stats, nil
}

func (r *MemoryRepo) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run summary has no run id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[summary.RunID] = summary
	return nil
}

// Run returns a saved run summary.
func (r *MemoryRepo) Run(runID string) (domain.RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runs[runID]
	return s, ok
}

func (r *MemoryRepo) Close() error { return nil }
