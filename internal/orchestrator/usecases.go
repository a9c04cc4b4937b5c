// internal/orchestrator/usecases.go
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// RunRequest describes one exploration run. Zero budgets use the
// orchestrator's configured budgets.
type RunRequest struct {
	RunID   string         `json:"run_id,omitempty"`
	AppID   string         `json:"app_id"`
	Budgets domain.Budgets `json:"budgets"`
	Policy  domain.Policy  `json:"policy,omitempty"`
}

// StartSession validates the request and runs the setup nodes. The returned
// state is positioned before the first Perceive, or already stopped when
// setup failed for good.
func (o *Orchestrator) StartSession(ctx context.Context, req RunRequest) (domain.AgentState, error) {
	budgets := req.Budgets
	if budgets == (domain.Budgets{}) {
		budgets = o.opts.Budgets
	}
	st, err := domain.NewAgentState(req.RunID, req.AppID, budgets)
	if err != nil {
		return domain.AgentState{}, fmt.Errorf("invalid run request: %w", err)
	}
	if req.Policy != "" {
		if !req.Policy.IsValid() {
			return domain.AgentState{}, fmt.Errorf("invalid run request: unknown policy %q", req.Policy)
		}
		st = st.WithUpdates(func(s *domain.AgentState) {
			s.Policy = req.Policy
			s.PoliciesTried = []domain.Policy{req.Policy}
		})
	}

	o.runLogger(st).Info("Run started",
		zap.String("policy", string(st.Policy)),
		zap.Int("max_steps", budgets.MaxSteps),
		zap.Duration("max_time", budgets.MaxTime))

	st, _ = o.drive(ctx, st, domain.NodeEnsureDevice, domain.NodePerceive)
	return st, nil
}

// IterateOnce runs one loop iteration, from Perceive back to Perceive or to
// Stop. A stopped state is returned untouched.
func (o *Orchestrator) IterateOnce(ctx context.Context, st domain.AgentState) domain.AgentState {
	if st.StopReason != domain.StopNone {
		return st
	}
	st, _ = o.drive(ctx, st, domain.NodePerceive, domain.NodePerceive)
	return st
}

// FinalizeRun runs the Stop node, collects the summary and persists it. It
// uses its own deadline so a cancelled run is still recorded.
func (o *Orchestrator) FinalizeRun(ctx context.Context, st domain.AgentState) (domain.RunSummary, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FinalizeTimeout)
	defer cancel()

	st, _ = o.step(ctx, domain.NodeStop, st)
	log := o.runLogger(st)

	summary := domain.RunSummary{
		RunID:      st.RunID,
		AppID:      st.AppID,
		StopReason: st.StopReason,
		Class:      st.StopReason.Class(),
		Counters:   st.Counters,
		Duration:   st.Elapsed(),
		Policy:     st.Policy,
		Metrics:    map[string]float64{},
	}
	if st.Failure != nil {
		summary.LastError = st.Failure.Message
	}

	stats, err := o.graph.GetExplorationStats(ctx, st.RunID)
	if err != nil {
		log.Warn("Could not read exploration stats", zap.Error(err))
	}
	summary.Stats = stats

	if o.cache != nil {
		summary.Cache = o.cache.Stats()
	}
	if snap, ok := o.tel.(interface{ Snapshot() map[string]float64 }); ok {
		for k, v := range snap.Snapshot() {
			summary.Metrics[k] = v
		}
	}
	if o.ledger != nil {
		usage := o.ledger.GetUsage(st.RunID)
		summary.Metrics["llm_cost"] = usage.Cost
		summary.Metrics["ledger_tokens"] = float64(usage.Tokens)
		summary.Metrics["ledger_errors"] = float64(usage.Errors)
		defer o.ledger.Reset(st.RunID)
	}

	if err := o.graph.SaveRun(ctx, summary); err != nil {
		return summary, fmt.Errorf("failed to save run %s: %w", st.RunID, persistError(err))
	}

	log.Info("Run finished",
		zap.String("stop_reason", string(summary.StopReason)),
		zap.String("class", string(summary.Class)),
		zap.Int("steps", summary.Counters.StepsTotal),
		zap.Int("screens_new", summary.Counters.ScreensNew),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// Run executes a whole run: setup, the loop until a stop reason is set, and
// finalization.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (domain.RunSummary, error) {
	st, err := o.StartSession(ctx, req)
	if err != nil {
		return domain.RunSummary{}, err
	}
	for st.StopReason == domain.StopNone {
		st = o.IterateOnce(ctx, st)
	}
	return o.FinalizeRun(ctx, st)
}
