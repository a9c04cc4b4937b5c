// internal/orchestrator/recovery.go
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/retry"
)

// terminal reports errors that neither a retry nor a restart can fix.
func terminal(err *domain.Error) bool {
	switch err.Code {
	case domain.CodeDeviceOffline, domain.CodeAppNotInstalled, domain.CodeRestartExhausted,
		domain.CodeTokenLimit, domain.CodeTimeLimit, domain.CodeStepLimit:
		return true
	}
	return false
}

// recoverFromError retries the failed node for transient errors, restarts
// the app once retries are spent or the error is not transient, and stops
// for errors a restart cannot fix.
func (o *Orchestrator) recoverFromError(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	f := st.Failure
	if f == nil || f.Err == nil {
		return st, domain.NodePerceive
	}
	if ctx.Err() != nil {
		return st.WithUpdates(domain.Stopped(domain.StopUserCancelled)), domain.NodeStop
	}
	log := o.runLogger(st).With(zap.String("failed_node", string(f.Node)), zap.String("code", string(f.Err.Code)))

	switch {
	case terminal(f.Err):
		reason := domain.StopReasonFor(f.Err)
		log.Warn("Unrecoverable error, stopping", zap.String("stop_reason", string(reason)))
		return st.WithUpdates(domain.Stopped(reason), domain.Record(domain.NodeRecoverFromError, string(reason))), domain.NodeStop

	case f.Err.Transient() && !o.opts.Retry.Exhausted(f.Attempts):
		attempt := f.Attempts + 1
		wait := o.opts.Retry.Delay(attempt)
		log.Debug("Retrying node", zap.Int("attempt", attempt), zap.Duration("wait", wait))
		if err := retry.Sleep(ctx, wait); err != nil {
			return st.WithUpdates(domain.Stopped(domain.StopUserCancelled)), domain.NodeStop
		}
		return st.WithUpdates(func(s *domain.AgentState) {
			s.Failure.Attempts = attempt
		}, domain.Record(domain.NodeRecoverFromError, fmt.Sprintf("retry %d of %s", attempt, f.Node))), f.Node

	default:
		log.Info("Escalating to app restart", zap.Int("attempts", f.Attempts))
		return st.WithUpdates(domain.Record(domain.NodeRecoverFromError, "restart")), domain.NodeRestartApp
	}
}

// restartApp relaunches the app, bounded by the restart budget. A failed
// restart still consumes one restart.
func (o *Orchestrator) restartApp(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	if st.Counters.RestartsUsed >= st.Budgets.RestartLimit {
		o.runLogger(st).Warn("Restart budget exhausted", zap.Int("restart_limit", st.Budgets.RestartLimit))
		return st.WithUpdates(
			domain.Stopped(domain.StopRestartExhausted),
			domain.Record(domain.NodeRestartApp, "exhausted"),
		), domain.NodeStop
	}

	rctx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()
	err := o.device.RestartApp(rctx, st.AppID)

	st = st.WithUpdates(
		domain.Counted(func(c *domain.Counters) { c.RestartsUsed++ }),
		domain.ClearTransient(),
	)
	o.tel.Metric("restarts", 1, nil)

	if err != nil {
		de := classify("restart_app", domain.CodeActionTimeout, err)
		if o.ledger != nil {
			o.ledger.TrackError(st.RunID)
		}
		st = st.WithUpdates(domain.Counted(func(c *domain.Counters) { c.Errors++ }), domain.Record(domain.NodeRestartApp, string(de.Code)))
		if terminal(de) {
			return st.WithUpdates(domain.Stopped(domain.StopReasonFor(de))), domain.NodeStop
		}
		o.runLogger(st).Warn("Restart failed", zap.Error(de))
		return st, domain.NodeRestartApp
	}
	return st.WithUpdates(domain.Record(domain.NodeRestartApp, fmt.Sprintf("restart %d", st.Counters.RestartsUsed))), domain.NodeWaitIdle
}

// stop settles the terminal reason. A run that reaches Stop without one
// either ran out of budget or finished.
func (o *Orchestrator) stop(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	reason := st.StopReason
	if reason == domain.StopNone {
		reason = domain.StopSuccess
		if st.IsBudgetExhausted() {
			reason = domain.StopBudgetExhausted
		}
	}
	return st.WithUpdates(domain.Stopped(reason), domain.Record(domain.NodeStop, string(reason))), ""
}
