// internal/budget/ledger.go
package budget

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Ledger tracks monotonic resource usage per run. One Ledger is shared by all
// runs of a process; entries are keyed by run id.
type Ledger struct {
	mu     sync.RWMutex
	runs   map[string]*schemas.Usage
	logger *zap.Logger
}

var _ schemas.BudgetLedger = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		runs:   make(map[string]*schemas.Usage),
		logger: logger.Named("budget_ledger"),
	}
}

// entry returns the usage record for runID, creating it. Caller holds mu.
func (l *Ledger) entry(runID string) *schemas.Usage {
	u, ok := l.runs[runID]
	if !ok {
		u = &schemas.Usage{}
		l.runs[runID] = u
	}
	return u
}

// TrackStep records one executed action.
func (l *Ledger) TrackStep(runID string) {
	l.mu.Lock()
	l.entry(runID).Steps++
	l.mu.Unlock()
}

// TrackTokens records an LLM call. Negative inputs are ignored so usage never decreases.
func (l *Ledger) TrackTokens(runID string, tokens int, cost float64) {
	if tokens < 0 {
		tokens = 0
	}
	if cost < 0 {
		cost = 0
	}
	l.mu.Lock()
	u := l.entry(runID)
	u.Tokens += tokens
	u.Cost += cost
	u.Calls++
	l.mu.Unlock()
}

// TrackError records a classified failure.
func (l *Ledger) TrackError(runID string) {
	l.mu.Lock()
	l.entry(runID).Errors++
	l.mu.Unlock()
}

// GetUsage returns a snapshot of the run's usage.
func (l *Ledger) GetUsage(runID string) schemas.Usage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if u, ok := l.runs[runID]; ok {
		return *u
	}
	return schemas.Usage{}
}

// IsBudgetExceeded reports whether the ledger's view of the run reached a
// step or token cap.
func (l *Ledger) IsBudgetExceeded(runID string, budgets domain.Budgets) bool {
	u := l.GetUsage(runID)
	exceeded := u.Steps >= budgets.MaxSteps || u.Tokens >= budgets.MaxTokens
	if exceeded {
		l.logger.Debug("Budget exceeded",
			zap.String("run_id", runID),
			zap.Int("steps", u.Steps),
			zap.Int("tokens", u.Tokens))
	}
	return exceeded
}

// Reset drops the run's entry. It is called once a run is finalized.
func (l *Ledger) Reset(runID string) {
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}

// Runs returns the number of tracked runs.
func (l *Ledger) Runs() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.runs)
}
