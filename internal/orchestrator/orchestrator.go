// internal/orchestrator/orchestrator.go
// Drives one exploration run through the node state machine. It is injected
// with every capability port, so the same driver runs against the simulator,
// a real device bridge, or test doubles.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/observability"
	"github.com/xkilldash9x/screengraph/internal/perception"
	"github.com/xkilldash9x/screengraph/internal/retry"
	"github.com/xkilldash9x/screengraph/internal/salience"
	"github.com/xkilldash9x/screengraph/internal/signature"
)

// Perceiver captures the current screen and stores its assets.
type Perceiver interface {
	Capture(ctx context.Context) (perception.Capture, error)
}

// Deps are the collaborators of one orchestrator. Device, Perceiver, Plane
// and Graph are required.
type Deps struct {
	Device     schemas.Device
	Perceiver  Perceiver
	Plane      *decision.Plane
	Graph      schemas.GraphRepository
	Ledger     schemas.BudgetLedger
	Cache      schemas.DecisionCache
	Telemetry  schemas.Telemetry
	Signatures *signature.Service
	Ranker     *salience.Ranker
}

// Options hold the per-operation bounds of the loop.
type Options struct {
	ActionTimeout   time.Duration
	IdleTimeout     time.Duration
	IdlePoll        time.Duration
	PersistTimeout  time.Duration
	FinalizeTimeout time.Duration
	LongPressHold   time.Duration
	WaitDuration    time.Duration
	Retry           retry.Policy
	TopK            int
	Budgets         domain.Budgets
}

// DefaultOptions returns the stock timeouts: 10s per device action, 5s to
// settle, and the 100/200/400ms retry schedule.
func DefaultOptions() Options {
	return Options{
		ActionTimeout:   10 * time.Second,
		IdleTimeout:     5 * time.Second,
		IdlePoll:        250 * time.Millisecond,
		PersistTimeout:  10 * time.Second,
		FinalizeTimeout: 10 * time.Second,
		LongPressHold:   800 * time.Millisecond,
		WaitDuration:    500 * time.Millisecond,
		Retry:           retry.DefaultPolicy(),
		TopK:            salience.DefaultK,
		Budgets:         domain.DefaultBudgets(),
	}
}

// node consumes a state and returns the next state and the node to run next.
// An empty next name ends the run.
type node func(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName)

// Orchestrator owns the node table of a run. It keeps no per-run state; every
// node is a function of the AgentState it receives.
type Orchestrator struct {
	device     schemas.Device
	perceiver  Perceiver
	plane      *decision.Plane
	graph      schemas.GraphRepository
	ledger     schemas.BudgetLedger
	cache      schemas.DecisionCache
	tel        schemas.Telemetry
	signatures *signature.Service
	ranker     *salience.Ranker
	opts       Options
	logger     *zap.Logger
	nodes      map[domain.NodeName]node
}

// New wires an orchestrator. Zero options fall back to DefaultOptions.
func New(deps Deps, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Device == nil || deps.Perceiver == nil || deps.Plane == nil || deps.Graph == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = withDefaults(opts)
	if deps.Telemetry == nil {
		deps.Telemetry = observability.NewTelemetry(logger, nil)
	}
	if deps.Signatures == nil {
		deps.Signatures = signature.New()
	}
	if deps.Ranker == nil {
		deps.Ranker = salience.NewRanker(opts.TopK, salience.DefaultWeights())
	}

	o := &Orchestrator{
		device:     deps.Device,
		perceiver:  deps.Perceiver,
		plane:      deps.Plane,
		graph:      deps.Graph,
		ledger:     deps.Ledger,
		cache:      deps.Cache,
		tel:        deps.Telemetry,
		signatures: deps.Signatures,
		ranker:     deps.Ranker,
		opts:       opts,
		logger:     logger.Named("orchestrator"),
	}
	o.nodes = map[domain.NodeName]node{
		domain.NodeEnsureDevice:     o.ensureDevice,
		domain.NodeProvisionApp:     o.provisionApp,
		domain.NodeLaunchOrAttach:   o.launchOrAttach,
		domain.NodeWaitIdle:         o.waitIdle,
		domain.NodePerceive:         o.perceive,
		domain.NodeEnumerateActions: o.enumerateActions,
		domain.NodeChooseAction:     o.chooseAction,
		domain.NodeAct:              o.act,
		domain.NodeVerify:           o.verify,
		domain.NodePersist:          o.persist,
		domain.NodeDetectProgress:   o.detectProgress,
		domain.NodeShouldContinue:   o.shouldContinue,
		domain.NodeSwitchPolicy:     o.switchPolicy,
		domain.NodeRestartApp:       o.restartApp,
		domain.NodeRecoverFromError: o.recoverFromError,
		domain.NodeStop:             o.stop,
	}
	return o, nil
}

func withDefaults(opts Options) Options {
	d := DefaultOptions()
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = d.ActionTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = d.IdleTimeout
	}
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = d.IdlePoll
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = d.PersistTimeout
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = d.FinalizeTimeout
	}
	if opts.LongPressHold <= 0 {
		opts.LongPressHold = d.LongPressHold
	}
	if opts.WaitDuration <= 0 {
		opts.WaitDuration = d.WaitDuration
	}
	if opts.Retry.MaxRetries <= 0 || opts.Retry.Initial <= 0 {
		opts.Retry = d.Retry
	}
	if opts.Retry.Multiplier < 1 {
		opts.Retry.Multiplier = d.Retry.Multiplier
	}
	if opts.TopK <= 0 || opts.TopK > domain.MaxActions {
		opts.TopK = d.TopK
	}
	if opts.Budgets == (domain.Budgets{}) {
		opts.Budgets = d.Budgets
	}
	return opts
}

// step runs a single node. A panicking node is converted into a classified
// failure routed to recovery; a panic during recovery or finalization stops
// the run as a crash.
func (o *Orchestrator) step(ctx context.Context, name domain.NodeName, st domain.AgentState) (out domain.AgentState, next domain.NodeName) {
	fn, ok := o.nodes[name]
	if !ok {
		err := domain.NewError(domain.CodeNodePanic, string(name), fmt.Errorf("unknown node %q", name))
		return st.WithUpdates(domain.Failed(name, err), domain.Stopped(domain.StopCrash)), domain.NodeStop
	}

	span := o.tel.TraceStart("node."+string(name), map[string]string{"run_id": st.RunID})
	defer func() {
		if r := recover(); r != nil {
			err := domain.NewError(domain.CodeNodePanic, string(name), fmt.Errorf("panic: %v", r))
			o.runLogger(st).Error("Node panicked",
				zap.String("node", string(name)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			o.tel.TraceEnd(span, err)

			switch name {
			case domain.NodeStop:
				out, next = st.WithUpdates(domain.Stopped(domain.StopCrash)), ""
			case domain.NodeRecoverFromError, domain.NodeRestartApp:
				out, next = st.WithUpdates(domain.Failed(name, err), domain.Stopped(domain.StopCrash)), domain.NodeStop
			default:
				out, next = st.WithUpdates(domain.Failed(name, err)), domain.NodeRecoverFromError
			}
			out = out.WithUpdates(elapsed(out))
		}
	}()

	out, next = fn(ctx, st)

	var spanErr error
	if next == domain.NodeRecoverFromError && out.Failure != nil {
		spanErr = out.Failure.Err
	}
	o.tel.TraceEnd(span, spanErr)
	o.tel.Metric("node_executions", 1, map[string]string{"node": string(name)})

	updates := []domain.Update{elapsed(out)}
	// A node that completes and moves the run forward has resolved any pending
	// failure. A stopping run keeps it for the summary.
	if out.Failure != nil && name != domain.NodeRecoverFromError && name != domain.NodeStop &&
		next != domain.NodeRecoverFromError && next != domain.NodeStop && next != "" {
		updates = append(updates, domain.Recovered())
	}
	return out.WithUpdates(updates...), next
}

func elapsed(st domain.AgentState) domain.Update {
	d := time.Since(st.StartedAt)
	return domain.Counted(func(c *domain.Counters) { *c = c.WithElapsed(d) })
}

// drive runs nodes starting at from until the machine reaches until again
// (without running it), reaches Stop, or ends. Cancellation and a set stop
// reason are honored between nodes and always lead to Stop.
func (o *Orchestrator) drive(ctx context.Context, st domain.AgentState, from, until domain.NodeName) (domain.AgentState, domain.NodeName) {
	next := from
	first := true
	for next != "" {
		if next == domain.NodeStop {
			return st, next
		}
		if !first && next == until {
			return st, next
		}
		if ctx.Err() != nil {
			o.runLogger(st).Info("Run cancelled", zap.String("pending_node", string(next)))
			return st.WithUpdates(domain.Stopped(domain.StopUserCancelled), domain.Record(next, "cancelled")), domain.NodeStop
		}
		if st.StopReason != domain.StopNone {
			return st, domain.NodeStop
		}
		first = false
		st, next = o.step(ctx, next, st)
	}
	return st, next
}

func (o *Orchestrator) runLogger(st domain.AgentState) *zap.Logger {
	return observability.ForRun(o.logger, st.RunID, st.AppID)
}

// fail records a classified failure and routes to recovery.
func (o *Orchestrator) fail(st domain.AgentState, name domain.NodeName, err *domain.Error) (domain.AgentState, domain.NodeName) {
	o.runLogger(st).Warn("Node failed",
		zap.String("node", string(name)),
		zap.String("code", string(err.Code)),
		zap.Error(err))
	if o.ledger != nil {
		o.ledger.TrackError(st.RunID)
	}
	o.tel.Metric("node_failures", 1, map[string]string{"node": string(name), "code": string(err.Code)})
	return st.WithUpdates(domain.Failed(name, err), domain.Record(name, string(err.Code))), domain.NodeRecoverFromError
}

// classify maps a port error onto the taxonomy. Deadline errors that the port
// did not classify itself become timeoutCode.
func classify(op string, timeoutCode domain.ErrorCode, err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(timeoutCode, op, err)
	}
	return domain.Classify(op, err)
}
