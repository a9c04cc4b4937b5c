// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
)

const (
	defaultConcurrency = 2
	defaultQueueSize   = 16
	defaultRunTimeout  = 30 * time.Minute
)

// Runner executes one exploration run end to end.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (domain.RunSummary, error)
}

// RunnerFactory builds the runner for a single request. A device serves one
// run at a time, so the factory hands out a fresh device per run while the
// stores, cache and ledger stay shared.
type RunnerFactory func(req orchestrator.RunRequest) (Runner, error)

// Result is the outcome of one run.
type Result struct {
	Request orchestrator.RunRequest
	Summary domain.RunSummary
	Err     error
}

// RunEngine executes many runs concurrently against a shared backend.
type RunEngine struct {
	cfg     config.EngineConfig
	factory RunnerFactory
	limiter *rate.Limiter
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a run engine. Zero settings fall back to defaults.
func New(cfg config.EngineConfig, factory RunnerFactory, logger *zap.Logger) (*RunEngine, error) {
	if factory == nil {
		return nil, errors.New("run engine requires a runner factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RunsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RunsPerSecond), 1)
	}
	return &RunEngine{
		cfg:     cfg,
		factory: factory,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "run_engine")),
	}, nil
}

// Start launches the worker pool on a stream of requests. The returned
// channel closes once the request channel is drained or ctx is cancelled and
// every worker has exited.
func (e *RunEngine) Start(ctx context.Context, reqs <-chan orchestrator.RunRequest) <-chan Result {
	results := make(chan Result, e.cfg.QueueSize)
	e.logger.Info("Starting run engine worker pool", zap.Int("concurrency", e.cfg.WorkerConcurrency))

	var workers sync.WaitGroup
	for i := 0; i < e.cfg.WorkerConcurrency; i++ {
		workers.Add(1)
		e.wg.Add(1)
		go func(id int) {
			defer e.wg.Done()
			defer workers.Done()
			e.runWorker(ctx, id, reqs, results)
		}(i + 1)
	}
	go func() {
		workers.Wait()
		close(results)
	}()
	return results
}

// Stop waits for every worker to finish.
func (e *RunEngine) Stop() {
	e.logger.Info("Stopping run engine, waiting for workers to finish.")
	e.wg.Wait()
	e.logger.Info("Run engine stopped.")
}

func (e *RunEngine) runWorker(ctx context.Context, workerID int, reqs <-chan orchestrator.RunRequest, results chan<- Result) {
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case req, ok := <-reqs:
			if !ok {
				logger.Debug("Request queue drained, worker shutting down.")
				return
			}
			res := e.process(ctx, req, logger)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// RunAll executes a fixed batch and returns the results in request order. A
// failed run does not cancel its siblings.
func (e *RunEngine) RunAll(ctx context.Context, reqs []orchestrator.RunRequest) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.WorkerConcurrency)

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.process(gctx, req, e.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// process runs one request under the run timeout. Panics in a runner are
// reported as the run's error.
func (e *RunEngine) process(ctx context.Context, req orchestrator.RunRequest, logger *zap.Logger) (res Result) {
	res.Request = req
	logger = logger.With(zap.String("app_id", req.AppID), zap.String("run_id", req.RunID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Runner panicked", zap.Any("panic", r))
			res.Err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	if err := e.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("run not started: %w", err)
		return res
	}
	runner, err := e.factory(req)
	if err != nil {
		logger.Error("Failed to build runner", zap.Error(err))
		res.Err = fmt.Errorf("failed to build runner: %w", err)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	res.Summary, res.Err = runner.Run(runCtx, req)
	switch {
	case res.Err != nil:
		logger.Error("Run failed", zap.Error(res.Err))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Warn("Run hit the engine timeout", zap.Duration("timeout", e.cfg.RunTimeout))
	default:
		logger.Info("Run completed",
			zap.String("stop_reason", string(res.Summary.StopReason)),
			zap.Int("steps", res.Summary.Counters.StepsTotal))
	}
	return res
}
