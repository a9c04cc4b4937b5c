// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/blobstore"
	"github.com/xkilldash9x/screengraph/internal/budget"
	"github.com/xkilldash9x/screengraph/internal/cache"
	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/engine"
	"github.com/xkilldash9x/screengraph/internal/graphstore"
	"github.com/xkilldash9x/screengraph/internal/observability"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
	"github.com/xkilldash9x/screengraph/internal/progress"
)

// ComponentFactory creates the set of components needed for exploration runs.
// Commands depend on this interface so they can be tested without storage or
// a model behind them.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires every component from configuration.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// Tear down whatever was built if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Graph repository
	graph, err := graphstore.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open graph repository: %w", err)
		return nil, initializationErr
	}
	components.Graph = graph
	logger.Debug("Graph repository initialized.", zap.String("backend", cfg.Storage().GraphBackend))

	// 2. Blob store
	blobs, err := blobstore.Open(cfg.Storage(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open blob store: %w", err)
		return nil, initializationErr
	}
	components.Blobs = blobs
	logger.Debug("Blob store initialized.", zap.String("backend", cfg.Storage().BlobBackend))

	// 3. Shared cache, ledger and telemetry
	cc := cfg.Cache()
	components.Cache = cache.New(cache.Config{
		PerScreenTTL:  cc.PerScreenTTL,
		RoutingTTL:    cc.RoutingTTL,
		PerScreenSize: cc.PerScreenSize,
		RoutingSize:   cc.RoutingSize,
	}, logger)
	components.Ledger = budget.NewLedger(logger)
	components.Telemetry = observability.NewTelemetry(logger, observability.NewRegistry())

	// 4. LLM client and decider
	client, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = client
	decider, err := InitializeDecider(client, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}

	// 5. Decision plane
	pc := cfg.Policy()
	retryPolicy := RetryPolicy(pc)
	plane, err := decision.NewPlane(decision.Deps{
		Decider:   decider,
		Cache:     components.Cache,
		Ledger:    components.Ledger,
		Blobs:     blobs,
		Telemetry: components.Telemetry,
		Arbiter:   progress.NewArbiter(Thresholds(pc)),
	}, decision.Options{
		HighRiskConfidence: pc.HighRiskConfidence,
		Retry:              retryPolicy,
		TopK:               pc.TopK,
		LastNEvents:        pc.LastNEvents,
	}, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create decision plane: %w", err)
		return nil, initializationErr
	}
	components.Plane = plane
	logger.Debug("Decision plane initialized.", zap.String("model", plane.ModelID()))

	// 6. Devices
	newDevice, err := InitializeDeviceFactory(cfg.Device(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.newDevice = newDevice

	dc := cfg.Device()
	components.perceptionTimeout = dc.PerceptionTimeout
	components.runOptions = orchestrator.Options{
		ActionTimeout: dc.ActionTimeout,
		IdleTimeout:   dc.IdleTimeout,
		IdlePoll:      dc.IdlePoll,
		LongPressHold: dc.LongPressHold,
		Retry:         retryPolicy,
		TopK:          pc.TopK,
		Budgets:       cfg.Budgets(),
	}

	// 7. Run engine
	runEngine, err := engine.New(cfg.Engine(), components.NewRunner, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize run engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = runEngine

	logger.Info("All components initialized successfully.")
	return components, nil
}
