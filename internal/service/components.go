// File: internal/service/components.go
package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/budget"
	"github.com/xkilldash9x/screengraph/internal/cache"
	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/engine"
	"github.com/xkilldash9x/screengraph/internal/observability"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
	"github.com/xkilldash9x/screengraph/internal/perception"
)

// DeviceFactory returns a device for one run.
type DeviceFactory func() (schemas.Device, error)

// Components holds everything a set of exploration runs shares: the stores,
// the decision plane with its cache and ledger, and the run engine. Devices
// are the exception; each run gets its own from the DeviceFactory.
type Components struct {
	Graph     schemas.GraphRepository
	Blobs     schemas.BlobStore
	Cache     *cache.DecisionCache
	Ledger    *budget.Ledger
	Telemetry *observability.ZapTelemetry
	LLM       schemas.LLMClient
	Plane     *decision.Plane
	Engine    *engine.RunEngine

	newDevice         DeviceFactory
	runOptions        orchestrator.Options
	perceptionTimeout time.Duration
	logger            *zap.Logger
}

// NewRunner builds an orchestrator bound to a fresh device. It satisfies
// engine.RunnerFactory.
func (c *Components) NewRunner(req orchestrator.RunRequest) (engine.Runner, error) {
	dev, err := c.newDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire device for %s: %w", req.AppID, err)
	}
	deps := orchestrator.Deps{
		Device:    dev,
		Perceiver: perception.NewPerceiver(dev, nil, c.Blobs, c.perceptionTimeout, c.logger),
		Plane:     c.Plane,
		Graph:     c.Graph,
	}
	// Typed nil pointers must not reach the interface fields.
	if c.Ledger != nil {
		deps.Ledger = c.Ledger
	}
	if c.Cache != nil {
		deps.Cache = c.Cache
	}
	if c.Telemetry != nil {
		deps.Telemetry = c.Telemetry
	}
	return orchestrator.New(deps, c.runOptions, c.logger)
}

// Shutdown releases the components in reverse order of creation. It is safe
// on a partially initialized set.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Run engine stopped.")
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}
	if c.Graph != nil {
		if err := c.Graph.Close(); err != nil {
			logger.Warn("Error closing graph repository.", zap.Error(err))
		} else {
			logger.Debug("Graph repository closed.")
		}
	}
	logger.Info("All components shut down.")
}
