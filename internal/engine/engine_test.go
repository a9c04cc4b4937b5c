// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner reports a summary per request after an optional delay and tracks
// how many runs are in flight.
type fakeRunner struct {
	delay    time.Duration
	inFlight *atomic.Int32
	peak     *atomic.Int32
	runFunc  func(ctx context.Context, req orchestrator.RunRequest) (domain.RunSummary, error)
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.RunRequest) (domain.RunSummary, error) {
	if f.inFlight != nil {
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if f.runFunc != nil {
		return f.runFunc(ctx, req)
	}
	select {
	case <-time.After(f.delay):
		return domain.RunSummary{RunID: req.RunID, AppID: req.AppID, StopReason: domain.StopSuccess}, nil
	case <-ctx.Done():
		return domain.RunSummary{RunID: req.RunID, AppID: req.AppID, StopReason: domain.StopUserCancelled}, nil
	}
}

func requests(n int) []orchestrator.RunRequest {
	out := make([]orchestrator.RunRequest, n)
	for i := range out {
		out[i] = orchestrator.RunRequest{RunID: fmt.Sprintf("run-%d", i), AppID: "com.example.notes"}
	}
	return out
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(config.EngineConfig{}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	e, err := New(config.EngineConfig{}, func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{}, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultConcurrency, e.cfg.WorkerConcurrency)
	assert.Equal(t, defaultQueueSize, e.cfg.QueueSize)
	assert.Equal(t, defaultRunTimeout, e.cfg.RunTimeout)
}

func TestRunEngine_RunAllKeepsOrderAndBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	factory := func(orchestrator.RunRequest) (Runner, error) {
		return &fakeRunner{delay: 10 * time.Millisecond, inFlight: &inFlight, peak: &peak}, nil
	}
	e, err := New(config.EngineConfig{WorkerConcurrency: 3}, factory, zap.NewNop())
	require.NoError(t, err)

	reqs := requests(10)
	results, err := e.RunAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, reqs[i].RunID, res.Summary.RunID, "results follow request order")
		assert.Equal(t, domain.StopSuccess, res.Summary.StopReason)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestRunEngine_FailuresStayIsolated(t *testing.T) {
	factory := func(req orchestrator.RunRequest) (Runner, error) {
		switch req.RunID {
		case "run-0":
			return nil, errors.New("no device available")
		case "run-1":
			return &fakeRunner{runFunc: func(context.Context, orchestrator.RunRequest) (domain.RunSummary, error) {
				panic("driver crashed")
			}}, nil
		case "run-2":
			return &fakeRunner{runFunc: func(context.Context, orchestrator.RunRequest) (domain.RunSummary, error) {
				return domain.RunSummary{}, errors.New("save failed")
			}}, nil
		}
		return &fakeRunner{}, nil
	}
	e, err := New(config.EngineConfig{WorkerConcurrency: 2}, factory, zap.NewNop())
	require.NoError(t, err)

	results, err := e.RunAll(context.Background(), requests(4))
	require.NoError(t, err)

	assert.ErrorContains(t, results[0].Err, "no device available")
	assert.ErrorContains(t, results[1].Err, "panicked")
	assert.ErrorContains(t, results[2].Err, "save failed")
	assert.NoError(t, results[3].Err)
	assert.Equal(t, domain.StopSuccess, results[3].Summary.StopReason)
}

func TestRunEngine_RunTimeoutCancelsRun(t *testing.T) {
	factory := func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{delay: time.Minute}, nil }
	e, err := New(config.EngineConfig{WorkerConcurrency: 1, RunTimeout: 20 * time.Millisecond}, factory, zap.NewNop())
	require.NoError(t, err)

	results, err := e.RunAll(context.Background(), requests(1))
	require.NoError(t, err)
	assert.Equal(t, domain.StopUserCancelled, results[0].Summary.StopReason)
}

func TestRunEngine_StartConsumesQueue(t *testing.T) {
	factory := func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{delay: time.Millisecond}, nil }
	e, err := New(config.EngineConfig{WorkerConcurrency: 2, QueueSize: 4}, factory, zap.NewNop())
	require.NoError(t, err)

	reqs := make(chan orchestrator.RunRequest, 5)
	out := e.Start(context.Background(), reqs)
	for _, r := range requests(5) {
		reqs <- r
	}
	close(reqs)

	seen := map[string]bool{}
	for res := range out {
		require.NoError(t, res.Err)
		seen[res.Summary.RunID] = true
	}
	e.Stop()
	assert.Len(t, seen, 5)
}

func TestRunEngine_StartStopsOnCancel(t *testing.T) {
	factory := func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{delay: time.Minute}, nil }
	e, err := New(config.EngineConfig{WorkerConcurrency: 2}, factory, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reqs := make(chan orchestrator.RunRequest)
	out := e.Start(ctx, reqs)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range out {
		}
	}()

	cancel()
	wg.Wait()
	e.Stop()
}

func TestRunEngine_RateLimitedStart(t *testing.T) {
	factory := func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{}, nil }
	e, err := New(config.EngineConfig{WorkerConcurrency: 4, RunsPerSecond: 20}, factory, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	results, err := e.RunAll(context.Background(), requests(3))
	require.NoError(t, err)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}
	// A burst of one at 20/s spaces three starts by at least ~100ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunEngine_RunThatCannotStartIsReported(t *testing.T) {
	factory := func(orchestrator.RunRequest) (Runner, error) { return &fakeRunner{}, nil }
	e, err := New(config.EngineConfig{WorkerConcurrency: 1, RunsPerSecond: 0.001}, factory, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	results, _ := e.RunAll(ctx, requests(2))
	assert.NoError(t, results[0].Err, "the first run consumes the initial burst")
	assert.Error(t, results[1].Err)
}
