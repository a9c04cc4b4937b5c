package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/device"
	"github.com/xkilldash9x/screengraph/internal/graphstore"
	"github.com/xkilldash9x/screengraph/internal/mocks"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
	"github.com/xkilldash9x/screengraph/internal/progress"
)

func TestComponents_ShutdownPartial(t *testing.T) {
	// Zero-value components must shut down without panicking.
	assert.NotPanics(t, func() { (&Components{}).Shutdown() })
}

func TestComponents_ShutdownClosesResources(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Close").Return(nil).Once()
	graph := new(mocks.MockGraphRepository)
	graph.On("Close").Return(errors.New("already closed")).Once()

	c := &Components{LLM: llm, Graph: graph, logger: zap.NewNop()}
	c.Shutdown()

	llm.AssertExpectations(t)
	graph.AssertExpectations(t)
}

func TestComponents_NewRunnerGivesEachRunItsOwnDevice(t *testing.T) {
	var made []schemas.Device
	plane, err := decision.NewPlane(decision.Deps{Arbiter: progress.NewArbiter(progress.DefaultThresholds())}, decision.Options{}, nil)
	require.NoError(t, err)

	c := &Components{
		Graph: graphstore.NewMemoryRepo(nil),
		Plane: plane,
		newDevice: func() (schemas.Device, error) {
			d := device.NewSimulator(device.DemoFixture(), nil)
			made = append(made, d)
			return d, nil
		},
		logger: zap.NewNop(),
	}

	for i := 0; i < 2; i++ {
		r, err := c.NewRunner(orchestrator.RunRequest{AppID: "com.example.notes"})
		require.NoError(t, err)
		assert.NotNil(t, r)
	}
	require.Len(t, made, 2)
	assert.NotSame(t, made[0], made[1])
}

func TestComponents_NewRunnerDeviceFailure(t *testing.T) {
	c := &Components{
		newDevice: func() (schemas.Device, error) { return nil, errors.New("no emulator running") },
		logger:    zap.NewNop(),
	}
	_, err := c.NewRunner(orchestrator.RunRequest{AppID: "com.example.notes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no emulator running")
}
