package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/device"
	"github.com/xkilldash9x/screengraph/internal/mocks"
)

const tinyFixture = `
app_id: com.example.tiny
start: main
screens:
  main:
    elements:
      - {id: ok, class: android.widget.Button, text: OK, bounds: {x: 0.1, y: 0.1, w: 0.3, h: 0.1}, clickable: true}
`

func TestInitializeLLMClient_HeuristicProvider(t *testing.T) {
	client, err := InitializeLLMClient(context.Background(), config.LLMConfig{Provider: config.ProviderHeuristic}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitializeLLMClient_UnknownProvider(t *testing.T) {
	_, err := InitializeLLMClient(context.Background(), config.LLMConfig{Provider: "openai"}, zap.NewNop())
	require.Error(t, err)
}

func TestInitializeDecider(t *testing.T) {
	d, err := InitializeDecider(nil, config.LLMConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = InitializeDecider(new(mocks.MockLLMClient), config.LLMConfig{FastModel: "gemini-2.5-flash"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "gemini-2.5-flash", d.ModelID())
}

func TestInitializeDeviceFactory(t *testing.T) {
	t.Run("demo fixture by default", func(t *testing.T) {
		newDevice, err := InitializeDeviceFactory(config.DeviceConfig{Driver: "simulator"}, zap.NewNop())
		require.NoError(t, err)
		dev, err := newDevice()
		require.NoError(t, err)
		assert.NoError(t, dev.InstallApp(context.Background(), "com.example.notes"))
	})

	t.Run("fixture from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiny.yaml")
		require.NoError(t, os.WriteFile(path, []byte(tinyFixture), 0o600))

		newDevice, err := InitializeDeviceFactory(config.DeviceConfig{Fixture: path}, zap.NewNop())
		require.NoError(t, err)
		dev, err := newDevice()
		require.NoError(t, err)
		sim, ok := dev.(*device.Simulator)
		require.True(t, ok)
		assert.Equal(t, "main", sim.CurrentScreen())
		assert.NoError(t, dev.InstallApp(context.Background(), "com.example.tiny"))
	})

	t.Run("unsupported driver", func(t *testing.T) {
		_, err := InitializeDeviceFactory(config.DeviceConfig{Driver: "appium"}, zap.NewNop())
		require.Error(t, err)
	})
}

func TestRetryPolicyAndThresholds(t *testing.T) {
	p := RetryPolicy(config.PolicyConfig{MaxRetriesPerError: 5, RetryInitialDelay: 50 * time.Millisecond})
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, p.Initial)

	d := RetryPolicy(config.PolicyConfig{})
	assert.Equal(t, 3, d.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, d.Initial)

	th := Thresholds(config.PolicyConfig{NoProgressThreshold: 7, ProgressConfidenceThreshold: 0.5, PolicyCooldown: 4})
	assert.Equal(t, 7, th.NoProgressThreshold)
	assert.Equal(t, 0.5, th.ConfidenceThreshold)
	assert.Equal(t, 4, th.PolicyCooldown)
}
