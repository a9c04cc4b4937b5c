// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	select {
	case <-ctx.Done():
		return schemas.GenerationResponse{}, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Device Mock --

// MockDevice mocks the schemas.Device interface.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) IsDeviceReady(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}
func (m *MockDevice) InstallApp(ctx context.Context, appID string) error {
	return m.Called(ctx, appID).Error(0)
}
func (m *MockDevice) LaunchApp(ctx context.Context, appID string) error {
	return m.Called(ctx, appID).Error(0)
}
func (m *MockDevice) GetCurrentApp(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockDevice) GetPageSource(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockDevice) GetScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockDevice) Tap(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *MockDevice) LongPress(ctx context.Context, x, y float64, hold time.Duration) error {
	return m.Called(ctx, x, y, hold).Error(0)
}
func (m *MockDevice) Swipe(ctx context.Context, fromX, fromY, toX, toY float64) error {
	return m.Called(ctx, fromX, fromY, toX, toY).Error(0)
}
func (m *MockDevice) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}
func (m *MockDevice) PressBack(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockDevice) PressHome(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockDevice) RestartApp(ctx context.Context, appID string) error {
	return m.Called(ctx, appID).Error(0)
}

// -- Text Extractor Mock --

// MockTextExtractor mocks the schemas.TextExtractor interface.
type MockTextExtractor struct {
	mock.Mock
}

func (m *MockTextExtractor) ExtractText(ctx context.Context, in schemas.ExtractionInput) (schemas.TextExtraction, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(schemas.TextExtraction), args.Error(1)
}

// -- Decider Mock --

// MockDecider mocks the schemas.Decider interface.
type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) ModelID() string {
	return m.Called().String(0)
}

func (m *MockDecider) ChooseAction(ctx context.Context, diet domain.Diet) (domain.ChosenAction, schemas.DecisionUsage, error) {
	args := m.Called(ctx, diet)
	return args.Get(0).(domain.ChosenAction), args.Get(1).(schemas.DecisionUsage), args.Error(2)
}

func (m *MockDecider) Verify(ctx context.Context, diet domain.Diet) (domain.VerificationResult, schemas.DecisionUsage, error) {
	args := m.Called(ctx, diet)
	return args.Get(0).(domain.VerificationResult), args.Get(1).(schemas.DecisionUsage), args.Error(2)
}

func (m *MockDecider) DetectProgress(ctx context.Context, diet domain.Diet) (domain.ProgressAssessment, schemas.DecisionUsage, error) {
	args := m.Called(ctx, diet)
	return args.Get(0).(domain.ProgressAssessment), args.Get(1).(schemas.DecisionUsage), args.Error(2)
}

func (m *MockDecider) ShouldContinue(ctx context.Context, diet domain.Diet) (domain.RoutingDecision, schemas.DecisionUsage, error) {
	args := m.Called(ctx, diet)
	return args.Get(0).(domain.RoutingDecision), args.Get(1).(schemas.DecisionUsage), args.Error(2)
}

func (m *MockDecider) SwitchPolicy(ctx context.Context, diet domain.Diet) (domain.PolicySwitch, schemas.DecisionUsage, error) {
	args := m.Called(ctx, diet)
	return args.Get(0).(domain.PolicySwitch), args.Get(1).(schemas.DecisionUsage), args.Error(2)
}

// -- Graph Repository Mock --

// MockGraphRepository mocks the schemas.GraphRepository interface.
type MockGraphRepository struct {
	mock.Mock
}

func (m *MockGraphRepository) UpsertNode(ctx context.Context, sig domain.ScreenSignature, meta domain.NodeMeta) (domain.UpsertResult, error) {
	args := m.Called(ctx, sig, meta)
	return args.Get(0).(domain.UpsertResult), args.Error(1)
}
func (m *MockGraphRepository) UpsertEdge(ctx context.Context, from, to, action string, meta domain.EdgeMeta) (domain.UpsertResult, error) {
	args := m.Called(ctx, from, to, action, meta)
	return args.Get(0).(domain.UpsertResult), args.Error(1)
}
func (m *MockGraphRepository) GetNode(ctx context.Context, id string) (domain.ScreenNode, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.ScreenNode), args.Error(1)
}
func (m *MockGraphRepository) GetNeighbors(ctx context.Context, id string) ([]domain.ScreenNode, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScreenNode), args.Error(1)
}
func (m *MockGraphRepository) GetExplorationStats(ctx context.Context, runID string) (domain.ExplorationStats, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(domain.ExplorationStats), args.Error(1)
}
func (m *MockGraphRepository) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	return m.Called(ctx, summary).Error(0)
}
func (m *MockGraphRepository) Close() error {
	return m.Called().Error(0)
}

// -- Blob Store Mock --

// MockBlobStore mocks the schemas.BlobStore interface.
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, kind string, data []byte) (string, error) {
	args := m.Called(ctx, kind, data)
	return args.String(0), args.Error(1)
}
func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// -- Telemetry Mock --

// MockTelemetry mocks the schemas.Telemetry interface. Tests usually set
// .Maybe() expectations for the calls they do not assert on.
type MockTelemetry struct {
	mock.Mock
}

func (m *MockTelemetry) Log(level schemas.Level, msg string, fields map[string]any) {
	m.Called(level, msg, fields)
}
func (m *MockTelemetry) Metric(name string, value float64, tags map[string]string) {
	m.Called(name, value, tags)
}
func (m *MockTelemetry) TraceStart(name string, attrs map[string]string) schemas.Span {
	args := m.Called(name, attrs)
	return args.Get(0).(schemas.Span)
}
func (m *MockTelemetry) TraceEnd(span schemas.Span, err error) {
	m.Called(span, err)
}

// compile-time checks
var (
	_ schemas.LLMClient       = (*MockLLMClient)(nil)
	_ schemas.Device          = (*MockDevice)(nil)
	_ schemas.TextExtractor   = (*MockTextExtractor)(nil)
	_ schemas.Decider         = (*MockDecider)(nil)
	_ schemas.GraphRepository = (*MockGraphRepository)(nil)
	_ schemas.BlobStore       = (*MockBlobStore)(nil)
	_ schemas.Telemetry       = (*MockTelemetry)(nil)
)
