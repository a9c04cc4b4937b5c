// api/schemas/ports.go
package schemas

import (
	"context"
	"time"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// -- Device --

// Device drives the device under test. Coordinates are normalized to [0,1].
// Every failure is a *domain.Error (offline, not-installed, crashed, timeout).
type Device interface {
	IsDeviceReady(ctx context.Context) (bool, error)
	InstallApp(ctx context.Context, appID string) error
	LaunchApp(ctx context.Context, appID string) error
	GetCurrentApp(ctx context.Context) (string, error)
	GetPageSource(ctx context.Context) (string, error)
	GetScreenshot(ctx context.Context) ([]byte, error)
	Tap(ctx context.Context, x, y float64) error
	LongPress(ctx context.Context, x, y float64, hold time.Duration) error
	Swipe(ctx context.Context, fromX, fromY, toX, toY float64) error
	TypeText(ctx context.Context, text string) error
	PressBack(ctx context.Context) error
	PressHome(ctx context.Context) error
	RestartApp(ctx context.Context, appID string) error
}

// -- Text extraction --

// TextRegion is a located run of recognized text.
type TextRegion struct {
	Text       string        `json:"text"`
	Bounds     domain.Bounds `json:"bounds"`
	Confidence float64       `json:"confidence"`
}

// TextExtraction is the result of an extraction pass.
type TextExtraction struct {
	FullText   string       `json:"full_text"`
	Regions    []TextRegion `json:"regions"`
	Confidence float64      `json:"confidence"`
}

// ExtractionInput is what a text extractor may read. Image-based engines use
// Screenshot; structure-based engines use PageSource.
type ExtractionInput struct {
	Screenshot []byte
	PageSource string
}

// TextExtractor recognizes on-screen text.
type TextExtractor interface {
	ExtractText(ctx context.Context, in ExtractionInput) (TextExtraction, error)
}

// -- Decisions --

// DecisionUsage is the cost of one external decision call.
type DecisionUsage struct {
	Tokens int
	Cost   float64
	Model  string
}

// Decider is the external decision capability behind the five decision points.
// Each method receives a pruned context and returns one structured result.
type Decider interface {
	ModelID() string
	ChooseAction(ctx context.Context, diet domain.Diet) (domain.ChosenAction, DecisionUsage, error)
	Verify(ctx context.Context, diet domain.Diet) (domain.VerificationResult, DecisionUsage, error)
	DetectProgress(ctx context.Context, diet domain.Diet) (domain.ProgressAssessment, DecisionUsage, error)
	ShouldContinue(ctx context.Context, diet domain.Diet) (domain.RoutingDecision, DecisionUsage, error)
	SwitchPolicy(ctx context.Context, diet domain.Diet) (domain.PolicySwitch, DecisionUsage, error)
}

// -- Cache --

// DecisionCache memoizes decision outputs by content-derived key.
type DecisionCache interface {
	Get(key string) ([]byte, bool)
	// Discard drops an entry a successful Get returned but the caller could
	// not use, and counts that lookup as a miss.
	Discard(key string)
	Set(key string, decision domain.DecisionType, value []byte)
	// Invalidate removes every key matching the glob pattern and returns the count.
	Invalidate(pattern string) int
	Stats() domain.CacheStats
}

// -- Budget --

// Usage is the ledger's view of a run.
type Usage struct {
	Steps  int     `json:"steps"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Errors int     `json:"errors"`
	Calls  int     `json:"calls"`
}

// BudgetLedger tracks usage per run id. Implementations are safe for
// concurrent use by many runs.
type BudgetLedger interface {
	TrackStep(runID string)
	TrackTokens(runID string, tokens int, cost float64)
	TrackError(runID string)
	GetUsage(runID string) Usage
	IsBudgetExceeded(runID string, budgets domain.Budgets) bool
	Reset(runID string)
}

// -- Persistence --

// GraphRepository persists the screen graph. Upserts are idempotent.
type GraphRepository interface {
	UpsertNode(ctx context.Context, sig domain.ScreenSignature, meta domain.NodeMeta) (domain.UpsertResult, error)
	UpsertEdge(ctx context.Context, from, to, action string, meta domain.EdgeMeta) (domain.UpsertResult, error)
	GetNode(ctx context.Context, id string) (domain.ScreenNode, error)
	GetNeighbors(ctx context.Context, id string) ([]domain.ScreenNode, error)
	GetExplorationStats(ctx context.Context, runID string) (domain.ExplorationStats, error)
	SaveRun(ctx context.Context, summary domain.RunSummary) error
	Close() error
}

// BlobStore stores heavy assets and rationales by content-derived key.
type BlobStore interface {
	Put(ctx context.Context, kind string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// -- Telemetry --

// Level is a telemetry log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Span is an open trace span.
type Span struct {
	ID      string
	Name    string
	Started time.Time
	Attrs   map[string]string
}

// Telemetry is the observability sink. It never influences control flow.
type Telemetry interface {
	Log(level Level, msg string, fields map[string]any)
	Metric(name string, value float64, tags map[string]string)
	TraceStart(name string, attrs map[string]string) Span
	TraceEnd(span Span, err error)
}
