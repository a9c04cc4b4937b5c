// File: internal/observability/telemetry.go
package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// Registry accumulates metric samples keyed by name and tags.
type Registry struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]float64)}
}

// Add accumulates value under the series for name and tags.
func (r *Registry) Add(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	r.mu.Lock()
	r.values[key] += value
	r.mu.Unlock()
}

// Snapshot copies the current values.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// seriesKey renders name{k=v,...} with tags in key order.
func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ZapTelemetry implements schemas.Telemetry on top of a zap logger and a Registry.
type ZapTelemetry struct {
	logger   *zap.Logger
	registry *Registry
	now      func() time.Time
}

var _ schemas.Telemetry = (*ZapTelemetry)(nil)

// NewTelemetry wires a telemetry sink. A nil registry gets a fresh one.
func NewTelemetry(logger *zap.Logger, registry *Registry) *ZapTelemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &ZapTelemetry{logger: logger.Named("telemetry"), registry: registry, now: time.Now}
}

// Registry exposes the underlying metrics registry.
func (t *ZapTelemetry) Registry() *Registry { return t.registry }

// Snapshot returns the current value of every series.
func (t *ZapTelemetry) Snapshot() map[string]float64 { return t.registry.Snapshot() }

func (t *ZapTelemetry) Log(level schemas.Level, msg string, fields map[string]any) {
	var lvl zapcore.Level
	switch level {
	case schemas.LevelDebug:
		lvl = zapcore.DebugLevel
	case schemas.LevelWarn:
		lvl = zapcore.WarnLevel
	case schemas.LevelError:
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}
	ce := t.logger.Check(lvl, msg)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}

func (t *ZapTelemetry) Metric(name string, value float64, tags map[string]string) {
	t.registry.Add(name, value, tags)
}

func (t *ZapTelemetry) TraceStart(name string, attrs map[string]string) schemas.Span {
	return schemas.Span{ID: uuid.NewString(), Name: name, Started: t.now(), Attrs: attrs}
}

// TraceEnd records the span's duration and outcome. Spans that end with an
// error are logged at warn level.
func (t *ZapTelemetry) TraceEnd(span schemas.Span, err error) {
	elapsed := t.now().Sub(span.Started)
	tags := map[string]string{"span": span.Name}
	t.registry.Add("span_duration_ms", float64(elapsed.Milliseconds()), tags)
	t.registry.Add("span_count", 1, tags)

	fields := []zap.Field{
		zap.String("span_id", span.ID),
		zap.String("span", span.Name),
		zap.Duration("elapsed", elapsed),
	}
	for k, v := range span.Attrs {
		fields = append(fields, zap.String(k, v))
	}
	if err != nil {
		t.registry.Add("span_errors", 1, tags)
		t.logger.Warn("Span failed.", append(fields, zap.Error(err))...)
		return
	}
	t.logger.Debug("Span finished.", fields...)
}
