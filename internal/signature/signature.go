// internal/signature/signature.go
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"math/bits"
	"sort"
	"strings"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

const (
	// DefaultPrecision is the number of decimals bounds are quantized to.
	DefaultPrecision = 2
	// MinDelta is the smallest distance reported for two different screens.
	MinDelta = 0.01

	layoutWeight = 0.6
	textWeight   = 0.4
	sketchBits   = domain.SketchWords * 64
)

// Service computes screen signatures and distances. It holds no mutable state
// and is safe for concurrent use.
type Service struct {
	precision int
	// includeHidden keeps invisible elements in the layout hash.
	includeHidden bool
}

// Option configures a Service.
type Option func(*Service)

// WithPrecision sets the quantization precision in decimals.
func WithPrecision(decimals int) Option {
	return func(s *Service) {
		if decimals > 0 && decimals <= 6 {
			s.precision = decimals
		}
	}
}

// WithHiddenElements includes invisible elements in the layout.
func WithHiddenElements() Option {
	return func(s *Service) { s.includeHidden = true }
}

// New creates a signature service.
func New(opts ...Option) *Service {
	s := &Service{precision: DefaultPrecision}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute derives the signature of a screen from its elements and extracted text.
func (s *Service) Compute(elements []domain.UIElement, text string) domain.ScreenSignature {
	tuples := s.layoutTuples(elements)
	stems := NormalizeText(text)

	layoutHash := hashLines(tuples)
	ocrHash := hashLines(stems)
	composite := sha256.Sum256([]byte(layoutHash + ocrHash))

	return domain.ScreenSignature{
		CompositeHash: hex.EncodeToString(composite[:]),
		LayoutHash:    layoutHash,
		OCRStemsHash:  ocrHash,
		LayoutSketch:  sketch(tuples),
		TextSketch:    sketch(stems),
	}
}

// layoutTuples quantizes, orders and renders each element as "role|x|y|w|h".
func (s *Service) layoutTuples(elements []domain.UIElement) []string {
	type quantized struct {
		el   domain.UIElement
		line string
	}
	items := make([]quantized, 0, len(elements))
	for _, el := range elements {
		if !el.Visible && !s.includeHidden {
			continue
		}
		line := fmt.Sprintf("%s|%s|%s|%s|%s",
			strings.ToLower(el.Role),
			s.quantize(el.Bounds.X), s.quantize(el.Bounds.Y),
			s.quantize(el.Bounds.W), s.quantize(el.Bounds.H))
		items = append(items, quantized{el: el, line: line})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.el.Depth != b.el.Depth {
			return a.el.Depth < b.el.Depth
		}
		if a.el.Order != b.el.Order {
			return a.el.Order < b.el.Order
		}
		return a.line < b.line
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.line
	}
	return out
}

func (s *Service) quantize(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	scale := math.Pow(10, float64(s.precision))
	q := math.Round(v*scale) / scale
	if q == 0 {
		q = 0 // normalize -0
	}
	return fmt.Sprintf("%.*f", s.precision, q)
}

// Delta is a symmetric distance in [0,1]. It is 0 only when the composite
// hashes match, and at least MinDelta otherwise. The metric is a weighted
// Jaccard distance over the layout and text bit-sketches.
func (s *Service) Delta(a, b domain.ScreenSignature) float64 {
	if a.CompositeHash == b.CompositeHash {
		return 0
	}
	d := layoutWeight*jaccardDistance(a.LayoutSketch, b.LayoutSketch) +
		textWeight*jaccardDistance(a.TextSketch, b.TextSketch)
	if d < MinDelta {
		return MinDelta
	}
	if d > 1 {
		return 1
	}
	return d
}

// DeltaHash identifies the transition prev→curr for cache keys. A nil prev
// denotes the first screen of a run.
func DeltaHash(prev *domain.ScreenSignature, curr domain.ScreenSignature) string {
	from := "none"
	if prev != nil {
		from = prev.CompositeHash
	}
	sum := sha256.Sum256([]byte(from + "->" + curr.CompositeHash))
	return hex.EncodeToString(sum[:16])
}

func hashLines(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func sketch(features []string) domain.Sketch {
	var sk domain.Sketch
	for _, f := range features {
		h := fnv.New64a()
		_, _ = h.Write([]byte(f))
		bit := h.Sum64() % sketchBits
		sk[bit/64] |= 1 << (bit % 64)
	}
	return sk
}

func jaccardDistance(a, b domain.Sketch) float64 {
	var inter, union int
	for i := range a {
		inter += bits.OnesCount64(a[i] & b[i])
		union += bits.OnesCount64(a[i] | b[i])
	}
	if union == 0 {
		return 0
	}
	return 1 - float64(inter)/float64(union)
}
