// internal/salience/ranker.go
package salience

import (
	"math"
	"sort"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// DefaultK is the default number of elements kept after ranking.
const DefaultK = domain.MaxActions

// Weights balance the salience features. They need not sum to one; scores are
// normalized by the total weight.
type Weights struct {
	Visibility    float64 `mapstructure:"visibility"`
	Interactivity float64 `mapstructure:"interactivity"`
	Size          float64 `mapstructure:"size"`
	Centrality    float64 `mapstructure:"centrality"`
	Text          float64 `mapstructure:"text"`
}

// DefaultWeights favors interactive, visible elements.
func DefaultWeights() Weights {
	return Weights{Visibility: 0.25, Interactivity: 0.35, Size: 0.15, Centrality: 0.10, Text: 0.15}
}

func (w Weights) total() float64 {
	return w.Visibility + w.Interactivity + w.Size + w.Centrality + w.Text
}

// Ranked is an element with its salience score in [0,1].
type Ranked struct {
	Element domain.UIElement
	Score   float64
}

// Ranker orders elements by salience. It is a pure function of element
// attributes.
type Ranker struct {
	k       int
	weights Weights
}

// NewRanker creates a ranker keeping at most k elements. Non-positive k uses DefaultK.
func NewRanker(k int, weights Weights) *Ranker {
	if k <= 0 {
		k = DefaultK
	}
	if weights.total() <= 0 {
		weights = DefaultWeights()
	}
	return &Ranker{k: k, weights: weights}
}

// K returns the ranker's cap.
func (r *Ranker) K() int { return r.k }

// Score computes the salience of a single element.
func (r *Ranker) Score(el domain.UIElement) float64 {
	w := r.weights
	var s float64
	if el.Visible {
		s += w.Visibility
	}
	if el.Clickable || el.Focusable {
		interactive := 1.0
		if !el.Enabled {
			interactive = 0.25
		}
		s += w.Interactivity * interactive
	}
	s += w.Size * math.Min(1, math.Sqrt(el.Bounds.Area())*2)

	cx, cy := el.Bounds.Center()
	dist := math.Hypot(cx-0.5, cy-0.5) / math.Sqrt2 * 2 // 0 at center, 1 at a corner
	s += w.Centrality * math.Max(0, 1-dist)

	if el.Text != "" {
		s += w.Text
	}
	return s / w.total()
}

// Rank returns at most K elements ordered by descending score. Ties keep
// document order, so the result is deterministic.
func (r *Ranker) Rank(elements []domain.UIElement) []Ranked {
	ranked := make([]Ranked, len(elements))
	for i, el := range elements {
		ranked[i] = Ranked{Element: el, Score: r.Score(el)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Element.Order < ranked[j].Element.Order
	})
	if len(ranked) > r.k {
		ranked = ranked[:r.k]
	}
	return ranked
}
