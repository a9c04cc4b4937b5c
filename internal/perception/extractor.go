// internal/perception/extractor.go
package perception

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// PageSourceExtractor reads on-screen text from the UI hierarchy instead of
// pixels. Text taken from the accessibility tree is exact, so every region
// reports full confidence.
type PageSourceExtractor struct{}

var _ schemas.TextExtractor = PageSourceExtractor{}

// NewPageSourceExtractor creates the extractor.
func NewPageSourceExtractor() PageSourceExtractor { return PageSourceExtractor{} }

// ExtractText implements schemas.TextExtractor.
func (PageSourceExtractor) ExtractText(ctx context.Context, in schemas.ExtractionInput) (schemas.TextExtraction, error) {
	if err := ctx.Err(); err != nil {
		return schemas.TextExtraction{}, domain.NewError(domain.CodeOCRFailed, "extract_text", err)
	}
	if in.PageSource == "" {
		return schemas.TextExtraction{}, domain.NewError(domain.CodeOCRFailed, "extract_text", errors.New("no page source to read"))
	}
	elements, err := ParsePageSource(in.PageSource)
	if err != nil {
		return schemas.TextExtraction{}, domain.NewError(domain.CodeOCRFailed, "extract_text", err)
	}

	var (
		regions []schemas.TextRegion
		lines   []string
	)
	for _, el := range elements {
		if el.Text == "" || !el.Visible {
			continue
		}
		regions = append(regions, schemas.TextRegion{Text: el.Text, Bounds: el.Bounds, Confidence: 1})
		lines = append(lines, el.Text)
	}
	out := schemas.TextExtraction{FullText: strings.Join(lines, "\n"), Regions: regions}
	if len(regions) > 0 {
		out.Confidence = 1
	}
	return out, nil
}
