// internal/perception/perceiver.go
package perception

import (
	"context"
	"errors"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Blob kinds written by a capture.
const (
	KindScreenshot = "screenshot"
	KindPageSource = "page_source"
	KindOCR        = "ocr"
)

// DefaultTimeout bounds one full capture.
const DefaultTimeout = 30 * time.Second

// Capture is one perceived screen with its stored assets.
type Capture struct {
	Screen     domain.Screen
	Bundle     domain.Bundle
	Extraction schemas.TextExtraction
	Bytes      int
}

// Perceiver grabs the current screen from the device, stores the heavy
// assets, and returns the parsed element list plus references.
type Perceiver struct {
	device    schemas.Device
	extractor schemas.TextExtractor
	blobs     schemas.BlobStore
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPerceiver wires a perceiver. A nil extractor reads text from the page source.
func NewPerceiver(device schemas.Device, extractor schemas.TextExtractor, blobs schemas.BlobStore, timeout time.Duration, logger *zap.Logger) *Perceiver {
	if extractor == nil {
		extractor = NewPageSourceExtractor()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Perceiver{
		device:    device,
		extractor: extractor,
		blobs:     blobs,
		timeout:   timeout,
		logger:    logger.Named("perceiver"),
	}
}

// Capture runs one perception pass. Assets are stored before the screen is
// returned, so a caller never sees elements without their references.
func (p *Perceiver) Capture(ctx context.Context) (Capture, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	app, err := p.device.GetCurrentApp(ctx)
	if err != nil {
		return Capture{}, classify("get_current_app", err)
	}
	shot, err := p.device.GetScreenshot(ctx)
	if err != nil {
		return Capture{}, classify("get_screenshot", err)
	}
	src, err := p.device.GetPageSource(ctx)
	if err != nil {
		return Capture{}, classify("get_page_source", err)
	}

	elements, err := ParsePageSource(src)
	if err != nil {
		return Capture{}, domain.NewError(domain.CodePageSourceInvalid, "parse_page_source", err)
	}
	ext, err := p.extractor.ExtractText(ctx, schemas.ExtractionInput{Screenshot: shot, PageSource: src})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return Capture{}, de
		}
		return Capture{}, domain.NewError(domain.CodeOCRFailed, "extract_text", err)
	}

	out := Capture{
		Screen:     domain.Screen{App: app, Elements: elements, Text: ext.FullText},
		Extraction: ext,
		Bytes:      len(shot) + len(src),
	}
	if p.blobs == nil {
		return out, nil
	}
	if len(shot) > 0 {
		if out.Bundle.ScreenshotRef, err = p.blobs.Put(ctx, KindScreenshot, shot); err != nil {
			return Capture{}, domain.NewError(domain.CodeStorage, "store_screenshot", err)
		}
	}
	if out.Bundle.PageSourceRef, err = p.blobs.Put(ctx, KindPageSource, []byte(src)); err != nil {
		return Capture{}, domain.NewError(domain.CodeStorage, "store_page_source", err)
	}
	raw, err := json.Marshal(ext)
	if err != nil {
		return Capture{}, domain.NewError(domain.CodeOCRFailed, "encode_extraction", err)
	}
	if out.Bundle.OCRRef, err = p.blobs.Put(ctx, KindOCR, raw); err != nil {
		return Capture{}, domain.NewError(domain.CodeStorage, "store_ocr", err)
	}

	p.logger.Debug("Captured screen.",
		zap.String("app", app),
		zap.Int("elements", len(elements)),
		zap.Int("bytes", out.Bytes))
	return out, nil
}

// classify maps a device error into the perception taxonomy. Deadline
// overruns become PAGE_SOURCE_TIMEOUT; classified errors pass through.
func classify(op string, err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.CodePageSourceTimeout, op, err)
	}
	return domain.NewError(domain.CodeOCRFailed, op, err)
}
