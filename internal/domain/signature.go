// internal/domain/signature.go
package domain

// SketchWords is the number of 64-bit words in a signature bit-sketch.
const SketchWords = 4

// Sketch is a fixed-width bit set summarizing a screen's features.
type Sketch [SketchWords]uint64

// ScreenSignature identifies a screen. Two signatures are equal iff their
// composite hashes match; the sketches only feed the delta metric.
type ScreenSignature struct {
	CompositeHash string `json:"composite_hash"`
	LayoutHash    string `json:"layout_hash"`
	OCRStemsHash  string `json:"ocr_stems_hash"`
	LayoutSketch  Sketch `json:"layout_sketch"`
	TextSketch    Sketch `json:"text_sketch"`
}

// Equal compares by composite hash.
func (s ScreenSignature) Equal(o ScreenSignature) bool {
	return s.CompositeHash == o.CompositeHash
}

// IsZero reports whether the signature was never computed.
func (s ScreenSignature) IsZero() bool { return s.CompositeHash == "" }

// Short returns an abbreviated hash for logs.
func (s ScreenSignature) Short() string {
	if len(s.CompositeHash) <= 12 {
		return s.CompositeHash
	}
	return s.CompositeHash[:12]
}

// Bundle holds opaque blob-store keys for a screen's heavy assets. It never
// embeds payloads.
type Bundle struct {
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
	PageSourceRef string `json:"page_source_ref,omitempty"`
	OCRRef        string `json:"ocr_ref,omitempty"`
	VideoRef      string `json:"video_ref,omitempty"`
}

// Refs returns the non-empty references.
func (b Bundle) Refs() []string {
	out := make([]string, 0, 4)
	for _, r := range []string{b.ScreenshotRef, b.PageSourceRef, b.OCRRef, b.VideoRef} {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Screen is the parsed result of a Perceive step.
type Screen struct {
	App      string      `json:"app"`
	Elements []UIElement `json:"elements"`
	Text     string      `json:"text"`
}
