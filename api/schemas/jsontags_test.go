package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// TestStructJSONTags uses reflection to verify that the `json` tags on struct fields
// are correct. Usage records and OCR output are persisted and exchanged with
// providers, so the wire names must stay stable.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Usage",
			structRef: schemas.Usage{},
			expectedTags: map[string]string{
				"Steps":  "steps",
				"Tokens": "tokens",
				"Cost":   "cost",
				"Errors": "errors",
				"Calls":  "calls",
			},
		},
		{
			name:      "TextExtraction",
			structRef: schemas.TextExtraction{},
			expectedTags: map[string]string{
				"FullText":   "full_text",
				"Regions":    "regions",
				"Confidence": "confidence",
			},
		},
		{
			name:      "TextRegion",
			structRef: schemas.TextRegion{},
			expectedTags: map[string]string{
				"Text":       "text",
				"Bounds":     "bounds",
				"Confidence": "confidence",
			},
		},
		{
			name:      "GenerationRequest",
			structRef: schemas.GenerationRequest{},
			expectedTags: map[string]string{
				"SystemPrompt": "system_prompt",
				"UserPrompt":   "user_prompt",
				"Tier":         "tier",
				"Options":      "options",
			},
		},
		{
			name:      "GenerationResponse",
			structRef: schemas.GenerationResponse{},
			expectedTags: map[string]string{
				"Text":  "text",
				"Model": "model",
				"Usage": "usage",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)

			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
