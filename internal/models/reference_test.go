package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		url       string
		ok        bool
		modelID   string
		versionID string
	}{
		{"https://civitai.com/models/4201/realistic-vision", true, "4201", ""},
		{"https://civitai.com/models/4201?modelVersionId=130072", true, "4201", "130072"},
		{"https://civitai.com/models/4201/slug?foo=1&modelVersionId=9", true, "4201", "9"},
		{"https://civitai.com/images/123", false, "", ""},
		{"https://civitai.com/models/abc", false, "", ""},
		{"", false, "", ""},
	}
	for _, tt := range tests {
		ref, ok := ParseReference(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.modelID, ref.ModelID, tt.url)
		assert.Equal(t, tt.versionID, ref.VersionID, tt.url)
		assert.Equal(t, tt.url, ref.URL)
	}
}
