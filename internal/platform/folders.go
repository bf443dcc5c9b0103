package platform

import "strings"

// OtherFolder receives bookmarks for model types without a mapping.
const OtherFolder = "Other"

// DefaultBookmarkFolders maps catalog model types to bookmark folders.
var DefaultBookmarkFolders = map[string]string{
	"Checkpoint":        "Checkpoint",
	"LORA":              "Lora",
	"LoCon":             "Lora",
	"DoRA":              "Lora",
	"TextualInversion":  "Embedding",
	"Hypernetwork":      "Hypernetwork",
	"AestheticGradient": "Aesthetic Gradient",
	"Controlnet":        "ControlNet",
	"Upscaler":          "Upscaler",
	"VAE":               "VAE",
	"MotionModule":      "Motion",
	"Poses":             "Poses",
	"Wildcards":         "Wildcards",
	"Workflows":         "Workflows",
	"Other":             OtherFolder,
}

// FolderForType resolves the bookmark folder for a model type. overrides take
// precedence over the defaults; lookups ignore case.
func FolderForType(modelType string, overrides map[string]string) string {
	if f, ok := lookupFold(overrides, modelType); ok {
		return f
	}
	if f, ok := lookupFold(DefaultBookmarkFolders, modelType); ok {
		return f
	}
	return OtherFolder
}

func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok && v != "" {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) && v != "" {
			return v, true
		}
	}
	return "", false
}
