package api

import (
	"testing"

	"go-civitai-companion/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRetrieveFileName(t *testing.T) {
	tests := []struct {
		name  string
		files []models.File
		want  string
	}{
		{
			name: "model file among others",
			files: []models.File{
				{Name: "a.safetensors", Type: "Model"},
				{Name: "b.txt", Type: "Training Data"},
			},
			want: "a.safetensors",
		},
		{
			name: "model file not first",
			files: []models.File{
				{Name: "config.yaml", Type: "Config"},
				{Name: "c.ckpt", Type: "Model"},
			},
			want: "c.ckpt",
		},
		{
			name:  "single file regardless of type",
			files: []models.File{{Name: "only.zip", Type: "Training Data"}},
			want:  "only.zip",
		},
		{
			name: "no model file",
			files: []models.File{
				{Name: "x.txt", Type: "Training Data"},
				{Name: "y.yaml", Type: "Config"},
			},
			want: "",
		},
		{name: "no files", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetrieveFileName(models.ModelVersion{Files: tt.files})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileDescriptors(t *testing.T) {
	v := models.ModelVersion{Files: []models.File{
		{Name: "a.safetensors", DownloadUrl: "https://x/a"},
		{Name: "b.txt", DownloadUrl: "https://x/b"},
	}}
	got := FileDescriptors(v)
	assert.Equal(t, []models.DownloadFileDescriptor{
		{Name: "a.safetensors", DownloadUrl: "https://x/a"},
		{Name: "b.txt", DownloadUrl: "https://x/b"},
	}, got)
}
