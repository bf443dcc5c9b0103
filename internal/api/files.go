package api

import "go-civitai-companion/internal/models"

// SelectModelFile picks the file a download is named after: the one typed
// "Model", or the only file of a single-file version whatever its type.
func SelectModelFile(version models.ModelVersion) (models.File, bool) {
	if len(version.Files) == 1 {
		return version.Files[0], true
	}
	for _, f := range version.Files {
		if f.Type == "Model" {
			return f, true
		}
	}
	return models.File{}, false
}

// RetrieveFileName returns the name of SelectModelFile, or "".
func RetrieveFileName(version models.ModelVersion) string {
	f, ok := SelectModelFile(version)
	if !ok {
		return ""
	}
	return f.Name
}

// FileDescriptors lists every file of version as download descriptors.
func FileDescriptors(version models.ModelVersion) []models.DownloadFileDescriptor {
	out := make([]models.DownloadFileDescriptor, 0, len(version.Files))
	for _, f := range version.Files {
		out = append(out, models.DownloadFileDescriptor{Name: f.Name, DownloadUrl: f.DownloadUrl})
	}
	return out
}
