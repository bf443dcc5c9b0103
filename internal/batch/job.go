package batch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-civitai-companion/internal/api"
	"go-civitai-companion/internal/models"
)

// ErrEmptyInputs is returned when a job or queue entry misses a required field.
var ErrEmptyInputs = errors.New("Empty Inputs")

// VersionIndex finds the version the reference points at. Without a version
// id the first version is used. ok is false when the id matches no version or
// the model has no versions.
func VersionIndex(model models.Model, versionID string) (int, bool) {
	if versionID == "" {
		return 0, len(model.ModelVersions) > 0
	}
	want, err := strconv.Atoi(versionID)
	if err != nil {
		return -1, false
	}
	for i, v := range model.ModelVersions {
		if v.ID == want {
			return i, true
		}
	}
	return -1, false
}

// BuildJob assembles the download job for one version of model.
func BuildJob(ref models.ModelReference, model models.Model, version models.ModelVersion, downloadFilePath string) models.DownloadJob {
	versionID := ""
	if version.ID != 0 {
		versionID = strconv.Itoa(version.ID)
	}
	return models.DownloadJob{
		DownloadFilePath: downloadFilePath,
		FileName:         api.RetrieveFileName(version),
		ModelID:          ref.ModelID,
		VersionID:        versionID,
		FileList:         api.FileDescriptors(version),
		URL:              ref.URL,
	}
}

// ValidateJob wraps ErrEmptyInputs with the names of the missing fields.
func ValidateJob(job models.DownloadJob) error {
	if missing := job.Validate(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrEmptyInputs, strings.Join(missing, ", "))
	}
	return nil
}

// BuildRecord is the database record saved after a successful download.
func BuildRecord(job models.DownloadJob, model models.Model, version models.ModelVersion, category string) models.ModelRecord {
	return models.ModelRecord{
		URL:              job.URL,
		SelectedCategory: category,
		CivitaiModelID:   job.ModelID,
		CivitaiVersionID: job.VersionID,
		Name:             model.Name,
		VersionName:      version.Name,
		ModelType:        model.Type,
		BaseModel:        version.BaseModel,
		Creator:          model.Creator.Username,
		Tags:             model.Tags,
		DownloadFilePath: job.DownloadFilePath,
		FileName:         job.FileName,
	}
}

// BuildQueueEntry is the offline queue entry for a job.
func BuildQueueEntry(job models.DownloadJob, model models.Model, category string) models.OfflineQueueEntry {
	return models.OfflineQueueEntry{
		CivitaiModelID:   job.ModelID,
		CivitaiVersionID: job.VersionID,
		CivitaiFileName:  job.FileName,
		CivitaiURL:       job.URL,
		DownloadFilePath: job.DownloadFilePath,
		SelectedCategory: category,
		CivitaiTags:      model.Tags,
	}
}

// QueueEntryURL is the catalog page of a queued model version.
func QueueEntryURL(baseURL string, e models.OfflineQueueEntry) string {
	if e.CivitaiURL != "" {
		return e.CivitaiURL
	}
	return fmt.Sprintf("%s/models/%s?modelVersionId=%s", strings.TrimRight(baseURL, "/"), e.CivitaiModelID, e.CivitaiVersionID)
}
