package store

import (
	"strings"

	"go-civitai-companion/internal/models"

	"gorm.io/gorm"
)

// Record is a saved model version.
type Record struct {
	gorm.Model
	URL              string `gorm:"index"`
	SelectedCategory string `gorm:"index"`
	CivitaiModelID   string `gorm:"uniqueIndex:idx_record_model_version"`
	CivitaiVersionID string `gorm:"uniqueIndex:idx_record_model_version"`
	Name             string
	VersionName      string
	ModelType        string
	BaseModel        string
	Creator          string
	Tags             string // comma separated
	DownloadFilePath string `gorm:"index"`
	FileName         string
}

// QueueEntry is an offline download queue row.
type QueueEntry struct {
	gorm.Model
	CivitaiModelID   string `gorm:"uniqueIndex:idx_queue_model_version"`
	CivitaiVersionID string `gorm:"uniqueIndex:idx_queue_model_version"`
	CivitaiFileName  string
	CivitaiURL       string
	DownloadFilePath string
	SelectedCategory string
	CivitaiTags      string // comma separated
	Hold             bool
	DownloadPriority int
}

// ErrorEntry is a failed model/version pair keyed "{modelID}_{versionID}_{name}".
type ErrorEntry struct {
	gorm.Model
	ErrorKey string `gorm:"uniqueIndex"`
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", " "))
		if t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func recordFromModel(m models.ModelRecord) Record {
	return Record{
		URL:              m.URL,
		SelectedCategory: m.SelectedCategory,
		CivitaiModelID:   m.CivitaiModelID,
		CivitaiVersionID: m.CivitaiVersionID,
		Name:             m.Name,
		VersionName:      m.VersionName,
		ModelType:        m.ModelType,
		BaseModel:        m.BaseModel,
		Creator:          m.Creator,
		Tags:             joinTags(m.Tags),
		DownloadFilePath: m.DownloadFilePath,
		FileName:         m.FileName,
	}
}

func (r Record) toModel() models.ModelRecord {
	return models.ModelRecord{
		URL:              r.URL,
		SelectedCategory: r.SelectedCategory,
		CivitaiModelID:   r.CivitaiModelID,
		CivitaiVersionID: r.CivitaiVersionID,
		Name:             r.Name,
		VersionName:      r.VersionName,
		ModelType:        r.ModelType,
		BaseModel:        r.BaseModel,
		Creator:          r.Creator,
		Tags:             splitTags(r.Tags),
		DownloadFilePath: r.DownloadFilePath,
		FileName:         r.FileName,
		CreatedAt:        r.CreatedAt,
	}
}

func queueFromModel(e models.OfflineQueueEntry) QueueEntry {
	return QueueEntry{
		CivitaiModelID:   e.CivitaiModelID,
		CivitaiVersionID: e.CivitaiVersionID,
		CivitaiFileName:  e.CivitaiFileName,
		CivitaiURL:       e.CivitaiURL,
		DownloadFilePath: e.DownloadFilePath,
		SelectedCategory: e.SelectedCategory,
		CivitaiTags:      joinTags(e.CivitaiTags),
		Hold:             e.Hold,
		DownloadPriority: e.DownloadPriority,
	}
}

func (q QueueEntry) toModel() models.OfflineQueueEntry {
	return models.OfflineQueueEntry{
		CivitaiModelID:   q.CivitaiModelID,
		CivitaiVersionID: q.CivitaiVersionID,
		CivitaiFileName:  q.CivitaiFileName,
		CivitaiURL:       q.CivitaiURL,
		DownloadFilePath: q.DownloadFilePath,
		SelectedCategory: q.SelectedCategory,
		CivitaiTags:      splitTags(q.CivitaiTags),
		Hold:             q.Hold,
		DownloadPriority: q.DownloadPriority,
	}
}
