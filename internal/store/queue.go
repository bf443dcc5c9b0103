package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-civitai-companion/internal/models"

	"gorm.io/gorm"
)

// ListQueue returns the offline queue, highest priority first, held entries last.
func (s *Store) ListQueue(ctx context.Context) ([]models.OfflineQueueEntry, error) {
	defer s.observe("list_queue", time.Now())
	var rows []QueueEntry
	if err := s.withContext(ctx).Order("hold ASC, download_priority DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing offline queue: %w", err)
	}
	out := make([]models.OfflineQueueEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// AddQueue adds e to the offline queue. An entry for the same model version is
// replaced.
func (s *Store) AddQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	defer s.observe("add_queue", time.Now())
	if e.CivitaiModelID == "" || e.CivitaiVersionID == "" {
		return fmt.Errorf("%w: queue entry needs model and version ids", ErrInvalid)
	}
	row := queueFromModel(e)
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing QueueEntry
		err := tx.Where("civitai_model_id = ? AND civitai_version_id = ?", e.CivitaiModelID, e.CivitaiVersionID).First(&existing).Error
		switch {
		case err == nil:
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			return tx.Save(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&row).Error
		default:
			return err
		}
	})
}

// ReplaceQueue overwrites an existing entry. It fails with ErrNotFound when the
// model version is not queued.
func (s *Store) ReplaceQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	defer s.observe("replace_queue", time.Now())
	var existing QueueEntry
	err := s.withContext(ctx).Where("civitai_model_id = ? AND civitai_version_id = ?", e.CivitaiModelID, e.CivitaiVersionID).First(&existing).Error
	if err != nil {
		return notFound(err)
	}
	row := queueFromModel(e)
	row.ID = existing.ID
	row.CreatedAt = existing.CreatedAt
	return s.withContext(ctx).Save(&row).Error
}

// RemoveQueue deletes the entry of a model version.
func (s *Store) RemoveQueue(ctx context.Context, modelID, versionID string) error {
	defer s.observe("remove_queue", time.Now())
	return removeQueue(s.withContext(ctx), modelID, versionID)
}

func removeQueue(tx *gorm.DB, modelID, versionID string) error {
	res := tx.Unscoped().
		Where("civitai_model_id = ? AND civitai_version_id = ?", modelID, versionID).
		Delete(&QueueEntry{})
	if res.Error != nil {
		return fmt.Errorf("removing queue entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InQueue reports whether rawURL refers to a queued model (and version, when given).
func (s *Store) InQueue(ctx context.Context, rawURL string) (bool, error) {
	defer s.observe("in_queue", time.Now())
	q := s.withContext(ctx).Model(&QueueEntry{})
	if ref, ok := models.ParseReference(rawURL); ok {
		byID := s.db.Where("civitai_model_id = ?", ref.ModelID)
		if ref.VersionID != "" {
			byID = byID.Where("civitai_version_id = ?", ref.VersionID)
		}
		q = q.Where("civitai_url = ?", rawURL).Or(byID)
	} else {
		q = q.Where("civitai_url = ?", rawURL)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking queue: %w", err)
	}
	return count > 0, nil
}
