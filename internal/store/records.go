package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go-civitai-companion/internal/models"

	"gorm.io/gorm"
)

// AddRecord saves rec, replacing an existing record for the same model version.
func (s *Store) AddRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	defer s.observe("add_record", time.Now())
	if rec.CivitaiModelID == "" || rec.CivitaiVersionID == "" {
		return models.ModelRecord{}, fmt.Errorf("%w: record needs model and version ids", ErrInvalid)
	}

	row := recordFromModel(rec)
	err := s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Where("civitai_model_id = ? AND civitai_version_id = ?", rec.CivitaiModelID, rec.CivitaiVersionID).First(&existing).Error
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
	if err != nil {
		return models.ModelRecord{}, fmt.Errorf("saving record %s/%s: %w", rec.CivitaiModelID, rec.CivitaiVersionID, err)
	}
	return row.toModel(), nil
}

// UpdateRecord overwrites the record for rec's model version.
func (s *Store) UpdateRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	defer s.observe("update_record", time.Now())
	var existing Record
	err := s.withContext(ctx).Where("civitai_model_id = ? AND civitai_version_id = ?", rec.CivitaiModelID, rec.CivitaiVersionID).First(&existing).Error
	if err != nil {
		return models.ModelRecord{}, notFound(err)
	}
	row := recordFromModel(rec)
	row.ID = existing.ID
	row.CreatedAt = existing.CreatedAt
	if err := s.withContext(ctx).Save(&row).Error; err != nil {
		return models.ModelRecord{}, fmt.Errorf("updating record: %w", err)
	}
	return row.toModel(), nil
}

// RemoveRecord deletes the record of a model version.
func (s *Store) RemoveRecord(ctx context.Context, modelID, versionID string) error {
	defer s.observe("remove_record", time.Now())
	res := s.withContext(ctx).Unscoped().
		Where("civitai_model_id = ? AND civitai_version_id = ?", modelID, versionID).
		Delete(&Record{})
	if res.Error != nil {
		return fmt.Errorf("removing record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecord returns the record of a model version.
func (s *Store) GetRecord(ctx context.Context, modelID, versionID string) (models.ModelRecord, error) {
	defer s.observe("get_record", time.Now())
	var row Record
	err := s.withContext(ctx).Where("civitai_model_id = ? AND civitai_version_id = ?", modelID, versionID).First(&row).Error
	if err != nil {
		return models.ModelRecord{}, notFound(err)
	}
	return row.toModel(), nil
}

// FindRecords returns the records of modelID, or every record when modelID is "".
func (s *Store) FindRecords(ctx context.Context, modelID string) ([]models.ModelRecord, error) {
	defer s.observe("find_records", time.Now())
	q := s.withContext(ctx).Order("id")
	if modelID != "" {
		q = q.Where("civitai_model_id = ?", modelID)
	}
	var rows []Record
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding records: %w", err)
	}
	out := make([]models.ModelRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CheckURL reports whether rawURL is already saved, either verbatim or by the
// model (and version, when the URL names one) it refers to.
func (s *Store) CheckURL(ctx context.Context, rawURL string) (bool, error) {
	defer s.observe("check_url", time.Now())
	q := s.withContext(ctx).Model(&Record{})
	if ref, ok := models.ParseReference(rawURL); ok {
		byID := s.db.Where("civitai_model_id = ?", ref.ModelID)
		if ref.VersionID != "" {
			byID = byID.Where("civitai_version_id = ?", ref.VersionID)
		}
		q = q.Where("url = ?", rawURL).Or(byID)
	} else {
		q = q.Where("url = ?", rawURL)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking url: %w", err)
	}
	return count > 0, nil
}

// Folders lists the distinct download paths of saved records.
func (s *Store) Folders(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "download_file_path")
}

// Categories lists the distinct categories of saved records.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "selected_category")
}

// Tags lists every tag used by saved records, sorted.
func (s *Store) Tags(ctx context.Context) ([]string, error) {
	raw, err := s.distinct(ctx, "tags")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, joined := range raw {
		for _, t := range splitTags(joined) {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	defer s.observe("distinct_"+column, time.Now())
	var values []string
	err := s.withContext(ctx).Model(&Record{}).
		Where(column+" <> ''").
		Distinct(column).
		Order(column).
		Pluck(column, &values).Error
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", column, err)
	}
	return values, nil
}
