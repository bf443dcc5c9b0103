package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-civitai-companion/internal/models"

	"gorm.io/gorm"
)

// ListErrors returns the error list keys in insertion order.
func (s *Store) ListErrors(ctx context.Context) ([]string, error) {
	defer s.observe("list_errors", time.Now())
	var keys []string
	if err := s.withContext(ctx).Model(&ErrorEntry{}).Order("id").Pluck("error_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("listing errors: %w", err)
	}
	return keys, nil
}

// AddError records key. Adding an existing key is a no-op.
func (s *Store) AddError(ctx context.Context, key string) error {
	defer s.observe("add_error", time.Now())
	if _, _, _, ok := models.ParseErrorKey(key); !ok {
		return fmt.Errorf("%w: malformed error key %q", ErrInvalid, key)
	}
	err := s.withContext(ctx).Where(ErrorEntry{ErrorKey: key}).FirstOrCreate(&ErrorEntry{}).Error
	if err != nil {
		return fmt.Errorf("adding error %s: %w", key, err)
	}
	return nil
}

// RemoveError deletes key.
func (s *Store) RemoveError(ctx context.Context, key string) error {
	defer s.observe("remove_error", time.Now())
	return removeError(s.withContext(ctx), key)
}

// RemoveErrorAndQueue deletes key and the offline queue entry of the same model
// version in one transaction. A missing queue entry is not an error.
func (s *Store) RemoveErrorAndQueue(ctx context.Context, key string) error {
	defer s.observe("remove_error_and_queue", time.Now())
	modelID, versionID, _, ok := models.ParseErrorKey(key)
	if !ok {
		return fmt.Errorf("%w: malformed error key %q", ErrInvalid, key)
	}
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := removeError(tx, key); err != nil {
			return err
		}
		if err := removeQueue(tx, modelID, versionID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
}

func removeError(tx *gorm.DB, key string) error {
	res := tx.Unscoped().Where("error_key = ?", key).Delete(&ErrorEntry{})
	if res.Error != nil {
		return fmt.Errorf("removing error %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
