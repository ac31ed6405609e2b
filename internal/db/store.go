package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/arencloud/depot/internal/models"

	"gorm.io/gorm"
)

// Store is the keyed record store backing resources and file metadata.
// Writes are per-row; there is no optimistic concurrency check.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already opened gorm handle.
func NewStore(gdb *gorm.DB) *Store { return &Store{db: gdb} }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func (s *Store) ListResources(ctx context.Context) ([]models.Resource, error) {
	var items []models.Resource
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return items, nil
}

func (s *Store) CreateResource(ctx context.Context, r *models.Resource) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	var r models.Resource
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// UpdateResource applies a partial update. Returns models.ErrNotFound when no row matched.
func (s *Store) UpdateResource(ctx context.Context, id string, u models.ResourceUpdate) error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("update resource %s: invalid status %q", id, *u.Status)
	}
	cols := u.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update resource %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Resource{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete resource %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) CreateFile(ctx context.Context, f *models.FileMetadata) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create file metadata: %w", err)
	}
	return nil
}

func (s *Store) ListFiles(ctx context.Context, objectStoreName string) ([]models.FileMetadata, error) {
	var items []models.FileMetadata
	err := s.db.WithContext(ctx).Where("object_store_name = ?", objectStoreName).Order("created_at desc").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list file metadata: %w", err)
	}
	return items, nil
}

// DeleteFiles removes every file metadata row referencing the bucket.
func (s *Store) DeleteFiles(ctx context.Context, objectStoreName string) (int64, error) {
	res := s.db.WithContext(ctx).Where("object_store_name = ?", objectStoreName).Delete(&models.FileMetadata{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete file metadata: %w", res.Error)
	}
	return res.RowsAffected, nil
}
