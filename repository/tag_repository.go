package repository

import (
	"context"
	"fmt"

	"github.com/camden-git/visionledger/models"
	"gorm.io/gorm"
)

// TagRepository handles database operations for prompt tags
type TagRepository struct {
	DB *gorm.DB
}

// NewTagRepository creates a new instance of TagRepository
func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{DB: db}
}

// Create inserts a tag row, filling in its id
func (r *TagRepository) Create(ctx context.Context, tag *models.PromptTag) error {
	if err := r.DB.WithContext(ctx).Create(tag).Error; err != nil {
		return fmt.Errorf("failed to create tag '%s' for generated image %d: %w", tag.TagName, tag.GeneratedImageID, err)
	}
	return nil
}

// ListByGeneratedImage returns tags newest first
func (r *TagRepository) ListByGeneratedImage(ctx context.Context, generatedImageID int64) ([]models.PromptTag, error) {
	var tags []models.PromptTag
	err := r.DB.WithContext(ctx).
		Where("generated_image_id = ?", generatedImageID).
		Order("created_at DESC").
		Order("tag_id DESC").
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for generated image %d: %w", generatedImageID, err)
	}
	return tags, nil
}
