package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/models"
	"gorm.io/gorm"
)

// GeneratedImageRepository handles the read side of the generation ledger.
// Writes that must be guarded by status go through the database package.
type GeneratedImageRepository struct {
	DB *gorm.DB
}

// NewGeneratedImageRepository creates a new instance of GeneratedImageRepository
func NewGeneratedImageRepository(db *gorm.DB) *GeneratedImageRepository {
	return &GeneratedImageRepository{DB: db}
}

// GetByID retrieves a generation row of any status
func (r *GeneratedImageRepository) GetByID(ctx context.Context, id int64) (*models.GeneratedImage, error) {
	var img models.GeneratedImage
	err := r.DB.WithContext(ctx).First(&img, "generated_image_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get generated image %d: %w", id, err)
	}
	return &img, nil
}

// Exists reports whether a generation row with this id is present
func (r *GeneratedImageRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.GeneratedImage{}).
		Where("generated_image_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check generated image %d: %w", id, err)
	}
	return count > 0, nil
}

func (r *GeneratedImageRepository) completed(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx).
		Where("status = ?", database.StatusCompleted).
		Order("generation_time DESC").
		Order("generated_image_id DESC")
}

// ListRecent returns completed rows newest first
func (r *GeneratedImageRepository) ListRecent(ctx context.Context, limit int) ([]models.GeneratedImage, error) {
	var images []models.GeneratedImage
	if err := r.completed(ctx).Limit(limit).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent generated images: %w", err)
	}
	return images, nil
}

// Search matches term as a case-insensitive substring of the prompt or the
// negative prompt. LIKE wildcards in term match literally.
func (r *GeneratedImageRepository) Search(ctx context.Context, term string) ([]models.GeneratedImage, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"

	var images []models.GeneratedImage
	err := r.completed(ctx).
		Where("(LOWER(prompt) LIKE ? ESCAPE '\\' OR LOWER(negative_prompt) LIKE ? ESCAPE '\\')", pattern, pattern).
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search generated images for '%s': %w", term, err)
	}
	return images, nil
}

// ListBySeed returns completed rows generated with seed, newest first
func (r *GeneratedImageRepository) ListBySeed(ctx context.Context, seed int64) ([]models.GeneratedImage, error) {
	var images []models.GeneratedImage
	if err := r.completed(ctx).Where("seed = ?", seed).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list generated images for seed %d: %w", seed, err)
	}
	return images, nil
}

const statisticsColumns = `COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS processing,
	COALESCE(AVG(CASE WHEN status = ? THEN generation_duration END), 0) AS avg_duration,
	COALESCE(SUM(CASE WHEN status = ? THEN file_size ELSE 0 END), 0) AS total_bytes,
	COALESCE(SUM(view_count), 0) AS total_views,
	COALESCE(SUM(download_count), 0) AS total_downloads`

// Statistics aggregates the whole ledger; every field is zero when it is empty
func (r *GeneratedImageRepository) Statistics(ctx context.Context) (models.GenerationStatistics, error) {
	var stats models.GenerationStatistics
	err := r.DB.WithContext(ctx).Model(&models.GeneratedImage{}).
		Select(statisticsColumns,
			database.StatusCompleted, database.StatusFailed, database.StatusProcessing,
			database.StatusCompleted, database.StatusCompleted,
		).
		Scan(&stats).Error
	if err != nil {
		return models.GenerationStatistics{}, fmt.Errorf("failed to compute generation statistics: %w", err)
	}
	return stats, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
