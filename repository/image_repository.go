package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/camden-git/visionledger/models"
	"gorm.io/gorm"
)

// ImageRepository handles read operations for uploaded VQA images
type ImageRepository struct {
	DB *gorm.DB
}

// NewImageRepository creates a new instance of ImageRepository
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{DB: db}
}

// GetByID retrieves an image row by id
func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*models.Image, error) {
	var image models.Image
	err := r.DB.WithContext(ctx).First(&image, "image_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get image %d: %w", id, err)
	}
	return &image, nil
}

// ListAll returns every image row, newest upload first
func (r *ImageRepository) ListAll(ctx context.Context) ([]models.Image, error) {
	var images []models.Image
	err := r.DB.WithContext(ctx).
		Order("upload_time DESC").
		Order("image_id DESC").
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// ListQuestions returns the questions asked about an image with their
// answers. Questions without an answer have an empty AnswerText.
func (r *ImageRepository) ListQuestions(ctx context.Context, imageID int64) ([]models.QuestionWithAnswer, error) {
	var questions []models.QuestionWithAnswer
	err := r.DB.WithContext(ctx).
		Table("questions AS q").
		Select("q.question_id, q.question_text, COALESCE(a.answer_text, '') AS answer_text, a.confidence_score").
		Joins("LEFT JOIN answers AS a ON a.question_id = q.question_id").
		Where("q.image_id = ?", imageID).
		Order("q.question_id ASC").
		Scan(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list questions for image %d: %w", imageID, err)
	}
	return questions, nil
}
