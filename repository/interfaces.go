package repository

import (
	"context"

	"github.com/camden-git/visionledger/models"
)

// GeneratedImageRepositoryInterface defines the read operations of the generation ledger
type GeneratedImageRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*models.GeneratedImage, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]models.GeneratedImage, error)
	Search(ctx context.Context, term string) ([]models.GeneratedImage, error)
	ListBySeed(ctx context.Context, seed int64) ([]models.GeneratedImage, error)
	Statistics(ctx context.Context) (models.GenerationStatistics, error)
}

// ImageRepositoryInterface defines the read operations for uploaded images
type ImageRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*models.Image, error)
	ListAll(ctx context.Context) ([]models.Image, error)
	ListQuestions(ctx context.Context, imageID int64) ([]models.QuestionWithAnswer, error)
}

// TagRepositoryInterface defines the methods for prompt tag data operations
type TagRepositoryInterface interface {
	Create(ctx context.Context, tag *models.PromptTag) error
	ListByGeneratedImage(ctx context.Context, generatedImageID int64) ([]models.PromptTag, error)
}
