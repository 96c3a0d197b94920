package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/camden-git/visionledger/clock"
	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/models"
	"github.com/camden-git/visionledger/repository"
)

// ImageLibrary owns uploaded images and the questions asked about them.
type ImageLibrary struct {
	db     *sql.DB
	images repository.ImageRepositoryInterface
	store  media.Store
	cache  *AnswerCache
	clock  clock.Clock
}

func NewImageLibrary(db *sql.DB, images repository.ImageRepositoryInterface, store media.Store, cache *AnswerCache, clk clock.Clock) *ImageLibrary {
	return &ImageLibrary{db: db, images: images, store: store, cache: cache, clock: clk}
}

type AskResult struct {
	Image  database.Image `json:"image"`
	Answer AnswerResult   `json:"answer"`
}

// Upload stores the artifact and records the image unless one with the same
// file name exists. Names are the only dedup key: a second upload under an
// existing name keeps the first row and its artifact, the new artifact is
// left unreferenced.
func (l *ImageLibrary) Upload(ctx context.Context, fileName string, data []byte) (database.Image, bool, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return database.Image{}, false, NewValidationError("filename", "must not be empty")
	}
	if len(data) == 0 {
		return database.Image{}, false, NewValidationError("image", "must not be empty")
	}

	ref, err := l.store.Save(ctx, media.AssetTypeUpload, fileName, data)
	if err != nil {
		return database.Image{}, false, err
	}

	image, created, err := database.EnsureImageRecord(ctx, l.db, fileName, ref.Path, l.clock.Now().Unix())
	if err != nil {
		return database.Image{}, false, dbError("ensure image", err)
	}
	if !created {
		log.Printf("image library: %s already recorded as image %d, artifact %s is unreferenced", fileName, image.ID, ref.Path)
	}
	return image, created, nil
}

// Ask uploads the image and answers the question about it.
func (l *ImageLibrary) Ask(ctx context.Context, fileName string, data []byte, questionText string, gen generators.AnswerGenerator) (AskResult, error) {
	if _, err := normalizeQuestion(questionText); err != nil {
		return AskResult{}, err
	}

	image, _, err := l.Upload(ctx, fileName, data)
	if err != nil {
		return AskResult{}, err
	}

	answer, err := l.cache.GetOrCreateAnswer(ctx, image.ID, questionText, gen)
	if err != nil {
		return AskResult{}, err
	}
	return AskResult{Image: image, Answer: answer}, nil
}

// ListImages returns every image whose artifact is still present. Images
// with a missing or unreadable artifact are logged and left out.
func (l *ImageLibrary) ListImages(ctx context.Context, sortOrder string) ([]models.Image, error) {
	if sortOrder == "" {
		sortOrder = database.DefaultSortOrder
	}
	if !database.IsValidSortOrder(sortOrder) {
		return nil, NewValidationError("sort", "unsupported sort order "+sortOrder)
	}

	all, err := l.images.ListAll(ctx)
	if err != nil {
		return nil, dbError("list images", err)
	}

	images := make([]models.Image, 0, len(all))
	for _, img := range all {
		exists, err := l.store.Exists(ctx, media.Reference{Path: img.FilePath})
		if err != nil {
			log.Printf("image library: skipping image %d, artifact check failed: %v", img.ID, err)
			continue
		}
		if !exists {
			log.Printf("image library: skipping image %d, artifact %s is missing", img.ID, img.FilePath)
			continue
		}
		images = append(images, img)
	}

	sortImages(images, sortOrder)
	return images, nil
}

func sortImages(images []models.Image, sortOrder string) {
	switch sortOrder {
	case database.SortDateAsc:
		sort.SliceStable(images, func(i, j int) bool {
			if images[i].UploadTime != images[j].UploadTime {
				return images[i].UploadTime < images[j].UploadTime
			}
			return images[i].ID < images[j].ID
		})
	case database.SortFilenameAsc:
		sort.SliceStable(images, func(i, j int) bool {
			return strings.ToLower(images[i].FileName) < strings.ToLower(images[j].FileName)
		})
	case database.SortFilenameNat:
		sort.SliceStable(images, func(i, j int) bool {
			return natsort.Compare(strings.ToLower(images[i].FileName), strings.ToLower(images[j].FileName))
		})
	default:
		sort.SliceStable(images, func(i, j int) bool {
			if images[i].UploadTime != images[j].UploadTime {
				return images[i].UploadTime > images[j].UploadTime
			}
			return images[i].ID > images[j].ID
		})
	}
}

// ListQuestions returns the questions asked about an image with their answers.
func (l *ImageLibrary) ListQuestions(ctx context.Context, imageID int64) ([]models.QuestionWithAnswer, error) {
	if _, err := l.images.GetByID(ctx, imageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("image", imageID)
		}
		return nil, dbError("get image", err)
	}

	questions, err := l.images.ListQuestions(ctx, imageID)
	if err != nil {
		return nil, dbError("list questions", err)
	}
	return questions, nil
}
