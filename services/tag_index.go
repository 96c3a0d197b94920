package services

import (
	"context"
	"strings"

	"github.com/camden-git/visionledger/clock"
	"github.com/camden-git/visionledger/models"
	"github.com/camden-git/visionledger/repository"
)

// TagIndex attaches free-text tags to generated images.
type TagIndex struct {
	tags   repository.TagRepositoryInterface
	images repository.GeneratedImageRepositoryInterface
	clock  clock.Clock
}

func NewTagIndex(tags repository.TagRepositoryInterface, images repository.GeneratedImageRepositoryInterface, clk clock.Clock) *TagIndex {
	return &TagIndex{tags: tags, images: images, clock: clk}
}

func normalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddTag stores the trimmed, lowercased tag. Duplicates are kept.
func (t *TagIndex) AddTag(ctx context.Context, generatedImageID int64, name string) (*models.PromptTag, error) {
	tagName := normalizeTag(name)
	if tagName == "" {
		return nil, NewValidationError("tag", "must not be empty")
	}
	if err := t.requireImage(ctx, generatedImageID); err != nil {
		return nil, err
	}

	tag := &models.PromptTag{
		GeneratedImageID: generatedImageID,
		TagName:          tagName,
		CreatedAt:        t.clock.Now().Unix(),
	}
	if err := t.tags.Create(ctx, tag); err != nil {
		return nil, dbError("add tag", err)
	}
	return tag, nil
}

// ListTags returns the image's tags, newest first.
func (t *TagIndex) ListTags(ctx context.Context, generatedImageID int64) ([]models.PromptTag, error) {
	if err := t.requireImage(ctx, generatedImageID); err != nil {
		return nil, err
	}
	tags, err := t.tags.ListByGeneratedImage(ctx, generatedImageID)
	if err != nil {
		return nil, dbError("list tags", err)
	}
	if tags == nil {
		tags = []models.PromptTag{}
	}
	return tags, nil
}

func (t *TagIndex) requireImage(ctx context.Context, generatedImageID int64) error {
	exists, err := t.images.Exists(ctx, generatedImageID)
	if err != nil {
		return dbError("check generated image", err)
	}
	if !exists {
		return NewNotFoundError("generated image", generatedImageID)
	}
	return nil
}
