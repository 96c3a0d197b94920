package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/media"
)

type AnswerResult struct {
	QuestionID int64   `json:"question_id"`
	AnswerText string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	FromCache  bool    `json:"from_cache"`
}

// AnswerCache keeps at most one answer per (image, question text). The
// generator runs outside any transaction and the unique constraints decide
// which concurrent caller's answer is kept.
type AnswerCache struct {
	db      *sql.DB
	store   media.Store
	timeout time.Duration
}

func NewAnswerCache(db *sql.DB, store media.Store, timeout time.Duration) *AnswerCache {
	return &AnswerCache{db: db, store: store, timeout: timeout}
}

func normalizeQuestion(questionText string) (string, error) {
	q := strings.TrimSpace(questionText)
	if q == "" {
		return "", NewValidationError("question", "must not be empty")
	}
	return q, nil
}

// GetOrCreateAnswer returns the stored answer for the pair or generates,
// persists and returns a new one. FromCache is false only for the caller
// whose answer was persisted.
func (c *AnswerCache) GetOrCreateAnswer(ctx context.Context, imageID int64, questionText string, gen generators.AnswerGenerator) (AnswerResult, error) {
	question, err := normalizeQuestion(questionText)
	if err != nil {
		return AnswerResult{}, err
	}
	if gen == nil {
		return AnswerResult{}, NewValidationError("generator", "no answer generator configured")
	}

	cached, err := database.LookupAnswer(ctx, c.db, imageID, question)
	if err == nil {
		return AnswerResult{QuestionID: cached.QuestionID, AnswerText: cached.AnswerText, Confidence: cached.Confidence, FromCache: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AnswerResult{}, dbError("lookup answer", err)
	}

	image, err := database.GetImageByID(ctx, c.db, imageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AnswerResult{}, NewValidationError("image_id", fmt.Sprintf("unknown image %d", imageID))
		}
		return AnswerResult{}, dbError("get image", err)
	}

	imageData, err := c.store.Read(ctx, media.Reference{Path: image.FilePath})
	if err != nil {
		return AnswerResult{}, fmt.Errorf("failed to read image %d: %w", imageID, err)
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	answer, err := gen.GenerateAnswer(genCtx, imageData, question)
	cancel()
	if err != nil {
		log.Printf("answer cache: generation failed for image %d: %v", imageID, err)
		return AnswerResult{}, &GenerationError{Op: "answer generation", Err: err}
	}

	stored, created, err := database.PersistAnswer(ctx, c.db, imageID, question, strings.TrimSpace(answer.Text), clampConfidence(answer.Confidence))
	if err != nil {
		return AnswerResult{}, dbError("persist answer", err)
	}
	if !created {
		log.Printf("answer cache: %v on question %d, returning the stored answer", ErrConflict, stored.QuestionID)
	}

	return AnswerResult{
		QuestionID: stored.QuestionID,
		AnswerText: stored.AnswerText,
		Confidence: stored.Confidence,
		FromCache:  !created,
	}, nil
}

func clampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
