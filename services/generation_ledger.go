package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/visionledger/clock"
	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/models"
	"github.com/camden-git/visionledger/realtime"
	"github.com/camden-git/visionledger/repository"
	"github.com/camden-git/visionledger/workers"
)

const (
	DefaultNegativePrompt = "blurry, bad quality, distorted, ugly, low resolution"
	DefaultSteps          = 30
	DefaultGuidanceScale  = 7.5
	DefaultImageSize      = 512

	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxBatchPrompts  = 10

	// applies to storing and finalizing once the caller may have gone away
	finalizeTimeout = 30 * time.Second

	abandonedMessage = "abandoned: process exited during generation"
)

// EventPublisher receives ledger transitions. *realtime.Hub implements it.
type EventPublisher interface {
	Broadcast(event realtime.Event)
}

// GenerationParams are the caller supplied parameters. Zero values and a nil
// NegativePrompt take the defaults.
type GenerationParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt *string `json:"negative_prompt,omitempty"`
	Steps          int     `json:"num_inference_steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
}

// Request validates p and fills in defaults.
func (p GenerationParams) Request() (generators.ImageRequest, error) {
	req := generators.ImageRequest{
		Prompt:         strings.TrimSpace(p.Prompt),
		NegativePrompt: DefaultNegativePrompt,
		Steps:          p.Steps,
		GuidanceScale:  p.GuidanceScale,
		Width:          p.Width,
		Height:         p.Height,
		Seed:           p.Seed,
	}
	if p.NegativePrompt != nil {
		req.NegativePrompt = strings.TrimSpace(*p.NegativePrompt)
	}
	if req.Steps == 0 {
		req.Steps = DefaultSteps
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = DefaultGuidanceScale
	}
	if req.Width == 0 {
		req.Width = DefaultImageSize
	}
	if req.Height == 0 {
		req.Height = DefaultImageSize
	}

	switch {
	case req.Prompt == "":
		return req, NewValidationError("prompt", "must not be empty")
	case req.Steps < 1 || req.Steps > 150:
		return req, NewValidationError("num_inference_steps", "must be between 1 and 150")
	case req.GuidanceScale <= 0 || req.GuidanceScale > 30:
		return req, NewValidationError("guidance_scale", "must be greater than 0 and at most 30")
	case !validDimension(req.Width):
		return req, NewValidationError("width", "must be a multiple of 8 between 64 and 2048")
	case !validDimension(req.Height):
		return req, NewValidationError("height", "must be a multiple of 8 between 64 and 2048")
	case req.Seed != nil && *req.Seed < 0:
		return req, NewValidationError("seed", "must not be negative")
	}
	return req, nil
}

func validDimension(v int) bool {
	return v >= 64 && v <= 2048 && v%8 == 0
}

type LedgerOptions struct {
	Timeout      time.Duration // bound on every generator call
	BatchWorkers int
	Events       EventPublisher // optional
}

// GenerationLedger records every text-to-image attempt. Rows are inserted as
// processing before the generator runs and finalized exactly once.
type GenerationLedger struct {
	db        *sql.DB
	repo      repository.GeneratedImageRepositoryInterface
	store     media.Store
	processor *media.Processor
	generator generators.ImageGenerator
	clock     clock.Clock
	opts      LedgerOptions
}

func NewGenerationLedger(
	db *sql.DB,
	repo repository.GeneratedImageRepositoryInterface,
	store media.Store,
	processor *media.Processor,
	generator generators.ImageGenerator,
	clk clock.Clock,
	opts LedgerOptions,
) *GenerationLedger {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 1
	}
	return &GenerationLedger{
		db:        db,
		repo:      repo,
		store:     store,
		processor: processor,
		generator: generator,
		clock:     clk,
		opts:      opts,
	}
}

// RecordAttempt runs one generation and returns its finalized row. When the
// attempt fails the failed row is returned together with the error.
func (l *GenerationLedger) RecordAttempt(ctx context.Context, params GenerationParams) (*models.GeneratedImage, error) {
	req, err := params.Request()
	if err != nil {
		return nil, err
	}

	var requestedSeed int64
	if req.Seed != nil {
		requestedSeed = *req.Seed
	}

	start := l.clock.Now()
	id, err := database.InsertGenerationAttempt(ctx, l.db, database.GenerationAttempt{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           requestedSeed,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
		ModelUsed:      l.generator.ModelID(),
		GenerationTime: start.Unix(),
	})
	if err != nil {
		return nil, dbError("insert generation attempt", err)
	}
	l.publish(id, database.StatusProcessing, req.Prompt, req.Seed, "")

	genCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	result, genErr := l.generator.Generate(genCtx, req)
	cancel()

	elapsed := l.clock.Now().Sub(start)

	// the caller may be gone by now; the row still has to be finalized
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()

	if genErr != nil {
		err := &GenerationError{Op: "image generation", Err: genErr}
		return l.fail(finCtx, id, req, err, elapsed)
	}

	info, err := l.processor.Inspect(result.Image)
	if err != nil {
		genErr := &GenerationError{Op: "image generation", Err: fmt.Errorf("generator returned an unusable image: %w", err)}
		return l.fail(finCtx, id, req, genErr, elapsed)
	}

	duration := result.Duration
	if duration <= 0 {
		duration = elapsed
	}

	ref, err := l.store.Save(finCtx, media.AssetTypeGenerated, artifactLogicalName(req.Prompt, result.SeedUsed, info.Format), result.Image)
	if err != nil {
		return l.fail(finCtx, id, req, err, duration)
	}

	err = database.CompleteGeneration(finCtx, l.db, id, database.GenerationResult{
		FilePath:    ref.Path,
		FileName:    path.Base(ref.Path),
		Seed:        result.SeedUsed,
		Duration:    duration.Seconds(),
		FileSize:    ref.Size,
		FinalizedAt: l.clock.Now().Unix(),
	})
	if err != nil {
		log.Printf("ledger: failed to complete generation %d, artifact %s is unreferenced: %v", id, ref.Path, err)
		completeErr := dbError("complete generation", err)
		if failErr := database.FailGeneration(finCtx, l.db, id, completeErr.Error(), duration.Seconds(), l.clock.Now().Unix()); failErr != nil {
			log.Printf("ledger: ERROR recording failure of generation %d: %v", id, failErr)
			return nil, completeErr
		}
		l.publish(id, database.StatusFailed, req.Prompt, req.Seed, completeErr.Error())
		return nil, completeErr
	}

	seedUsed := result.SeedUsed
	l.publish(id, database.StatusCompleted, req.Prompt, &seedUsed, "")
	log.Printf("ledger: generation %d completed in %.2fs (seed %d)", id, duration.Seconds(), seedUsed)

	return l.GetByID(finCtx, id)
}

func (l *GenerationLedger) fail(ctx context.Context, id int64, req generators.ImageRequest, cause error, elapsed time.Duration) (*models.GeneratedImage, error) {
	log.Printf("ledger: generation %d failed: %v", id, cause)

	if err := database.FailGeneration(ctx, l.db, id, cause.Error(), elapsed.Seconds(), l.clock.Now().Unix()); err != nil {
		log.Printf("ledger: ERROR recording failure of generation %d: %v", id, err)
		return nil, errors.Join(cause, dbError("fail generation", err))
	}
	l.publish(id, database.StatusFailed, req.Prompt, req.Seed, cause.Error())

	row, err := l.GetByID(ctx, id)
	if err != nil {
		log.Printf("ledger: ERROR reloading failed generation %d: %v", id, err)
		return nil, cause
	}
	return row, cause
}

func (l *GenerationLedger) publish(id int64, status, prompt string, seed *int64, errMsg string) {
	if l.opts.Events == nil {
		return
	}
	l.opts.Events.Broadcast(realtime.Event{
		Type:      realtime.EventTypeGeneration,
		ID:        id,
		Status:    status,
		Prompt:    prompt,
		Seed:      seed,
		Error:     errMsg,
		Timestamp: l.clock.Now().Unix(),
	})
}

// artifactLogicalName is generated_<first 50 prompt chars>_seed<seed>.<ext>
func artifactLogicalName(prompt string, seed int64, format string) string {
	short := []rune(prompt)
	if len(short) > 50 {
		short = short[:50]
	}
	ext := "png"
	switch format {
	case "jpeg":
		ext = "jpg"
	case "gif", "bmp", "tiff":
		ext = format
	}
	fragment := strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(string(short))
	return fmt.Sprintf("generated_%s_seed%d.%s", fragment, seed, ext)
}

// GetByID returns a row of any status.
func (l *GenerationLedger) GetByID(ctx context.Context, id int64) (*models.GeneratedImage, error) {
	img, err := l.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("generated image", id)
		}
		return nil, dbError("get generated image", err)
	}
	return img, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ListRecent returns completed generations, newest first.
func (l *GenerationLedger) ListRecent(ctx context.Context, limit int) ([]models.GeneratedImage, error) {
	images, err := l.repo.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, dbError("list recent generations", err)
	}
	return images, nil
}

// Search matches term against prompt and negative prompt, completed only.
func (l *GenerationLedger) Search(ctx context.Context, term string) ([]models.GeneratedImage, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, NewValidationError("q", "search term must not be empty")
	}
	images, err := l.repo.Search(ctx, term)
	if err != nil {
		return nil, dbError("search generations", err)
	}
	return images, nil
}

// ListBySeed returns completed generations that used seed, newest first.
func (l *GenerationLedger) ListBySeed(ctx context.Context, seed int64) ([]models.GeneratedImage, error) {
	images, err := l.repo.ListBySeed(ctx, seed)
	if err != nil {
		return nil, dbError("list generations by seed", err)
	}
	return images, nil
}

func (l *GenerationLedger) IncrementView(ctx context.Context, id int64) error {
	return l.increment(ctx, id, "view_count")
}

func (l *GenerationLedger) IncrementDownload(ctx context.Context, id int64) error {
	return l.increment(ctx, id, "download_count")
}

func (l *GenerationLedger) increment(ctx context.Context, id int64, column string) error {
	err := database.IncrementGeneratedImageCounter(ctx, l.db, id, column)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("generated image", id)
		}
		return dbError("increment "+column, err)
	}
	return nil
}

// Delete removes the row and its tags. With alsoDeleteFile the artifact is
// removed once the row is gone; failing to remove it is only logged.
func (l *GenerationLedger) Delete(ctx context.Context, id int64, alsoDeleteFile bool) (bool, error) {
	img, err := l.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	deleted, err := database.DeleteGeneratedImage(ctx, l.db, id)
	if err != nil {
		return false, dbError("delete generation", err)
	}
	if !deleted {
		return false, NewNotFoundError("generated image", id)
	}

	fileRemoved := false
	if alsoDeleteFile && img.FilePath != "" {
		if err := l.store.Delete(ctx, media.Reference{Path: img.FilePath}); err != nil {
			log.Printf("ledger: could not delete artifact %s of generation %d: %v", img.FilePath, id, err)
		} else {
			fileRemoved = true
		}
	}
	log.Printf("ledger: deleted generation %d (file removed: %t)", id, fileRemoved)
	return true, nil
}

// Statistics aggregates the whole ledger. An empty ledger yields zeros.
func (l *GenerationLedger) Statistics(ctx context.Context) (models.GenerationStatistics, error) {
	stats, err := l.repo.Statistics(ctx)
	if err != nil {
		return models.GenerationStatistics{}, dbError("generation statistics", err)
	}
	return stats, nil
}

// ReadArtifact returns a completed row with its image bytes.
func (l *GenerationLedger) ReadArtifact(ctx context.Context, id int64) (*models.GeneratedImage, []byte, error) {
	img, err := l.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if img.Status != database.StatusCompleted || img.FilePath == "" {
		return img, nil, NewNotFoundError("artifact of generated image", id)
	}

	data, err := l.store.Read(ctx, media.Reference{Path: img.FilePath})
	if err != nil {
		if errors.Is(err, media.ErrArtifactNotFound) {
			log.Printf("ledger: artifact %s of generation %d is missing", img.FilePath, id)
		}
		return img, nil, err
	}
	return img, data, nil
}

type BatchItem struct {
	Prompt string                 `json:"prompt"`
	Image  *models.GeneratedImage `json:"image,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// RecordBatch records one attempt per prompt on the bounded worker pool.
// With a seed, prompt i uses seed+i. A failed item does not stop the rest.
func (l *GenerationLedger) RecordBatch(ctx context.Context, prompts []string, params GenerationParams) ([]BatchItem, error) {
	if len(prompts) == 0 {
		return nil, NewValidationError("prompts", "must not be empty")
	}
	if len(prompts) > MaxBatchPrompts {
		return nil, NewValidationError("prompts", fmt.Sprintf("at most %d prompts per batch", MaxBatchPrompts))
	}

	items := make([]BatchItem, len(prompts))
	jobs := make([]workers.Job, 0, len(prompts))
	var mu sync.Mutex

	for i, prompt := range prompts {
		i, p := i, params
		p.Prompt = prompt
		if params.Seed != nil {
			seed := *params.Seed + int64(i)
			p.Seed = &seed
		}

		jobs = append(jobs, workers.Job{
			Name: fmt.Sprintf("batch item %d/%d", i+1, len(prompts)),
			Run: func(ctx context.Context) {
				img, err := l.RecordAttempt(ctx, p)
				item := BatchItem{Prompt: p.Prompt, Image: img}
				if err != nil {
					item.Error = err.Error()
				}
				mu.Lock()
				items[i] = item
				mu.Unlock()
			},
		})
	}

	workers.RunAll(ctx, l.opts.BatchWorkers, jobs)
	return items, nil
}

// RecoverStale fails rows left in processing by a previous process.
func (l *GenerationLedger) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := l.clock.Now()
	n, err := database.FailStaleGenerations(ctx, l.db, now.Add(-olderThan).Unix(), abandonedMessage, now.Unix())
	if err != nil {
		return 0, dbError("recover stale generations", err)
	}
	return n, nil
}
