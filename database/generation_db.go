package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	sq "github.com/Masterminds/squirrel"
)

// ErrAlreadyFinalized is returned when a terminal status would be overwritten.
var ErrAlreadyFinalized = errors.New("generation already finalized")

// GenerationAttempt holds the request parameters written with a processing row.
type GenerationAttempt struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	ModelUsed      string
	GenerationTime int64
}

// GenerationResult is what a successful attempt records on completion.
type GenerationResult struct {
	FilePath    string
	FileName    string
	Seed        int64
	Duration    float64 // seconds
	FileSize    int64
	FinalizedAt int64
}

// counters that may be bumped through IncrementGeneratedImageCounter
var generatedImageCounters = map[string]bool{
	"view_count":     true,
	"download_count": true,
}

// InsertGenerationAttempt writes a processing row and returns its id.
func InsertGenerationAttempt(ctx context.Context, db Querier, a GenerationAttempt) (int64, error) {
	queryBuilder := psql.Insert("generated_images").
		Columns("prompt", "negative_prompt", "seed", "num_inference_steps", "guidance_scale",
			"image_width", "image_height", "generation_time", "model_used", "status").
		Values(a.Prompt, a.NegativePrompt, a.Seed, a.Steps, a.GuidanceScale,
			a.Width, a.Height, a.GenerationTime, a.ModelUsed, StatusProcessing)

	sqlStr, args, err := build(queryBuilder, "InsertGenerationAttempt")
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation attempt: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read generation attempt id: %w", err)
	}
	return id, nil
}

// CompleteGeneration moves a processing row to completed.
func CompleteGeneration(ctx context.Context, db Querier, id int64, r GenerationResult) error {
	queryBuilder := psql.Update("generated_images").
		Set("status", StatusCompleted).
		Set("file_path", r.FilePath).
		Set("file_name", r.FileName).
		Set("seed", r.Seed).
		Set("generation_duration", r.Duration).
		Set("file_size", r.FileSize).
		Set("error_message", nil).
		Set("finalized_at", r.FinalizedAt).
		Where(sq.Eq{"generated_image_id": id, "status": StatusProcessing})

	return finalize(ctx, db, queryBuilder, id, "CompleteGeneration")
}

// FailGeneration moves a processing row to failed, keeping the error message.
func FailGeneration(ctx context.Context, db Querier, id int64, errorMessage string, duration float64, finalizedAt int64) error {
	queryBuilder := psql.Update("generated_images").
		Set("status", StatusFailed).
		Set("error_message", errorMessage).
		Set("generation_duration", duration).
		Set("finalized_at", finalizedAt).
		Where(sq.Eq{"generated_image_id": id, "status": StatusProcessing})

	return finalize(ctx, db, queryBuilder, id, "FailGeneration")
}

func finalize(ctx context.Context, db Querier, queryBuilder sq.UpdateBuilder, id int64, op string) error {
	sqlStr, args, err := build(queryBuilder, op)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize generation %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for generation %d: %w", id, err)
	}
	if rowsAffected > 0 {
		return nil
	}

	status, err := generationStatus(ctx, db, id)
	if err != nil {
		return err
	}
	log.Printf("database: refused to finalize generation %d, status already %s", id, status)
	return ErrAlreadyFinalized
}

func generationStatus(ctx context.Context, db Querier, id int64) (string, error) {
	queryBuilder := psql.Select("status").
		From("generated_images").
		Where(sq.Eq{"generated_image_id": id})

	sqlStr, args, err := build(queryBuilder, "generationStatus")
	if err != nil {
		return "", err
	}

	var status string
	if err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("failed to read status of generation %d: %w", id, err)
	}
	return status, nil
}

// IncrementGeneratedImageCounter adds one to view_count or download_count.
// sql.ErrNoRows is returned for an unknown id.
func IncrementGeneratedImageCounter(ctx context.Context, db Querier, id int64, column string) error {
	if !generatedImageCounters[column] {
		return fmt.Errorf("invalid counter column name: %s", column)
	}

	queryBuilder := psql.Update("generated_images").
		Set(column, sq.Expr(column+" + 1")).
		Where(sq.Eq{"generated_image_id": id})

	sqlStr, args, err := build(queryBuilder, "IncrementGeneratedImageCounter")
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to increment %s for generation %d: %w", column, id, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteGeneratedImage removes a row and its tags in one transaction.
// It reports false without error when no row had that id.
func DeleteGeneratedImage(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for generation delete: %w", err)
	}
	defer tx.Rollback()

	sqlStr, args, err := build(psql.Delete("prompt_tags").Where(sq.Eq{"generated_image_id": id}), "DeleteGeneratedImage")
	if err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return false, fmt.Errorf("failed to delete tags of generation %d: %w", id, err)
	}

	sqlStr, args, err = build(psql.Delete("generated_images").Where(sq.Eq{"generated_image_id": id}), "DeleteGeneratedImage")
	if err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %d: %w", id, err)
	}
	rowsAffected, _ := result.RowsAffected()

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete of generation %d: %w", id, err)
	}
	return rowsAffected > 0, nil
}

// FailStaleGenerations finalizes processing rows created before cutoff.
func FailStaleGenerations(ctx context.Context, db Querier, cutoff int64, errorMessage string, finalizedAt int64) (int64, error) {
	queryBuilder := psql.Update("generated_images").
		Set("status", StatusFailed).
		Set("error_message", errorMessage).
		Set("finalized_at", finalizedAt).
		Where(sq.Eq{"status": StatusProcessing}).
		Where(sq.Lt{"generation_time": cutoff})

	sqlStr, args, err := build(queryBuilder, "FailStaleGenerations")
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale generations: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		log.Printf("database: marked %d stale processing generations as failed", rowsAffected)
	}
	return rowsAffected, nil
}
