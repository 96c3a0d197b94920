package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

const getCurrentMigration = `PRAGMA user_version;`

const createVQATablesQuery = `
CREATE TABLE IF NOT EXISTS images (
	image_id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT NOT NULL UNIQUE,
	file_path TEXT NOT NULL,
	upload_time INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS questions (
	question_id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_id INTEGER NOT NULL REFERENCES images(image_id),
	question_text TEXT NOT NULL,
	UNIQUE (image_id, question_text)
);
CREATE TABLE IF NOT EXISTS answers (
	answer_id INTEGER PRIMARY KEY AUTOINCREMENT,
	question_id INTEGER NOT NULL UNIQUE REFERENCES questions(question_id),
	answer_text TEXT NOT NULL,
	confidence_score REAL NOT NULL CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0)
);`

const createGeneratedImagesTableQuery = `
CREATE TABLE IF NOT EXISTS generated_images (
	generated_image_id INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt TEXT NOT NULL,
	negative_prompt TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	seed INTEGER NOT NULL DEFAULT 0,
	num_inference_steps INTEGER NOT NULL,
	guidance_scale REAL NOT NULL,
	image_width INTEGER NOT NULL,
	image_height INTEGER NOT NULL,
	generation_time INTEGER NOT NULL,
	generation_duration REAL NOT NULL DEFAULT 0,
	model_used TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing', 'completed', 'failed')),
	error_message TEXT,
	view_count INTEGER NOT NULL DEFAULT 0,
	download_count INTEGER NOT NULL DEFAULT 0,
	file_size INTEGER NOT NULL DEFAULT 0
);`

const createPromptTagsTableQuery = `
CREATE TABLE IF NOT EXISTS prompt_tags (
	tag_id INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_image_id INTEGER NOT NULL REFERENCES generated_images(generated_image_id) ON DELETE CASCADE,
	tag_name TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

const createLedgerIndexesQuery = `
CREATE INDEX IF NOT EXISTS idx_generated_images_status_time ON generated_images(status, generation_time);
CREATE INDEX IF NOT EXISTS idx_generated_images_seed ON generated_images(seed);
CREATE INDEX IF NOT EXISTS idx_prompt_tags_generated_image ON prompt_tags(generated_image_id);
`

const addFinalizedAtColumnQuery = `
ALTER TABLE generated_images ADD COLUMN finalized_at INTEGER;
`

type migration struct {
	migrationName  string
	migrationQuery string
}

var migrations = []migration{
	{migrationName: "create vqa tables", migrationQuery: createVQATablesQuery},
	{migrationName: "create generated images table", migrationQuery: createGeneratedImagesTableQuery},
	{migrationName: "create prompt tags table", migrationQuery: createPromptTagsTableQuery},
	{migrationName: "add ledger indexes", migrationQuery: createLedgerIndexesQuery},
	{migrationName: "add generation finalized_at column", migrationQuery: addFinalizedAtColumnQuery},
}

// SchemaVersion is the user_version a fully migrated database reports.
func SchemaVersion() int {
	return len(migrations)
}

func migrate(ctx context.Context, db *sql.DB) error {
	var currentMigration int

	if err := db.QueryRowContext(ctx, getCurrentMigration).Scan(&currentMigration); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	requiredMigration := len(migrations)

	log.Printf("database: current schema version %d, required %d", currentMigration, requiredMigration)

	for migrationNum := currentMigration + 1; migrationNum <= requiredMigration; migrationNum++ {
		if err := execMigration(ctx, db, migrationNum); err != nil {
			return fmt.Errorf("migration %d '%s': %w", migrationNum, migrations[migrationNum-1].migrationName, err)
		}
	}

	return nil
}

func execMigration(ctx context.Context, db *sql.DB, migrationNum int) error {
	log.Printf("database: running migration %d '%s'", migrationNum, migrations[migrationNum-1].migrationName)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, migrations[migrationNum-1].migrationQuery); err != nil {
		return err
	}

	// PRAGMA does not accept bound parameters
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", migrationNum)); err != nil {
		return err
	}

	return tx.Commit()
}
