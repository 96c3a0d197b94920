package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitDBMigratesToLatestVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := InitDB(ctx, path)
	require.NoError(t, err)

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version;").Scan(&version))
	assert.Equal(t, SchemaVersion(), version)
	require.NoError(t, db.Close())

	// reopening an up to date database runs nothing
	db, err = InitDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.QueryRow("PRAGMA user_version;").Scan(&version))
	assert.Equal(t, SchemaVersion(), version)
}

func TestEnsureImageRecordDedupsByFileName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, created, err := EnsureImageRecord(ctx, db, "cat.jpg", "uploads/20240101000000_cat.jpg", 100)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := EnsureImageRecord(ctx, db, "cat.jpg", "uploads/20240101000001_cat.jpg", 200)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	_, err = GetImageByID(ctx, db, first.ID+100)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPersistAnswerKeepsFirstWriter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	img, _, err := EnsureImageRecord(ctx, db, "cat.jpg", "uploads/cat.jpg", 1)
	require.NoError(t, err)

	_, err = LookupAnswer(ctx, db, img.ID, "what animal is this?")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	stored, created, err := PersistAnswer(ctx, db, img.ID, "what animal is this?", "a cat", 0.92)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := PersistAnswer(ctx, db, img.ID, "what animal is this?", "a dog", 0.5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored, again)
	assert.Equal(t, "a cat", again.AnswerText)

	looked, err := LookupAnswer(ctx, db, img.ID, "what animal is this?")
	require.NoError(t, err)
	assert.Equal(t, stored, looked)
}

func TestPersistAnswerConcurrentWritersStoreOneAnswer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	img, _, err := EnsureImageRecord(ctx, db, "cat.jpg", "uploads/cat.jpg", 1)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	results := make([]CachedAnswer, writers)
	createdCount := make([]bool, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], createdCount[i], errs[i] = PersistAnswer(ctx, db, img.ID, "q", "answer", 0.5)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].QuestionID, results[i].QuestionID)
		if createdCount[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	questions, answers, err := CountAnswers(ctx, db, img.ID, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, questions)
	assert.Equal(t, 1, answers)
}

func TestAnswerConfidenceOutsideRangeRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	img, _, err := EnsureImageRecord(ctx, db, "cat.jpg", "uploads/cat.jpg", 1)
	require.NoError(t, err)

	_, _, err = PersistAnswer(ctx, db, img.ID, "q", "answer", 1.5)
	assert.Error(t, err)

	// the failed transaction must not leave a question behind
	questions, _, err := CountAnswers(ctx, db, img.ID, "q")
	require.NoError(t, err)
	assert.Equal(t, 0, questions)
}

func insertAttempt(t *testing.T, db Querier, prompt string, created int64) int64 {
	t.Helper()
	id, err := InsertGenerationAttempt(context.Background(), db, GenerationAttempt{
		Prompt:         prompt,
		NegativePrompt: "blurry",
		Seed:           7,
		Steps:          30,
		GuidanceScale:  7.5,
		Width:          512,
		Height:         512,
		ModelUsed:      "test-model",
		GenerationTime: created,
	})
	require.NoError(t, err)
	return id
}

func TestFinalizeOnlyFromProcessing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id := insertAttempt(t, db, "a lighthouse", 10)

	require.NoError(t, CompleteGeneration(ctx, db, id, GenerationResult{
		FilePath: "generated/x.png", FileName: "x.png", Seed: 7, Duration: 1.5, FileSize: 42, FinalizedAt: 12,
	}))

	err := FailGeneration(ctx, db, id, "late failure", 2, 13)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = CompleteGeneration(ctx, db, id, GenerationResult{FinalizedAt: 14})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = FailGeneration(ctx, db, id+99, "missing", 0, 15)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	status, err := generationStatus(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestIncrementGeneratedImageCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := insertAttempt(t, db, "a lighthouse", 10)

	require.NoError(t, IncrementGeneratedImageCounter(ctx, db, id, "view_count"))
	require.NoError(t, IncrementGeneratedImageCounter(ctx, db, id, "view_count"))
	require.NoError(t, IncrementGeneratedImageCounter(ctx, db, id, "download_count"))

	var views, downloads int
	require.NoError(t, db.QueryRow("SELECT view_count, download_count FROM generated_images WHERE generated_image_id = ?", id).Scan(&views, &downloads))
	assert.Equal(t, 2, views)
	assert.Equal(t, 1, downloads)

	assert.ErrorIs(t, IncrementGeneratedImageCounter(ctx, db, id+1, "view_count"), sql.ErrNoRows)
	assert.Error(t, IncrementGeneratedImageCounter(ctx, db, id, "seed"))
}

func TestDeleteGeneratedImageRemovesTags(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := insertAttempt(t, db, "a lighthouse", 10)

	_, err := db.Exec("INSERT INTO prompt_tags (generated_image_id, tag_name, created_at) VALUES (?, ?, ?)", id, "sea", 11)
	require.NoError(t, err)

	deleted, err := DeleteGeneratedImage(ctx, db, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	var tags int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM prompt_tags WHERE generated_image_id = ?", id).Scan(&tags))
	assert.Equal(t, 0, tags)

	deleted, err = DeleteGeneratedImage(ctx, db, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFailStaleGenerations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stale := insertAttempt(t, db, "old", 10)
	fresh := insertAttempt(t, db, "new", 1000)

	n, err := FailStaleGenerations(ctx, db, 500, "abandoned", 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, err := generationStatus(ctx, db, stale)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	status, err = generationStatus(ctx, db, fresh)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, status)
}
