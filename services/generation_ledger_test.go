package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/repository"
)

func TestGenerationParamsDefaultsAndValidation(t *testing.T) {
	req, err := GenerationParams{Prompt: "  a lighthouse  "}.Request()
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse", req.Prompt)
	assert.Equal(t, DefaultNegativePrompt, req.NegativePrompt)
	assert.Equal(t, DefaultSteps, req.Steps)
	assert.Equal(t, DefaultGuidanceScale, req.GuidanceScale)
	assert.Equal(t, DefaultImageSize, req.Width)
	assert.Equal(t, DefaultImageSize, req.Height)
	assert.Nil(t, req.Seed)

	empty := ""
	req, err = GenerationParams{Prompt: "x", NegativePrompt: &empty}.Request()
	require.NoError(t, err)
	assert.Equal(t, "", req.NegativePrompt)

	invalid := []GenerationParams{
		{Prompt: "   "},
		{Prompt: "x", Steps: 151},
		{Prompt: "x", Steps: -1},
		{Prompt: "x", GuidanceScale: 31},
		{Prompt: "x", Width: 100},
		{Prompt: "x", Height: 4096},
		{Prompt: "x", Seed: int64Ptr(-5)},
	}
	for _, p := range invalid {
		_, err := p.Request()
		assert.ErrorIs(t, err, ErrValidation, "%+v", p)
	}
}

func TestRecordAttemptCompletes(t *testing.T) {
	env := newTestEnv(t)
	events := newRecordingPublisher()
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 64, 64)}, LedgerOptions{Events: events})
	ctx := context.Background()

	img, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "a red fox in snow", Seed: int64Ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, img.Status)
	assert.EqualValues(t, 7, img.Seed)
	assert.Equal(t, "fake-model", img.ModelUsed)
	assert.Greater(t, img.GenerationDuration, 0.0)
	assert.Greater(t, img.FileSize, int64(0))
	require.NotNil(t, img.FinalizedAt)
	assert.Nil(t, img.ErrorMessage)
	assert.Contains(t, img.FileName, "generated_a_red_fox_in_snow_seed7.png")

	_, data, err := ledger.ReadArtifact(ctx, img.ID)
	require.NoError(t, err)
	assert.EqualValues(t, img.FileSize, len(data))

	assert.Equal(t, []string{database.StatusProcessing, database.StatusCompleted}, events.statuses())
}

func TestRecordAttemptSameSeedTwice(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 64, 64)}, LedgerOptions{})
	ctx := context.Background()

	first, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "a cat", Seed: int64Ptr(7)})
	require.NoError(t, err)
	second, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "a cat", Seed: int64Ptr(7)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.FilePath, second.FilePath)

	bySeed, err := ledger.ListBySeed(ctx, 7)
	require.NoError(t, err)
	require.Len(t, bySeed, 2)
	assert.Equal(t, second.ID, bySeed[0].ID)
	assert.Equal(t, first.ID, bySeed[1].ID)
}

func TestRecordAttemptGeneratorFailure(t *testing.T) {
	env := newTestEnv(t)
	events := newRecordingPublisher()
	ledger := env.ledger(&fakeImageGenerator{err: errors.New("cuda out of memory")}, LedgerOptions{Events: events})
	ctx := context.Background()

	img, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "a lighthouse"})
	require.ErrorIs(t, err, ErrGeneration)
	require.NotNil(t, img)
	assert.Equal(t, database.StatusFailed, img.Status)
	require.NotNil(t, img.ErrorMessage)
	assert.Contains(t, *img.ErrorMessage, "cuda out of memory")
	assert.Empty(t, img.FilePath)
	assert.Equal(t, []string{database.StatusProcessing, database.StatusFailed}, events.statuses())

	recent, err := ledger.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	found, err := ledger.Search(ctx, "lighthouse")
	require.NoError(t, err)
	assert.Empty(t, found)

	stats, err := ledger.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 0, stats.Completed)

	_, _, err = ledger.ReadArtifact(ctx, img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordAttemptTimeout(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{wait: true}, LedgerOptions{Timeout: 20 * time.Millisecond})

	img, err := ledger.RecordAttempt(context.Background(), GenerationParams{Prompt: "slow"})
	require.ErrorIs(t, err, ErrGeneration)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.True(t, genErr.Timeout())
	require.NotNil(t, img)
	assert.Equal(t, database.StatusFailed, img.Status)
}

func TestRecordAttemptUnusableImage(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: []byte("not an image")}, LedgerOptions{})

	img, err := ledger.RecordAttempt(context.Background(), GenerationParams{Prompt: "broken"})
	assert.ErrorIs(t, err, ErrGeneration)
	require.NotNil(t, img)
	assert.Equal(t, database.StatusFailed, img.Status)
}

func TestRecordAttemptStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledgerWithStore(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, failingStore{env.store}, LedgerOptions{})

	img, err := ledger.RecordAttempt(context.Background(), GenerationParams{Prompt: "a tree"})
	require.ErrorIs(t, err, ErrStorage)
	require.NotNil(t, img)
	assert.Equal(t, database.StatusFailed, img.Status)
	require.NotNil(t, img.FinalizedAt)
}

func TestRecordAttemptValidationWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	ctx := context.Background()

	_, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "x", Width: 100})
	assert.ErrorIs(t, err, ErrValidation)

	stats, err := ledger.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestLedgerSearchAndLookups(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	ctx := context.Background()

	img, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "Sunset over the bay"})
	require.NoError(t, err)

	found, err := ledger.Search(ctx, "  SUNSET ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, img.ID, found[0].ID)

	_, err = ledger.Search(ctx, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ledger.GetByID(ctx, img.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ledger.IncrementView(ctx, img.ID))
	require.NoError(t, ledger.IncrementView(ctx, img.ID))
	require.NoError(t, ledger.IncrementDownload(ctx, img.ID))
	assert.ErrorIs(t, ledger.IncrementView(ctx, img.ID+100), ErrNotFound)

	got, err := ledger.GetByID(ctx, img.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ViewCount)
	assert.EqualValues(t, 1, got.DownloadCount)
}

func TestLedgerDelete(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	tags := NewTagIndex(repository.NewTagRepository(env.gormDB), repository.NewGeneratedImageRepository(env.gormDB), env.clock)
	ctx := context.Background()

	keepFile, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "keep the file"})
	require.NoError(t, err)
	dropFile, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "drop the file"})
	require.NoError(t, err)
	_, err = tags.AddTag(ctx, dropFile.ID, "gone")
	require.NoError(t, err)

	deleted, err := ledger.Delete(ctx, keepFile.ID, false)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.FileExists(t, filepath.Join(env.root, filepath.FromSlash(keepFile.FilePath)))

	deleted, err = ledger.Delete(ctx, dropFile.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = os.Stat(filepath.Join(env.root, filepath.FromSlash(dropFile.FilePath)))
	assert.True(t, os.IsNotExist(err))

	_, err = ledger.GetByID(ctx, dropFile.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tags.ListTags(ctx, dropFile.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ledger.Delete(ctx, dropFile.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerDeleteWithMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	ctx := context.Background()

	img, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "vanishing"})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.root, filepath.FromSlash(img.FilePath))))

	_, _, err = ledger.ReadArtifact(ctx, img.ID)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	deleted, err := ledger.Delete(ctx, img.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestLedgerDeleteKeepsArtifactWhenRowDeleteFails(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	ctx := context.Background()

	img, err := ledger.RecordAttempt(ctx, GenerationParams{Prompt: "pinned"})
	require.NoError(t, err)

	_, err = env.db.Exec(`CREATE TRIGGER refuse_delete BEFORE DELETE ON generated_images
		BEGIN SELECT RAISE(ABORT, 'row delete refused'); END`)
	require.NoError(t, err)

	deleted, err := ledger.Delete(ctx, img.ID, true)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.False(t, deleted)

	_, err = ledger.GetByID(ctx, img.ID)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(env.root, filepath.FromSlash(img.FilePath)))
}

func TestRecordAttemptCompletionFailureFinalizesFailed(t *testing.T) {
	env := newTestEnv(t)
	events := newRecordingPublisher()
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{Events: events})
	ctx := context.Background()

	_, err := env.db.Exec(`CREATE TRIGGER refuse_complete BEFORE UPDATE ON generated_images
		WHEN NEW.status = 'completed'
		BEGIN SELECT RAISE(ABORT, 'completion refused'); END`)
	require.NoError(t, err)

	_, err = ledger.RecordAttempt(ctx, GenerationParams{Prompt: "never completes"})
	require.ErrorIs(t, err, ErrDatabase)

	var id int64
	require.NoError(t, env.db.QueryRow("SELECT generated_image_id FROM generated_images").Scan(&id))
	row, err := ledger.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "completion refused")
	assert.Equal(t, []string{database.StatusProcessing, database.StatusFailed}, events.statuses())
}

func TestRecordAttemptPromptWithSlashes(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})

	img, err := ledger.RecordAttempt(context.Background(), GenerationParams{Prompt: `cats/dogs on a\beach`, Seed: int64Ptr(42)})
	require.NoError(t, err)
	assert.Contains(t, img.FileName, "generated_cats_dogs_on_a_beach_seed42.png")
	assert.Equal(t, "generated_cats_dogs_on_a_beach_seed42.png", artifactLogicalName(`cats/dogs on a\beach`, 42, "png"))
}

func TestStatisticsReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	empty := NewStatsAggregator(env.ledger(&fakeImageGenerator{}, LedgerOptions{}))
	report, err := empty.Report(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.AvgDurationSeconds)
	assert.Zero(t, report.TotalStorageMB)
	assert.Zero(t, report.SuccessRate)

	ok := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{})
	bad := env.ledger(&fakeImageGenerator{err: errors.New("boom")}, LedgerOptions{})
	for i := 0; i < 3; i++ {
		_, err := ok.RecordAttempt(ctx, GenerationParams{Prompt: "fine"})
		require.NoError(t, err)
	}
	_, err = bad.RecordAttempt(ctx, GenerationParams{Prompt: "broken"})
	require.Error(t, err)

	report, err = NewStatsAggregator(ok).Report(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, report.Total)
	assert.EqualValues(t, 3, report.Completed)
	assert.EqualValues(t, 1, report.Failed)
	assert.Equal(t, 0.75, report.SuccessRate)
	assert.Greater(t, report.TotalBytes, int64(0))
	assert.Greater(t, report.AvgDurationSeconds, 0.0)
}

func TestRecordBatchOffsetsSeeds(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{image: pngBytes(t, 32, 32)}, LedgerOptions{BatchWorkers: 2})
	ctx := context.Background()

	items, err := ledger.RecordBatch(ctx, []string{"one", "two", "three"}, GenerationParams{Seed: int64Ptr(100)})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		require.Empty(t, item.Error)
		require.NotNil(t, item.Image)
		assert.Equal(t, []string{"one", "two", "three"}[i], item.Prompt)
		assert.EqualValues(t, 100+i, item.Image.Seed)
	}

	items, err = ledger.RecordBatch(ctx, []string{"fine", " "}, GenerationParams{})
	require.NoError(t, err)
	assert.Empty(t, items[0].Error)
	assert.NotEmpty(t, items[1].Error)

	_, err = ledger.RecordBatch(ctx, make([]string, MaxBatchPrompts+1), GenerationParams{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ledger.RecordBatch(ctx, nil, GenerationParams{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecoverStale(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.ledger(&fakeImageGenerator{}, LedgerOptions{})
	ctx := context.Background()

	staleID, err := database.InsertGenerationAttempt(ctx, env.db, database.GenerationAttempt{
		Prompt: "left behind", Steps: 30, GuidanceScale: 7.5, Width: 512, Height: 512,
		ModelUsed: "fake-model", GenerationTime: env.clock.Now().Unix(),
	})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	freshID, err := database.InsertGenerationAttempt(ctx, env.db, database.GenerationAttempt{
		Prompt: "still running", Steps: 30, GuidanceScale: 7.5, Width: 512, Height: 512,
		ModelUsed: "fake-model", GenerationTime: env.clock.Now().Unix(),
	})
	require.NoError(t, err)

	n, err := ledger.RecoverStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := ledger.GetByID(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, stale.Status)
	require.NotNil(t, stale.ErrorMessage)
	assert.Equal(t, abandonedMessage, *stale.ErrorMessage)

	fresh, err := ledger.GetByID(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusProcessing, fresh.Status)
}
