package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/models"
)

func fileNames(images []models.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.FileName)
	}
	return out
}

func TestUploadDedupsByFileNameOnly(t *testing.T) {
	env := newTestEnv(t)
	lib := env.imageLibrary(time.Second)
	ctx := context.Background()

	first, created, err := lib.Upload(ctx, "cat.jpg", pngBytes(t, 8, 8))
	require.NoError(t, err)
	assert.True(t, created)

	// different bytes under the same name keep the first record
	second, created, err := lib.Upload(ctx, "cat.jpg", pngBytes(t, 12, 12))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FilePath, second.FilePath)

	entries, err := os.ReadDir(filepath.Join(env.root, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "the second artifact is written but left unreferenced")

	_, _, err = lib.Upload(ctx, " ", pngBytes(t, 8, 8))
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = lib.Upload(ctx, "empty.png", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListImagesSortsAndOmitsMissingArtifacts(t *testing.T) {
	env := newTestEnv(t)
	lib := env.imageLibrary(time.Second)
	ctx := context.Background()

	var gone database.Image
	for _, name := range []string{"img10.png", "img2.png", "Img1.png", "deleted.png"} {
		img, _, err := lib.Upload(ctx, name, pngBytes(t, 8, 8))
		require.NoError(t, err)
		if name == "deleted.png" {
			gone = img
		}
	}
	require.NoError(t, os.Remove(filepath.Join(env.root, filepath.FromSlash(gone.FilePath))))

	images, err := lib.ListImages(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Img1.png", "img2.png", "img10.png"}, fileNames(images))

	images, err = lib.ListImages(ctx, database.SortDateAsc)
	require.NoError(t, err)
	assert.Equal(t, []string{"img10.png", "img2.png", "Img1.png"}, fileNames(images))

	images, err = lib.ListImages(ctx, database.SortFilenameAsc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Img1.png", "img10.png", "img2.png"}, fileNames(images))

	images, err = lib.ListImages(ctx, database.SortFilenameNat)
	require.NoError(t, err)
	assert.Equal(t, []string{"Img1.png", "img2.png", "img10.png"}, fileNames(images))

	_, err = lib.ListImages(ctx, "random")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListQuestions(t *testing.T) {
	env := newTestEnv(t)
	lib := env.imageLibrary(time.Second)
	ctx := context.Background()

	_, err := lib.ListQuestions(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	img, _, err := lib.Upload(ctx, "cat.jpg", pngBytes(t, 8, 8))
	require.NoError(t, err)

	questions, err := lib.ListQuestions(ctx, img.ID)
	require.NoError(t, err)
	assert.Empty(t, questions)

	_, _, err = database.PersistAnswer(ctx, env.db, img.ID, "what animal?", "a cat", 0.9)
	require.NoError(t, err)

	questions, err = lib.ListQuestions(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "what animal?", questions[0].QuestionText)
	assert.Equal(t, "a cat", questions[0].AnswerText)

	_, err = env.db.Exec("INSERT INTO questions (image_id, question_text) VALUES (?, ?)", img.ID, "pending?")
	require.NoError(t, err)

	questions, err = lib.ListQuestions(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "pending?", questions[1].QuestionText)
	assert.Equal(t, "", questions[1].AnswerText)
}
