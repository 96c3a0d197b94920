package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MEDIA_STORAGE_PATH", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StorageBackendLocal, cfg.StorageBackend)
	assert.Equal(t, GeneratorPlaceholder, cfg.ImageGenerator)
	assert.Equal(t, GeneratorPlaceholder, cfg.AnswerGenerator)
	assert.Equal(t, defaultGenerationTimeout, cfg.GenerationTimeout)
	assert.Equal(t, defaultBatchWorkers, cfg.BatchWorkers)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MEDIA_STORAGE_PATH", t.TempDir())
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("BATCH_WORKERS", "3")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 3, cfg.BatchWorkers)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MEDIA_STORAGE_PATH", t.TempDir())
	t.Setenv("VQA_TIMEOUT", "soon")
	t.Setenv("BATCH_WORKERS", "-2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, defaultVQATimeout, cfg.VQATimeout)
	assert.Equal(t, defaultBatchWorkers, cfg.BatchWorkers)
}

func TestLoadConfigRejectsIncompleteBackends(t *testing.T) {
	t.Setenv("MEDIA_STORAGE_PATH", t.TempDir())

	t.Run("s3 without bucket", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "s3")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("automatic1111 without host", func(t *testing.T) {
		t.Setenv("IMAGE_GENERATOR", "automatic1111")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("gemini without key", func(t *testing.T) {
		t.Setenv("ANSWER_GENERATOR", "gemini")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown storage backend", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "ftp")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
