package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultUploadsSubDir   = "uploads"
	DefaultGeneratedSubDir = "generated_images"
)

const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"

	GeneratorPlaceholder   = "placeholder"
	GeneratorAutomatic1111 = "automatic1111"
	GeneratorGemini        = "gemini"
)

const (
	defaultGenerationTimeout    = 5 * time.Minute
	defaultVQATimeout           = 2 * time.Minute
	defaultStaleProcessingAfter = 30 * time.Minute
	defaultBatchWorkers         = 1
	defaultGenerateRateLimit    = 20
)

type Config struct {
	// database path
	DatabasePath string
	DBLogLevel   string

	// artifact storage
	StorageBackend   string
	MediaStoragePath string // root for local artifacts
	UploadsPath      string // full-calculated path for uploaded VQA images
	GeneratedPath    string // full-calculated path for generated images
	UploadsSubDir    string
	GeneratedSubDir  string

	// s3 backend, only read when StorageBackend is "s3"
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// collaborators
	ImageGenerator   string
	AnswerGenerator  string
	Automatic1111URL string
	GeminiAPIKey     string
	GeminiVQAModel   string
	GeminiImageModel string

	// timeouts applied to every collaborator call
	GenerationTimeout time.Duration
	VQATimeout        time.Duration

	// processing rows older than this are finalized as failed on startup
	StaleProcessingAfter time.Duration

	BatchWorkers int

	// http surface
	Port              string
	AllowedOrigins    []string
	GenerateRateLimit int // requests per minute per IP on generation routes
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvListOrDefault(envVar string, defaultVal []string) []string {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func LoadConfig() (Config, error) {
	dbPath := getEnvOrDefault("DATABASE_PATH", filepath.Join(".", "data", "visionledger.db"))

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	uploadsSubDir := getEnvOrDefault("UPLOADS_SUBDIR", DefaultUploadsSubDir)
	generatedSubDir := getEnvOrDefault("GENERATED_SUBDIR", DefaultGeneratedSubDir)

	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageBackendLocal))
	if backend != StorageBackendLocal && backend != StorageBackendS3 {
		return Config{}, fmt.Errorf("unsupported STORAGE_BACKEND '%s'", backend)
	}

	cfg := Config{
		DatabasePath:         dbPath,
		DBLogLevel:           strings.ToLower(getEnvOrDefault("DB_LOG_LEVEL", "warn")),
		StorageBackend:       backend,
		MediaStoragePath:     absMediaStorage,
		UploadsPath:          filepath.Join(absMediaStorage, uploadsSubDir),
		GeneratedPath:        filepath.Join(absMediaStorage, generatedSubDir),
		UploadsSubDir:        uploadsSubDir,
		GeneratedSubDir:      generatedSubDir,
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3Region:             getEnvOrDefault("S3_REGION", "auto"),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:        os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),
		ImageGenerator:       strings.ToLower(getEnvOrDefault("IMAGE_GENERATOR", GeneratorPlaceholder)),
		AnswerGenerator:      strings.ToLower(getEnvOrDefault("ANSWER_GENERATOR", GeneratorPlaceholder)),
		Automatic1111URL:     os.Getenv("AUTOMATIC1111_HOST"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiVQAModel:       getEnvOrDefault("GEMINI_VQA_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:     getEnvOrDefault("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),
		GenerationTimeout:    getEnvDurationOrDefault("GENERATION_TIMEOUT", defaultGenerationTimeout),
		VQATimeout:           getEnvDurationOrDefault("VQA_TIMEOUT", defaultVQATimeout),
		StaleProcessingAfter: getEnvDurationOrDefault("STALE_PROCESSING_AFTER", defaultStaleProcessingAfter),
		BatchWorkers:         getEnvIntOrDefault("BATCH_WORKERS", defaultBatchWorkers),
		Port:                 getEnvOrDefault("PORT", "8000"),
		AllowedOrigins:       getEnvListOrDefault("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		GenerateRateLimit:    getEnvIntOrDefault("GENERATE_RATE_LIMIT", defaultGenerateRateLimit),
	}

	if cfg.StorageBackend == StorageBackendS3 && cfg.S3Bucket == "" {
		return Config{}, fmt.Errorf("STORAGE_BACKEND=s3 requires S3_BUCKET")
	}
	if cfg.ImageGenerator == GeneratorAutomatic1111 && cfg.Automatic1111URL == "" {
		return Config{}, fmt.Errorf("IMAGE_GENERATOR=automatic1111 requires AUTOMATIC1111_HOST")
	}
	if (cfg.ImageGenerator == GeneratorGemini || cfg.AnswerGenerator == GeneratorGemini) && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("gemini generators require GEMINI_API_KEY")
	}

	return cfg, nil
}
