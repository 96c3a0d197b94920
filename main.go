package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/visionledger/clock"
	"github.com/camden-git/visionledger/config"
	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/handlers"
	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/realtime"
	"github.com/camden-git/visionledger/repository"
	"github.com/camden-git/visionledger/services"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		log.Fatalf("FATAL: Failed to create database directory: %v", err)
	}

	db, err := database.InitDB(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	defer db.Close()

	gormDB, err := database.InitGormDB(db, cfg.DBLogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize GORM: %v", err)
	}

	clk := clock.NewClock()

	store, err := newStore(ctx, cfg, clk)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}
	processor := media.NewProcessor()

	imageGen, answerGen, err := newGenerators(ctx, cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize generators: %v", err)
	}
	log.Printf("Image generator: %s, answer generator: %s", imageGen.ModelID(), cfg.AnswerGenerator)

	hub := realtime.NewHub(cfg.AllowedOrigins)
	go hub.Run(ctx)

	generatedRepo := repository.NewGeneratedImageRepository(gormDB)
	ledger := services.NewGenerationLedger(db, generatedRepo, store, processor, imageGen, clk, services.LedgerOptions{
		Timeout:      cfg.GenerationTimeout,
		BatchWorkers: cfg.BatchWorkers,
		Events:       hub,
	})
	if n, err := ledger.RecoverStale(ctx, cfg.StaleProcessingAfter); err != nil {
		log.Printf("Warning: failed to recover stale generations: %v", err)
	} else if n > 0 {
		log.Printf("Recovered %d generation(s) abandoned by a previous run", n)
	}

	answerCache := services.NewAnswerCache(db, store, cfg.VQATimeout)
	library := services.NewImageLibrary(db, repository.NewImageRepository(gormDB), store, answerCache, clk)

	vqaHandler := &handlers.VQAHandler{Library: library, Generator: answerGen}
	generatedHandler := &handlers.GeneratedImageHandler{
		Ledger:    ledger,
		Tags:      services.NewTagIndex(repository.NewTagRepository(gormDB), generatedRepo, clk),
		Stats:     services.NewStatsAggregator(ledger),
		Processor: processor,
	}

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	handlers.RegisterRoutes(r, vqaHandler, generatedHandler, store, handlers.RouteOptions{
		UploadsSubDir:   cfg.UploadsSubDir,
		GeneratedSubDir: cfg.GeneratedSubDir,
		Throttle: httprate.Limit(
			cfg.GenerateRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		),
		Events: hub.ServeWS,
	})

	serverAddr := ":" + cfg.Port
	fmt.Printf("Server starting on http://localhost:%s\n", cfg.Port)
	log.Printf("Server listening on %s", serverAddr)
	log.Printf("Using database: %s", cfg.DatabasePath)

	// no write timeout: generation requests run as long as GENERATION_TIMEOUT allows
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("FATAL: Server error: %v", err)
	}
	log.Printf("Server stopped")
}

func newStore(ctx context.Context, cfg config.Config, clk clock.Clock) (media.Store, error) {
	subDirs := map[media.AssetType]string{
		media.AssetTypeUpload:    cfg.UploadsSubDir,
		media.AssetTypeGenerated: cfg.GeneratedSubDir,
	}

	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		client, err := media.NewS3Client(ctx, media.S3Options{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("Storing artifacts in bucket: %s", cfg.S3Bucket)
		return media.NewS3Storage(client, cfg.S3Bucket, subDirs, clk), nil
	default:
		log.Printf("Storing artifacts in: %s", cfg.MediaStoragePath)
		local, err := media.NewLocalStorage(cfg.MediaStoragePath, subDirs, clk)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

func newGenerators(ctx context.Context, cfg config.Config) (generators.ImageGenerator, generators.AnswerGenerator, error) {
	placeholder := generators.NewPlaceholder()

	var gemini *generators.Gemini
	if cfg.ImageGenerator == config.GeneratorGemini || cfg.AnswerGenerator == config.GeneratorGemini {
		g, err := generators.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiVQAModel, cfg.GeminiImageModel)
		if err != nil {
			return nil, nil, err
		}
		gemini = g
	}

	var imageGen generators.ImageGenerator
	switch cfg.ImageGenerator {
	case config.GeneratorAutomatic1111:
		a, err := generators.NewAutomatic1111(cfg.Automatic1111URL, &http.Client{})
		if err != nil {
			return nil, nil, err
		}
		imageGen = a
	case config.GeneratorGemini:
		imageGen = gemini
	case config.GeneratorPlaceholder:
		imageGen = placeholder
	default:
		return nil, nil, fmt.Errorf("unsupported IMAGE_GENERATOR '%s'", cfg.ImageGenerator)
	}

	var answerGen generators.AnswerGenerator
	switch cfg.AnswerGenerator {
	case config.GeneratorGemini:
		answerGen = gemini
	case config.GeneratorPlaceholder:
		answerGen = placeholder
	default:
		return nil, nil, fmt.Errorf("unsupported ANSWER_GENERATOR '%s'", cfg.AnswerGenerator)
	}

	return imageGen, answerGen, nil
}
