package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"carstudio/internal/http/handlers"
	"carstudio/internal/http/httpapi"
	"carstudio/internal/infra"
	"carstudio/internal/infra/credentials"
	"carstudio/internal/metrics"
	"carstudio/internal/pipeline"
	"carstudio/internal/providers/genai"
	"carstudio/internal/providers/image"
	"carstudio/internal/storage"
)

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := resolveGeminiToken(ctx, cfg, logger)
	model := cfg.GeminiModel
	if token.Model != "" {
		model = token.Model
	}

	geminiClient, err := genai.NewClient(genai.Options{
		APIKey:     token.Value,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      model,
		HTTPClient: &http.Client{Timeout: cfg.GeminiTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure gemini client")
	}
	if geminiClient.Synthetic() {
		logger.Warn().Str("model", geminiClient.Model()).Msg("api: gemini api key missing, using synthetic images")
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure blob store")
	}

	recorder := metrics.New()
	orchestrator, err := pipeline.NewOrchestrator(pipeline.Options{
		Generator:         image.NewGeminiGenerator(geminiClient),
		Store:             blobs,
		Logger:            &logger,
		Metrics:           recorder,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure pipeline")
	}
	defer orchestrator.Close()

	app := handlers.NewApp(orchestrator, blobs, recorder, logger, cfg)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app), logger)

	if err := server.Run(ctx, cfg.ShutdownGrace); err != nil {
		logger.Error().Err(err).Msg("api: server stopped with error")
		return
	}
	logger.Info().Msg("api: stopped")
}

// resolveGeminiToken prefers GEMINI_API_KEY and falls back to the key
// provisioned in the database. Any lookup failure leaves the client in
// synthetic mode.
func resolveGeminiToken(ctx context.Context, cfg *infra.Config, logger infra.Logger) credentials.Token {
	if cfg.GeminiAPIKey != "" {
		return credentials.Token{Value: cfg.GeminiAPIKey}
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		if !errors.Is(err, infra.ErrNoDatabase) {
			logger.Warn().Err(err).Msg("api: database unavailable for credential lookup")
		}
		return credentials.Token{}
	}
	defer pool.Close()

	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	token, err := credentials.ResolveGeminiKey(ctx, "", store)
	if err != nil {
		logger.Warn().Err(err).Msg("api: failed to load gemini api key from store")
		return credentials.Token{}
	}
	return token
}

func newBlobStore(cfg *infra.Config) (storage.BlobStore, error) {
	if cfg.SpoolDir == "" {
		return storage.NewMemoryStore(), nil
	}
	dir := cfg.SpoolDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return storage.NewFileStore(dir)
}
