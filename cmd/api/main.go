package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"sweeplab/internal/adapter/repo"
	"sweeplab/internal/http/handlers"
	httpapi "sweeplab/internal/http/httpapi"
	"sweeplab/internal/infra"
	"sweeplab/internal/infra/credentials"
	"sweeplab/internal/providers/sinkin"
	"sweeplab/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	database, err := infra.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := repo.Migrate(ctx, database.Gorm); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}
	if err := credentials.Migrate(ctx, database.Gorm); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate credentials")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	apiKey, err := credentials.NewStore(database.Gorm).ResolveAPIKey(ctx, cfg.SinkInAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load sinkin api key from store")
	}
	client, err := sinkin.NewClient(sinkin.Options{
		APIKey:          apiKey,
		BaseURL:         cfg.SinkInBaseURL,
		HTTPClient:      &http.Client{},
		Logger:          &logger,
		GenerateTimeout: cfg.GenerateTimeout,
		UpscaleTimeout:  cfg.UpscaleTimeout,
		ListTimeout:     cfg.ListModelsTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure sinkin client")
	}
	if !client.HasCredentials() {
		logger.Warn().Msg("SINKIN_API_KEY not configured; provider calls will fail")
	}

	app := handlers.NewApp(cfg, repo.NewStore(database.Gorm), files, client, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("database", database.Dialect).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
