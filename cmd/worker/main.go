package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sweeplab/internal/adapter/repo"
	"sweeplab/internal/domain"
	"sweeplab/internal/infra"
	"sweeplab/internal/infra/credentials"
	"sweeplab/internal/pipeline"
	"sweeplab/internal/providers/sinkin"
	"sweeplab/internal/storage"
)

type queue interface {
	NextExcept(ctx context.Context, skip []int64) (*domain.JobView, error)
}

type executor interface {
	Run(ctx context.Context, jobID int64) (*pipeline.Result, error)
}

// jobWorker drains the queue one job at a time. Jobs the executor rejected
// are remembered and not picked again by this process; they stay queued.
type jobWorker struct {
	queue    queue
	exec     executor
	logger   infra.Logger
	interval time.Duration
	once     bool
	rejected []int64
}

func main() {
	once := flag.Bool("once", false, "drain the queue and exit instead of polling")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.Component(infra.NewLogger(cfg.AppEnv), "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := infra.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer database.Close()
	if err := repo.Migrate(ctx, database.Gorm); err != nil {
		logger.Fatal().Err(err).Msg("worker: migrate failed")
	}
	if err := credentials.Migrate(ctx, database.Gorm); err != nil {
		logger.Fatal().Err(err).Msg("worker: migrate credentials failed")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	apiKey, err := credentials.NewStore(database.Gorm).ResolveAPIKey(ctx, cfg.SinkInAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: failed to load sinkin api key from store")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure sinkin client")
	}
	if !client.HasCredentials() {
		logger.Fatal().Msg("worker: SINKIN_API_KEY not configured")
	}

	store := repo.NewStore(database.Gorm)
	w := &jobWorker{
		queue: store.Jobs(),
		exec: pipeline.NewExecutor(pipeline.Options{
			Repo:            store,
			Provider:        client,
			Store:           files,
			DownloadTimeout: cfg.DownloadTimeout,
			Logger:          &logger,
		}),
		logger:   logger,
		interval: cfg.WorkerPollInterval,
		once:     *once,
	}
	processed, err := w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Int("processed", processed).Msg("worker: stopped with error")
	}
	logger.Info().Int("processed", processed).Msg("worker: stopped")
}

// Run processes jobs until the context ends, or until the queue is empty
// when once is set. It returns the number of jobs handed to the executor.
func (w *jobWorker) Run(ctx context.Context) (int, error) {
	w.logger.Info().Bool("once", w.once).Msg("worker: started")
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		next, err := w.queue.NextExcept(ctx, w.rejected)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to fetch next job")
			if !w.sleep(ctx) {
				return processed, ctx.Err()
			}
			continue
		}
		if next == nil {
			if w.once {
				return processed, nil
			}
			if !w.sleep(ctx) {
				return processed, ctx.Err()
			}
			continue
		}

		processed++
		if ok := w.handle(ctx, next); !ok {
			w.rejected = append(w.rejected, next.ID)
			if !w.sleep(ctx) {
				return processed, ctx.Err()
			}
		}
	}
}

// handle runs one job and reports false when the executor returned an error.
func (w *jobWorker) handle(ctx context.Context, job *domain.JobView) bool {
	log := w.logger.With().Int64("job_id", job.ID).Int("batch", job.RunBatch).Logger()
	log.Info().Str("run", job.RunName).Msg("worker: picked job")
	res, err := w.exec.Run(ctx, job.ID)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("worker: job errored, skipping it until restart")
		return false
	case !res.Success:
		log.Warn().Str("message", res.ErrorMessage).Msg("worker: job failed")
	default:
		log.Info().Int("images", len(res.ImageIDs)).Float64("credit_cost", res.CreditCost).Msg("worker: job completed")
	}
	return true
}

func (w *jobWorker) sleep(ctx context.Context) bool {
	interval := w.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
