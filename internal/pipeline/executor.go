// Package pipeline executes queued generation jobs and image upscales
// against the provider and persists their results.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sweeplab/internal/domain"
	"sweeplab/internal/domain/jsoncfg"
	"sweeplab/internal/infra"
	"sweeplab/internal/providers/sinkin"
	"sweeplab/internal/storage"
)

const defaultDownloadTimeout = 30 * time.Second

// Provider is the subset of the SinkIn client the pipeline depends on.
type Provider interface {
	Inference(ctx context.Context, req sinkin.InferenceRequest) (sinkin.Payload, *sinkin.InferenceResponse, error)
	Upscale(ctx context.Context, req sinkin.UpscaleRequest) (*sinkin.UpscaleResponse, error)
}

// ObjectStore stores downloaded images and reads uploaded seed images.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Thumbnail(ctx context.Context, imageID string, data []byte) (string, error)
}

// Options wires the executor's collaborators.
type Options struct {
	Repo            domain.Repository
	Provider        Provider
	Store           ObjectStore
	HTTPClient      *http.Client
	DownloadTimeout time.Duration
	Logger          *infra.Logger
	Now             func() time.Time
}

// Executor runs one job at a time. Callers must not run the same job id
// concurrently; the status guard rejects the second attempt.
type Executor struct {
	repo            domain.Repository
	provider        Provider
	store           ObjectStore
	httpClient      *http.Client
	downloadTimeout time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

// Result reports the outcome of one job execution.
type Result struct {
	JobID        int64    `json:"job_id"`
	Success      bool     `json:"success"`
	Images       []string `json:"images"`
	ImageIDs     []string `json:"image_ids"`
	InfID        string   `json:"inf_id,omitempty"`
	CreditCost   float64  `json:"credit_cost"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Fallback     bool     `json:"fallback"`
}

// NewExecutor constructs an executor with defaults for optional fields.
func NewExecutor(opts Options) *Executor {
	e := &Executor{
		repo:            opts.Repo,
		provider:        opts.Provider,
		store:           opts.Store,
		httpClient:      opts.HTTPClient,
		downloadTimeout: opts.DownloadTimeout,
		now:             opts.Now,
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}
	if e.downloadTimeout <= 0 {
		e.downloadTimeout = defaultDownloadTimeout
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger != nil {
		e.logger = infra.Component(*opts.Logger, "executor")
	} else {
		e.logger = zerolog.New(io.Discard)
	}
	return e
}

// Run executes a queued job end to end. Provider failures are recorded on the
// job and reported through Result with Success false; the returned error is
// reserved for precondition violations, configuration problems and storage
// failures. Execution is detached from the caller's cancellation so a
// disconnecting client cannot strand the job in running.
func (e *Executor) Run(ctx context.Context, jobID int64) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With().Int64("job_id", jobID).Logger()

	job, err := e.repo.Jobs().Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusQueued {
		return nil, fmt.Errorf("%w: job %d is not queued (status: %s)", domain.ErrInvalidTransition, jobID, job.Status)
	}
	cfg, err := jsoncfg.Decode(job.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", jobID, err)
	}
	run, err := e.repo.Runs().Get(ctx, job.RunID)
	if err != nil {
		return nil, err
	}
	log = log.With().Int("batch", run.BatchNumber).Logger()

	if err := e.repo.Jobs().MarkRunning(ctx, jobID); err != nil {
		return nil, err
	}
	log.Info().Str("run_id", run.ID).Msg("job running")

	seed := e.loadSeedImage(ctx, log, job)
	req := buildRequest(run, job, cfg, seed)

	payload, resp, err := e.provider.Inference(ctx, req)
	if err != nil {
		return nil, e.abort(ctx, log, jobID, err)
	}
	usedSeed := seed != nil
	fallback := false
	if resp.Failed() && usedSeed {
		log.Warn().Str("message", resp.ErrorMessage()).Msg("img2img failed, retrying as text-to-image")
		req.InitImage, req.InitImageName = nil, ""
		req.ImageStrength, req.ControlNet = 0, ""
		payload, resp, err = e.provider.Inference(ctx, req)
		if err != nil {
			return nil, e.abort(ctx, log, jobID, err)
		}
		usedSeed, fallback = false, true
	}
	if resp.Failed() {
		msg := resp.ErrorMessage()
		if err := e.repo.Jobs().Fail(ctx, jobID, msg, e.now()); err != nil {
			return nil, err
		}
		log.Warn().Str("message", msg).Msg("job failed")
		return &Result{JobID: jobID, Success: false, ErrorMessage: msg, Fallback: fallback, Images: []string{}, ImageIDs: []string{}}, nil
	}

	images := e.collect(ctx, log, run, cfg, payload, resp, usedSeed)
	err = e.repo.Transaction(ctx, func(tx domain.Repository) error {
		for i := range images {
			if err := tx.Images().Create(ctx, &images[i]); err != nil {
				return err
			}
		}
		return tx.Jobs().Complete(ctx, jobID, e.now())
	})
	if err != nil {
		return nil, e.abort(ctx, log, jobID, fmt.Errorf("persist results: %w", err))
	}

	result := &Result{
		JobID:      jobID,
		Success:    true,
		Images:     append([]string{}, resp.Images...),
		ImageIDs:   make([]string, len(images)),
		InfID:      resp.InfID,
		CreditCost: resp.CreditCost,
		Fallback:   fallback,
	}
	for i, img := range images {
		result.ImageIDs[i] = img.ID
	}
	log.Info().Str("inf_id", resp.InfID).Int("images", len(images)).Float64("credit_cost", resp.CreditCost).Msg("job completed")
	return result, nil
}

// abort records err on the job and returns it.
func (e *Executor) abort(ctx context.Context, log zerolog.Logger, jobID int64, err error) error {
	log.Error().Err(err).Msg("job aborted")
	if ferr := e.repo.Jobs().Fail(ctx, jobID, err.Error(), e.now()); ferr != nil {
		log.Error().Err(ferr).Msg("mark job failed")
	}
	return err
}

type seedImage struct {
	name string
	data []byte
}

// loadSeedImage resolves the job's seed asset. A missing or unreadable asset
// degrades the call to text-to-image.
func (e *Executor) loadSeedImage(ctx context.Context, log zerolog.Logger, job *domain.Job) *seedImage {
	if job.InitImageAssetID == nil || *job.InitImageAssetID == "" {
		return nil
	}
	asset, err := e.repo.Assets().Get(ctx, *job.InitImageAssetID)
	if err != nil {
		log.Warn().Err(err).Str("asset_id", *job.InitImageAssetID).Msg("seed asset unavailable, continuing without it")
		return nil
	}
	data, err := e.store.Read(ctx, asset.FilePath)
	if err != nil {
		log.Warn().Err(err).Str("asset_id", asset.ID).Msg("seed asset unreadable, continuing without it")
		return nil
	}
	name := asset.OriginalFilename
	if name == "" {
		name = path.Base(asset.FilePath)
	}
	return &seedImage{name: name, data: data}
}

func buildRequest(run *domain.Run, job *domain.Job, cfg jsoncfg.JobConfig, seed *seedImage) sinkin.InferenceRequest {
	req := sinkin.InferenceRequest{
		ModelID:        run.ModelID,
		Prompt:         run.Prompt,
		NegativePrompt: run.NegativePrompt,
		UseDefaultNeg:  cfg.UseDefaultNeg,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Steps:          cfg.Steps,
		Scale:          cfg.Scale,
		NumImages:      cfg.NumImages,
		Seed:           cfg.Seed,
		Scheduler:      cfg.Scheduler,
		LoRA:           cfg.LoRA,
		LoRAScale:      cfg.LoRAStrength(),
		BatchNumber:    run.BatchNumber,
		JobID:          job.ID,
	}
	if seed != nil {
		req.InitImage = seed.data
		req.InitImageName = seed.name
		req.ImageStrength = cfg.ImageStrength
		req.ControlNet = cfg.ControlNet
	}
	return req
}

// collect downloads every returned artifact in order and builds the image
// rows. A failed download or write leaves FilePath empty on that row only.
func (e *Executor) collect(ctx context.Context, log zerolog.Logger, run *domain.Run, cfg jsoncfg.JobConfig, payload sinkin.Payload, resp *sinkin.InferenceResponse, usedSeed bool) []domain.Image {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		rawPayload = nil
	}
	rawResponse := resp.RawJSON()

	cost := resp.CreditCost
	if n := len(resp.Images); n > 0 {
		cost = resp.CreditCost / float64(n)
	}
	seed := cfg.Seed
	if s, ok := resp.ProviderSeed(); ok {
		seed = s
	}
	var strength *float64
	controlNet := ""
	// Strength and controlnet only shaped the output when the seed image was sent.
	if usedSeed {
		v := cfg.ImageStrength
		strength = &v
		controlNet = cfg.ControlNet
	}

	createdAt := e.now()
	images := make([]domain.Image, 0, len(resp.Images))
	for i, url := range resp.Images {
		id := uuid.NewString()
		index := i
		key := e.storeArtifact(ctx, log, id, url)
		images = append(images, domain.Image{
			ID:         id,
			RunID:      run.ID,
			FilePath:   key,
			InfID:      resp.InfID,
			BatchIndex: &index,
			CreatedAt:  createdAt,
			Config: &domain.Config{
				ImageID:         id,
				Steps:           cfg.Steps,
				Scale:           cfg.Scale,
				Width:           cfg.Width,
				Height:          cfg.Height,
				Seed:            seed,
				Scheduler:       cfg.Scheduler,
				ImageStrength:   strength,
				ControlNet:      controlNet,
				CreditCost:      cost,
				RawPayloadJSON:  rawPayload,
				RawResponseJSON: rawResponse,
			},
		})
	}
	return images
}

func (e *Executor) storeArtifact(ctx context.Context, log zerolog.Logger, imageID, url string) string {
	data, err := e.download(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("download failed")
		return ""
	}
	key, err := e.store.Write(ctx, storage.ImageKey(imageID), data)
	if err != nil {
		log.Warn().Err(err).Str("image_id", imageID).Msg("store image failed")
		return ""
	}
	if _, err := e.store.Thumbnail(ctx, imageID, data); err != nil {
		log.Debug().Err(err).Str("image_id", imageID).Msg("thumbnail skipped")
	}
	return key
}

func (e *Executor) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty image body")
	}
	return data, nil
}
