package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sweeplab/internal/domain"
	"sweeplab/internal/infra"
	"sweeplab/internal/middleware"
	"sweeplab/internal/pipeline"
	"sweeplab/internal/providers/sinkin"
	"sweeplab/internal/storage"
)

// Provider is everything the HTTP shell needs from the SinkIn client.
type Provider interface {
	pipeline.Provider
	Models(ctx context.Context) (*sinkin.ModelsResponse, error)
}

type App struct {
	Config   *infra.Config
	Repo     domain.Repository
	Files    *storage.FileStore
	Provider Provider
	Executor *pipeline.Executor
	Upscaler *pipeline.Upscaler
	Logger   zerolog.Logger
}

func NewApp(cfg *infra.Config, repo domain.Repository, files *storage.FileStore, provider Provider, logger zerolog.Logger) *App {
	var downloadTimeout time.Duration
	if cfg != nil {
		downloadTimeout = cfg.DownloadTimeout
	}
	return &App{
		Config:   cfg,
		Repo:     repo,
		Files:    files,
		Provider: provider,
		Executor: pipeline.NewExecutor(pipeline.Options{
			Repo:            repo,
			Provider:        provider,
			Store:           files,
			DownloadTimeout: downloadTimeout,
			Logger:          &logger,
		}),
		Upscaler: pipeline.NewUpscaler(repo, provider, &logger),
		Logger:   infra.Component(logger, "http"),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// fail maps domain errors onto status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusBadRequest, "conflict", err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		a.error(w, http.StatusInternalServerError, "configuration", err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusInternalServerError, "provider_failure", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid payload: %v", domain.ErrValidation, err)
	}
	return nil
}

// queryInt parses an integer query parameter bounded to [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", domain.ErrValidation, name, lo, hi)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", domain.ErrValidation, name)
	}
	return v, nil
}

func page(r *http.Request, def, max int) (domain.Page, error) {
	limit, err := queryInt(r, "limit", def, 1, max)
	if err != nil {
		return domain.Page{}, err
	}
	offset, err := queryInt(r, "offset", 0, 0, int(^uint32(0)>>1))
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Limit: limit, Offset: offset}, nil
}
