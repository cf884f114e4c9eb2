package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"sweeplab/internal/http/handlers"
	"sweeplab/internal/middleware"
)

// NewRouter wires every route of the API. Only the endpoints that spend
// provider credits are rate limited.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	var origins []string
	rateLimit := 0
	if app.Config != nil {
		origins = app.Config.CORSAllowedOrigins
		rateLimit = app.Config.RateLimitPerMin
	}
	spend := middleware.RateLimit(rateLimit, time.Minute)

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(origins),
	)

	r.Get("/", app.Root)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", app.Health)
		r.Get("/models", app.Models)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", app.CreateRun)
			r.Get("/", app.ListRuns)
			r.Get("/{id}", app.GetRun)
			r.Delete("/{id}", app.DeleteRun)
			r.Post("/{id}/jobs", app.EnqueueRunJobs)
			r.Get("/{id}/archive", app.RunArchive)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Get("/next", app.NextJob)
			r.With(spend).Post("/run", app.RunJob)
			r.Post("/cancel-all", app.CancelAllJobs)
			r.Delete("/{id}", app.DeleteJob)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", app.ListImages)
			r.Get("/ids", app.ImageIDs)
			r.Get("/{id}", app.GetImage)
			r.Post("/{id}/score", app.ScoreImage)
			r.With(spend).Post("/{id}/upscale", app.UpscaleImage)
		})

		r.Post("/assets", app.UploadAsset)

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/table", app.AnalysisTable)
			r.Get("/csv", app.AnalysisCSV)
		})
	})

	if app.Files != nil {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(app.Files.BasePath())))
		r.Get("/files/*", files.ServeHTTP)
	}

	return r
}
