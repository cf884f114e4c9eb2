package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeplab/internal/domain"
)

type jobRunRequest struct {
	JobID *int64 `json:"job_id"`
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func jobItem(v domain.JobView) map[string]any {
	var cfg any = json.RawMessage(v.ConfigJSON)
	if !json.Valid(v.ConfigJSON) {
		cfg = nil
	}
	var errMsg any
	if v.ErrorMessage != "" {
		errMsg = v.ErrorMessage
	}
	return map[string]any{
		"id":            v.ID,
		"run_id":        v.RunID,
		"status":        v.Status,
		"created_at":    v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":  formatTime(v.CompletedAt),
		"error_message": errMsg,
		"run_name":      v.RunName,
		"run_batch":     v.RunBatch,
		"config":        cfg,
	}
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	var filter domain.JobFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseJobStatus(raw)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		filter.Status = status
	}
	filter.RunID = strings.TrimSpace(r.URL.Query().Get("run_id"))
	jobs, err := a.Repo.Jobs().List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobItem(j))
	}
	a.json(w, http.StatusOK, items)
}

func (a *App) NextJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Repo.Jobs().Next(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job == nil {
		a.json(w, http.StatusOK, map[string]any{"job_id": nil})
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":    job.ID,
		"run_name":  job.RunName,
		"run_batch": job.RunBatch,
	})
}

// RunJob executes one queued job synchronously. A provider-reported failure
// is a 200 with success=false; the job row records it.
func (a *App) RunJob(w http.ResponseWriter, r *http.Request) {
	var req jobRunRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.JobID == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id is required")
		return
	}
	result, err := a.Executor.Run(r.Context(), *req.JobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "job id must be an integer")
		return
	}
	if err := a.Repo.Jobs().Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("Job %d deleted", id)})
}

func (a *App) CancelAllJobs(w http.ResponseWriter, r *http.Request) {
	n, err := a.Repo.Jobs().CancelQueued(r.Context(), strings.TrimSpace(r.URL.Query().Get("run_id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "deleted_count": n})
}
