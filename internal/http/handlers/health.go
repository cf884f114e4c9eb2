package handlers

import (
	"encoding/json"
	"net/http"
)

func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "SinkIn Image Experimentation API is running",
	})
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Models proxies the provider catalog verbatim.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	resp, err := a.Provider.Models(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Failed() {
		msg := resp.Message
		if msg == "" {
			msg = "failed to fetch models"
		}
		a.error(w, http.StatusInternalServerError, "provider_failure", msg)
		return
	}
	a.json(w, http.StatusOK, json.RawMessage(resp.Raw))
}
