package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"sweeplab/internal/domain"
	"sweeplab/internal/storage"
)

const maxUploadBytes = 32 << 20

// UploadAsset stores a seed image for img2img runs.
func (a *App) UploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			a.error(w, http.StatusBadRequest, "bad_request", "file is required")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read file")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "file is empty")
		return
	}

	id := uuid.NewString()
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(header.Filename)), ".")
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	key, err := a.Files.Write(r.Context(), storage.AssetKey(id, ext), data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	asset := &domain.Asset{
		ID:               id,
		OriginalFilename: header.Filename,
		MIMEType:         mime,
		FilePath:         key,
	}
	if err := a.Repo.Assets().Create(r.Context(), asset); err != nil {
		_ = a.Files.Remove(r.Context(), key)
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":       asset.ID,
		"filename": asset.OriginalFilename,
		"status":   "uploaded",
	})
}
