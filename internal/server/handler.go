package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/config"
	"github.com/pvcarvalho/avaria-api/internal/intake"
	"github.com/pvcarvalho/avaria-api/internal/job"
	"github.com/pvcarvalho/avaria-api/internal/progress"
	"github.com/pvcarvalho/avaria-api/internal/report"
)

// maxUploadBytes caps one upload request. Chat exports bundle dozens of
// photos, so the limit is generous.
const maxUploadBytes = 50 << 20

const redactedKey = "********"

type handler struct {
	reports  *report.Service
	runner   *job.Runner
	jobs     job.Repository
	tracker  *progress.Tracker
	registry *analyzer.Registry
	settings *config.Store
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Saved []string `json:"saved"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in upload, use the 'files' field")
		return
	}

	// Reject the whole batch up front so a bad file never leaves a
	// partial upload on disk.
	for _, fh := range files {
		if name := filepath.Base(fh.Filename); !allowedUpload(name) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", name))
			return
		}
	}

	uploadDir := h.settings.Current().Server.UploadDir
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "create upload dir: "+err.Error())
		return
	}

	var saved []string
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		dst := filepath.Join(uploadDir, name)
		// Keep both copies when a name collides instead of overwriting an
		// image that may already be analyzed.
		if _, err := os.Stat(dst); err == nil {
			ext := filepath.Ext(name)
			name = strings.TrimSuffix(name, ext) + "-" + uuid.NewString()[:8] + ext
			dst = filepath.Join(uploadDir, name)
		}

		if err := saveUpload(fh, dst); err != nil {
			writeError(w, http.StatusInternalServerError, "save upload: "+err.Error())
			return
		}
		saved = append(saved, name)
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Saved: saved})
}

func allowedUpload(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".txt":
		return true
	}
	return false
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, src)
	return err
}

type startJobRequest struct {
	Provider string `json:"provider"`
}

func (h *handler) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	cfg := h.settings.Current()
	provider := req.Provider
	if provider == "" {
		provider = cfg.API.Provider
	}
	a, err := h.registry.Get(provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	skip, err := h.reports.ProcessedNames(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	images, err := intake.Collect(cfg.Server.UploadDir, skip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collect uploads: "+err.Error())
		return
	}

	items := make([]job.WorkItem, len(images))
	for i, img := range images {
		items[i] = job.WorkItem{
			Name:     img.Name,
			Path:     img.Path,
			MIMEType: img.MIMEType,
			Context:  img.Context,
		}
	}

	opts := job.Options{
		BatchSize:  cfg.Processing.BatchSize,
		Workers:    cfg.Processing.Workers,
		MaxRetries: cfg.Processing.MaxRetries,
		RetryDelay: cfg.Processing.RetryDelay(),
	}

	j, err := h.runner.Start(r.Context(), a, items, opts)
	if errors.Is(err, job.ErrBusy) {
		writeError(w, http.StatusConflict, "a job is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type statusResponse struct {
	progress.Snapshot
	TotalImages int `json:"totalImages"`
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot:    h.tracker.Snapshot(),
		TotalImages: intake.CountImages(h.settings.Current().Server.UploadDir),
	})
}

func (h *handler) listReport(w http.ResponseWriter, r *http.Request) {
	req := report.ListRowsRequest{
		Category: r.URL.Query().Get("category"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}

	rows, err := h.reports.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, rows)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) updateRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}

	var req report.UpdateRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = id

	row, err := h.reports.Update(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *handler) deleteRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}

	if err := h.reports.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func (h *handler) moveRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}

	var req report.MoveRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = id

	row, err := h.reports.Move(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context(), h.settings.Current().Server.UploadDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := h.settings.Current()
	if cfg.API.GeminiAPIKey != "" {
		cfg.API.GeminiAPIKey = redactedKey
	}
	if cfg.API.AnthropicAPIKey != "" {
		cfg.API.AnthropicAPIKey = redactedKey
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Current()
	next := current
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The read endpoint masks keys; a masked value sent back means "keep".
	if next.API.GeminiAPIKey == redactedKey {
		next.API.GeminiAPIKey = current.API.GeminiAPIKey
	}
	if next.API.AnthropicAPIKey == redactedKey {
		next.API.AnthropicAPIKey = current.API.AnthropicAPIKey
	}

	if next.Processing.BatchSize <= 0 || next.Processing.Workers <= 0 {
		writeError(w, http.StatusBadRequest, "batch size and workers must be positive")
		return
	}
	if next.Processing.MaxRetries < 0 || next.Processing.RetryDelaySeconds < 0 {
		writeError(w, http.StatusBadRequest, "retries and retry delay must not be negative")
		return
	}

	if err := h.settings.Update(next); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}

	if next.API.GeminiAPIKey != "" {
		next.API.GeminiAPIKey = redactedKey
	}
	if next.API.AnthropicAPIKey != "" {
		next.API.AnthropicAPIKey = redactedKey
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) serveImage(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("name"))
	if !intake.IsImage(name) {
		writeError(w, http.StatusBadRequest, "not an image")
		return
	}

	path := filepath.Join(h.settings.Current().Server.UploadDir, name)
	info, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}

	// Uploaded files never change in place, so size+mtime identify content.
	etag := fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano())
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeFile(w, r, path)
}
