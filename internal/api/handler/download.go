package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/fetchd/internal/domain"
	"github.com/iconidentify/fetchd/internal/service"
)

// DownloadHandler handles download-related HTTP requests.
type DownloadHandler struct {
	downloadSvc *service.DownloadService
	logger      *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(downloadSvc *service.DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloadSvc: downloadSvc,
		logger:      logger,
	}
}

// SubmitRequest is the JSON request body for download submission.
type SubmitRequest struct {
	URL           string `json:"url"`
	Filename      string `json:"filename,omitempty"`
	MediaTypeHint string `json:"media_type,omitempty"`
	DeclaredSize  int64  `json:"declared_size,omitempty"`
}

// SubmitResponse is the JSON response after submission.
type SubmitResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	DestinationPath string `json:"destination_path"`
}

// JobResponse represents a job in list/get responses.
type JobResponse struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	SourceURL       string    `json:"source_url"`
	DestinationPath string    `json:"destination_path"`
	DeclaredSize    int64     `json:"declared_size,omitempty"`
	BytesWritten    int64     `json:"bytes_written"`
	Percent         float64   `json:"percent,omitempty"`
	Rate            float64   `json:"rate_bytes_sec,omitempty"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListResponse contains a paginated job list.
type ListResponse struct {
	Downloads []JobResponse `json:"downloads"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// ProbeRequest is the JSON request body for URL probing.
type ProbeRequest struct {
	URL string `json:"url"`
}

// ProbeResponse is the JSON response for URL probing.
type ProbeResponse struct {
	Accessible    bool   `json:"accessible"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	Error         string `json:"error,omitempty"`
}

func jobResponse(s *service.StatusResponse) JobResponse {
	return JobResponse{
		JobID:           s.JobID.String(),
		Status:          string(s.Status),
		SourceURL:       s.SourceURL,
		DestinationPath: s.DestinationPath,
		DeclaredSize:    s.DeclaredSize,
		BytesWritten:    s.BytesWritten,
		Percent:         s.Percent,
		Rate:            s.Rate,
		Attempts:        s.Attempts,
		Error:           s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// Submit handles POST /api/v1/downloads
func (h *DownloadHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.downloadSvc.Submit(r.Context(), service.SubmitRequest{
		SourceURL:     req.URL,
		Filename:      req.Filename,
		MediaTypeHint: req.MediaTypeHint,
		DeclaredSize:  req.DeclaredSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSourceURL):
			h.writeError(w, http.StatusBadRequest, "invalid source URL")
		case errors.Is(err, domain.ErrInvalidDestination):
			h.writeError(w, http.StatusBadRequest, "invalid destination filename")
		case errors.Is(err, domain.ErrDuplicateJob):
			h.writeError(w, http.StatusConflict, "an active download already targets this destination")
		default:
			h.logger.Error("submit failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to submit download")
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:           result.JobID.String(),
		Status:          string(result.Status),
		DestinationPath: result.DestinationPath,
	})
}

// List handles GET /api/v1/downloads
func (h *DownloadHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	var status *domain.JobStatus

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.JobStatus(s)
		status = &st
	}

	jobs, err := h.downloadSvc.List(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}

	response := ListResponse{
		Downloads: make([]JobResponse, 0, len(jobs)),
		Limit:     limit,
		Offset:    offset,
	}
	for _, job := range jobs {
		response.Downloads = append(response.Downloads, jobResponse(job))
	}

	h.writeJSON(w, http.StatusOK, response)
}

// Get handles GET /api/v1/downloads/{jobID}
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	status, err := h.downloadSvc.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "download not found")
			return
		}
		h.logger.Error("get failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get download")
		return
	}

	h.writeJSON(w, http.StatusOK, jobResponse(status))
}

// GetStatus handles GET /api/v1/downloads/{jobID}/status
func (h *DownloadHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.Get(w, r) // Same implementation as Get
}

// Cancel handles DELETE /api/v1/downloads/{jobID}
func (h *DownloadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	if err := h.downloadSvc.Cancel(r.Context(), domain.JobID(jobID)); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "no active download with this ID")
			return
		}
		h.logger.Error("cancel failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel download")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}

// Probe handles POST /api/v1/probe
func (h *DownloadHandler) Probe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	result, err := h.downloadSvc.Probe(r.Context(), req.URL)
	if err != nil {
		h.logger.Error("probe failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to probe URL")
		return
	}

	h.writeJSON(w, http.StatusOK, ProbeResponse{
		Accessible:    result.Accessible,
		ContentType:   result.ContentType,
		ContentLength: result.ContentLength,
		Error:         result.Error,
	})
}

func (h *DownloadHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *DownloadHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
