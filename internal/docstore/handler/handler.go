// Package handler serves the document upload, listing and download API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/forsc/docsearch/internal/docstore"
	"github.com/forsc/docsearch/internal/docstore/validator"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/logger"
	"github.com/forsc/docsearch/pkg/metrics"
)

const (
	multipartMemory = 8 << 20
	// formOverhead covers part headers and boundaries on top of file bytes.
	formOverhead = 1 << 20
)

// Rebuilder triggers an index rebuild after an upload when requested.
type Rebuilder interface {
	Run(ctx context.Context) error
}

type Handler struct {
	store     *docstore.Store
	rules     validator.Rules
	rebuilder Rebuilder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(store *docstore.Store, rules validator.Rules, rebuilder Rebuilder, m *metrics.Metrics) *Handler {
	return &Handler{
		store:     store,
		rules:     rules,
		rebuilder: rebuilder,
		metrics:   m,
		logger:    slog.Default().With("component", "docstore-handler"),
	}
}

// UploadResponse lists what an upload stored.
type UploadResponse struct {
	Files   []docstore.FileInfo `json:"files"`
	Rebuilt bool                `json:"rebuilt"`
}

// Upload handles POST /api/v1/documents with one or more multipart "file"
// parts. ?rebuild=true rebuilds the index once all files are stored.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	limit := h.rules.MaxBytes*int64(h.rules.FileLimit()) + formOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.count("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with file parts")
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["file"]
	if len(parts) == 0 {
		h.count("rejected")
		writeValidation(w, &validator.ValidationError{Fields: map[string]string{"file": "at least one file is required"}})
		return
	}
	if len(parts) > h.rules.FileLimit() {
		h.count("rejected")
		writeValidation(w, &validator.ValidationError{Fields: map[string]string{
			"file": fmt.Sprintf("at most %d files per upload", h.rules.FileLimit()),
		}})
		return
	}
	for _, part := range parts {
		if err := validator.ValidateUpload(part.Filename, part.Size, h.rules); err != nil {
			h.count("rejected")
			var verr *validator.ValidationError
			if errors.As(err, &verr) {
				verr.Fields["name"] = part.Filename
				writeValidation(w, verr)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp := UploadResponse{Files: make([]docstore.FileInfo, 0, len(parts))}
	for _, part := range parts {
		info, err := h.save(part)
		if err != nil {
			h.count("error")
			if errors.Is(err, apperrors.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error("storing upload failed", "name", part.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store file")
			return
		}
		h.count("accepted")
		resp.Files = append(resp.Files, info)
	}
	log.Info("documents uploaded", "count", len(resp.Files))

	if r.URL.Query().Get("rebuild") == "true" && h.rebuilder != nil {
		if err := h.rebuilder.Run(context.WithoutCancel(r.Context())); err != nil {
			if errors.Is(err, apperrors.ErrRebuildInProgress) {
				writeJSON(w, http.StatusAccepted, resp)
				return
			}
			log.Error("rebuild after upload failed", "error", err)
			writeError(w, http.StatusInternalServerError, "files stored but rebuild failed")
			return
		}
		resp.Rebuilt = true
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) save(part *multipart.FileHeader) (docstore.FileInfo, error) {
	f, err := part.Open()
	if err != nil {
		return docstore.FileInfo{}, fmt.Errorf("opening upload %s: %w", part.Filename, err)
	}
	defer f.Close()
	return h.store.Save(part.Filename, f, h.rules.MaxBytes)
}

// List handles GET /api/v1/documents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.store.List()
	if err != nil {
		logger.FromContext(r.Context()).Error("listing documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "total": len(files)})
}

// Download handles GET /download/{name}, serving the file as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f, info, err := h.store.Open(name)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("opening document failed", "name", name, "error", err)
			writeError(w, status, "failed to open document")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	http.ServeContent(w, r, info.Name, info.Modified, f)
}

func (h *Handler) count(status string) {
	if h.metrics != nil {
		h.metrics.UploadsTotal.WithLabelValues(status).Inc()
	}
}

func writeValidation(w http.ResponseWriter, verr *validator.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": verr.Fields,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
