package rebuild

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/forsc/docsearch/internal/history"
	"github.com/forsc/docsearch/internal/indexer"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/logger"
)

// Rebuilder is the coordinator surface the handler depends on.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*indexer.RebuildReport, error)
}

// HistoryLister reads past rebuilds.
type HistoryLister interface {
	Recent(ctx context.Context, indexDir string, limit int) ([]history.Run, error)
}

type Handler struct {
	rebuilder Rebuilder
	history   HistoryLister
	indexDir  string
}

// NewHandler returns the index admin handler. hist may be nil when no
// history store is configured.
func NewHandler(r Rebuilder, hist HistoryLister, indexDir string) *Handler {
	return &Handler{rebuilder: r, history: hist, indexDir: indexDir}
}

// Rebuild handles POST /api/v1/index/rebuild. The build runs detached from
// the request deadline and is bounded by index.buildTimeout instead.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	report, err := h.rebuilder.Rebuild(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, apperrors.ErrRebuildInProgress) {
			writeError(w, http.StatusConflict, "a rebuild is already running")
			return
		}
		logger.FromContext(r.Context()).Error("rebuild failed", "error", err)
		if errors.Is(err, apperrors.ErrEmptySource) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// History handles GET /api/v1/index/history?limit=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "rebuild history is not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	runs, err := h.history.Recent(r.Context(), h.indexDir, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("history lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
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
