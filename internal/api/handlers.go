package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/silpo-price-scraper/internal/database"
	"github.com/maltedev/silpo-price-scraper/internal/export"
	"github.com/maltedev/silpo-price-scraper/internal/jobs"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// RunStarter is the part of jobs.Manager the API needs.
type RunStarter interface {
	Trigger() (string, error)
	Current() (string, bool)
}

type Handlers struct {
	reader database.Reader
	runs   RunStarter
	logger *slog.Logger
}

func NewHandlers(reader database.Reader, runs RunStarter, logger *slog.Logger) *Handlers {
	return &Handlers{
		reader: reader,
		runs:   runs,
		logger: logger.With("component", "api"),
	}
}

type HealthResponse struct {
	Status     string `json:"status"`
	CurrentRun string `json:"current_run,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	current, _ := h.runs.Current()
	h.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", CurrentRun: current})
}

type CreateRunResponse struct {
	RunID   string           `json:"run_id"`
	Status  models.RunStatus `json:"status"`
	Message string           `json:"message"`
}

// CreateRun starts a run in the background.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.runs.Trigger()
	if errors.Is(err, jobs.ErrRunInProgress) {
		current, _ := h.runs.Current()
		h.respondJSON(w, http.StatusConflict, CreateRunResponse{
			RunID:   current,
			Status:  models.RunStatusRunning,
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to start run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   runID,
		Status:  models.RunStatusRunning,
		Message: "run started",
	})
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.reader.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.reader.LatestRun(r.Context())
	if err != nil {
		h.runError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.reader.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.runError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListPages(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.existingRun(w, r)
	if !ok {
		return
	}

	pages, err := h.reader.ListPages(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to list pages", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	if pages == nil {
		pages = []*models.PageOutcome{}
	}

	h.respondJSON(w, http.StatusOK, pages)
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.existingRun(w, r)
	if !ok {
		return
	}

	products, err := h.reader.ListProducts(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to list products", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []*models.ProductRecord{}
	}

	h.respondJSON(w, http.StatusOK, products)
}

// ExportCSV streams a run's products in the export column layout.
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.existingRun(w, r)
	if !ok {
		return
	}

	products, err := h.reader.ListProducts(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to list products", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to export run")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="run_`+runID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, export.Rows(products)); err != nil {
		h.logger.Error("failed to write csv", "run_id", runID, "error", err)
	}
}

func (h *Handlers) existingRun(w http.ResponseWriter, r *http.Request) (string, bool) {
	run, err := h.reader.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.runError(w, err)
		return "", false
	}
	return run.ID, true
}

func (h *Handlers) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	h.logger.Error("failed to load run", "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to load run")
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
