package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PanHorut/BP/internal/grading"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/ledger"
	"github.com/PanHorut/BP/internal/metrics"
	"github.com/PanHorut/BP/internal/model"
	"github.com/PanHorut/BP/internal/speech"
	"github.com/PanHorut/BP/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	ledger   *ledger.Ledger
	grader   *grading.Grader
	provider speech.Provider
	archive  speech.Archiver
	config   model.ServerConfig
}

// New creates a new Handler. archive may be nil.
func New(s *store.Store, l *ledger.Ledger, g *grading.Grader, p speech.Provider, a speech.Archiver, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, ledger: l, grader: g, provider: p, archive: a, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(i18n.Middleware)
		r.Post("/check-answer/", h.handleCheckAnswer)
		r.Post("/create-record/", h.handleCreateRecord)
		r.Post("/update-record/", h.handleUpdateRecord)
		r.Post("/delete-record/", h.handleDeleteRecord)
		r.Post("/skip-example/", h.handleSkipExample)
		r.Get("/records/{studentID}", h.handleListRecords)
	})

	r.Get("/ws/speech/", h.handleSpeech)

	r.With(i18n.Middleware, h.requireAdmin).Post("/admin/examples", h.handleImportExamples)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ExampleCount(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError responds with a localized {"error": ...} body.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID)})
}

// writeStoreError maps lookup misses to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundID string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, notFoundID)
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "InternalError")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
