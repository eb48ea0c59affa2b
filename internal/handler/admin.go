package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/model"
)

const maxImportSize = 10 << 20

// requireAdmin checks the bearer token against the configured admin token.
// Without a configured token the admin routes do not exist.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.AdminToken == "" {
			http.NotFound(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashExamples returns the content hash recorded for an imported catalogue.
func HashExamples(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeExamples parses a JSON example catalogue and rejects it if any
// canonical answer is malformed.
func DecodeExamples(data []byte) ([]model.Example, error) {
	var examples []model.Example
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, err
	}
	for _, ex := range examples {
		if _, err := answer.ParseExample(ex); err != nil {
			return nil, err
		}
	}
	return examples, nil
}

func (h *Handler) handleImportExamples(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	hash := HashExamples(data)
	stored, err := h.store.ImportedHash(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "InternalError")
		return
	}
	if stored == hash {
		writeJSON(w, http.StatusOK, map[string]any{
			"imported": 0,
			"message":  i18n.Tp(r.Context(), "ExamplesImported", 0),
		})
		return
	}

	examples, err := DecodeExamples(data)
	if err != nil {
		slog.Warn("rejected example import", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: i18n.T(r.Context(), "InvalidRequestBody") + ": " + err.Error()})
		return
	}
	if err := h.store.ImportExamples(r.Context(), examples, hash); err != nil {
		writeStoreError(w, r, err, "InternalError")
		return
	}

	slog.Info("imported examples via admin", "count", len(examples))
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": len(examples),
		"message":  i18n.Tp(r.Context(), "ExamplesImported", len(examples)),
	})
}
