package matching

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type ArtisanDirectory interface {
	UpsertArtisan(ctx context.Context, a domain.Artisan) error
}

type Handler struct {
	directory ArtisanDirectory
	logger    *slog.Logger
}

func NewHandler(directory ArtisanDirectory, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		logger:    logger,
	}
}

// HandleUpsert registers or updates an artisan's matching profile.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var a domain.Artisan
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if a.ID <= 0 || len(a.Services) == 0 {
		h.writeError(w, http.StatusBadRequest, "id and services are required")
		return
	}

	if err := h.directory.UpsertArtisan(r.Context(), a); err != nil {
		h.logger.Error("failed to upsert artisan", "error", err, "artisan_id", a.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("artisan profile saved", "artisan_id", a.ID, "services", a.Services)
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
