package blocking

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	status, err := h.ledger.Status(r.Context(), subject)
	if err != nil {
		h.logger.Error("failed to read block status", "error", err, "subject", subject.String())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.History(r.Context(), subject)
	if err != nil {
		h.logger.Error("failed to list blocks", "error", err, "subject", subject.String())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []domain.BlockRecord{}
	}

	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	cleared, err := h.ledger.Unblock(r.Context(), subject)
	if err != nil {
		h.logger.Error("failed to unblock", "error", err, "subject", subject.String())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !cleared {
		h.writeError(w, http.StatusNotFound, "no active block")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"unblocked": true})
}

func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (domain.Subject, bool) {
	subject, err := domain.ParseSubject(r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return domain.Subject{}, false
	}
	return subject, true
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
