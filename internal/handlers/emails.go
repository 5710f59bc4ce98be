package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/felo/mailtrap/internal/db"
)

// ListEmails returns every captured email in insertion order.
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.db.List(r.Context())
	if err != nil {
		slog.Error("failed to list emails", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list emails")
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

// GetEmail returns a single captured email by id.
func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	email, err := h.db.Get(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	if err != nil {
		slog.Error("failed to get email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load email")
		return
	}

	writeJSON(w, http.StatusOK, email)
}

// DeleteEmail removes a captured email and its attachment blobs. A blob that
// is already missing is logged and tolerated; the deletion still succeeds.
func (h *Handlers) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	keys, err := h.db.Delete(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete email")
		return
	}

	for _, key := range keys {
		if err := h.blobs.Remove(key); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Warn("attachment blob already missing", "key", key)
			} else {
				slog.Warn("failed to remove attachment blob", "key", key, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email deleted"})
}

// emailID parses the id route parameter, answering 400 on garbage.
func emailID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email ID")
		return 0, false
	}
	return id, true
}
