package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/felo/mailtrap/internal/blob"
	"github.com/felo/mailtrap/internal/db"
)

// DownloadAttachment serves the bytes of one attachment blob, addressed by
// email id and storage key.
func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

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

	var att *db.Attachment
	for i := range email.Attachments {
		if email.Attachments[i].StorageKey == key {
			att = &email.Attachments[i]
			break
		}
	}
	if att == nil {
		writeError(w, http.StatusNotFound, "Attachment not found")
		return
	}

	data, err := h.blobs.Read(att.StorageKey)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Attachment content missing")
		return
	}
	if err != nil {
		slog.Error("failed to read attachment blob", "key", att.StorageKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load attachment data")
		return
	}

	// Sanitize filename for security
	safeFilename := blob.SanitizeFilename(att.Filename)

	// Set headers for download using proper encoding
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": safeFilename,
		}))
	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.Write(data)
}
