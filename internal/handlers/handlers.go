// Package handlers exposes the captured mailbox over HTTP: listing, fetching
// and deleting stored emails, and downloading attachment content.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/felo/mailtrap/internal/blob"
	"github.com/felo/mailtrap/internal/db"
)

// Handlers holds all HTTP handlers and their dependencies. One instance is
// constructed at startup and shared with the ingestion path through the same
// store, so reads always see the latest committed state.
type Handlers struct {
	db    *db.DB
	blobs *blob.Store
}

// New creates a new Handlers instance
func New(database *db.DB, blobs *blob.Store) *Handlers {
	return &Handlers{
		db:    database,
		blobs: blobs,
	}
}

// Router assembles the API routes. CORS is wide open: the sink is a
// development tool and its API is consumed by local frontends on other ports.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/api/emails", h.ListEmails)
	r.Get("/api/emails/{id}", h.GetEmail)
	r.Delete("/api/emails/{id}", h.DeleteEmail)
	r.Get("/api/emails/{id}/attachments/{key}", h.DownloadAttachment)

	return r
}

// writeJSON renders v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError renders an error detail, never a silent empty result.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
