package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/preambled/internal/renderservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(engine Engine, render *renderservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(engine, render)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)

	// Preamble registry.
	r.Get("/preambles", h.ListPreambles)
	r.Post("/preambles", h.RegisterPreamble)
	r.Delete("/preambles/*", h.UnregisterPreamble)

	// Folder bindings.
	r.Put("/folders", h.BindFolder)
	r.Delete("/folders", h.UnbindFolder)
	r.Delete("/folders/*", h.UnbindFolder)

	// Resolution.
	r.Get("/resolve/*", h.Resolve)
	r.Post("/render/*", h.Render)

	// Path completion for the settings form.
	r.Get("/suggest/files", h.SuggestFiles)
	r.Get("/suggest/folders", h.SuggestFolders)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
