package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/renderservice"
)

// Engine is the subset of the preamble engine exposed over HTTP.
type Engine interface {
	Serialize() models.Settings
	Replace(ctx context.Context, s models.Settings) error
	Register(ctx context.Context, path string) error
	Unregister(ctx context.Context, path string) error
	Bind(ctx context.Context, folder, preamblePath string) error
	Unbind(ctx context.Context, folder string) error
	Preambles() []models.Preamble
	Resolve(docPath, override string) (models.Preamble, bool)
}

// Handler holds API route handlers.
type Handler struct {
	engine Engine
	render *renderservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(engine Engine, render *renderservice.Service) *Handler {
	return &Handler{engine: engine, render: render}
}

// wildcardPath extracts the vault path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. notes%2Fdoc.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Current preamble registry and folder bindings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	models.Settings
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Serialize())
}

// PutSettings handles PUT /api/settings.
//
//	@Summary		Replace all settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SettingsRequest	true	"Full settings"
//	@Success		200		{object}	models.Settings
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Replace(r.Context(), models.Settings(req)); err != nil {
		writeError(w, "replace settings", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Serialize())
}

// ListPreambles handles GET /api/preambles.
//
//	@Summary		List registered preambles
//	@Tags			preambles
//	@Produce		json
//	@Success		200	{object}	PreambleListResponse
//	@Security		BearerAuth
//	@Router			/preambles [get]
func (h *Handler) ListPreambles(w http.ResponseWriter, _ *http.Request) {
	all := h.engine.Preambles()
	out := PreambleListResponse{Preambles: make([]PreambleDTO, 0, len(all))}
	for _, p := range all {
		out.Preambles = append(out.Preambles, toPreambleDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterPreamble handles POST /api/preambles.
//
//	@Summary		Register a preamble file
//	@Tags			preambles
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterPreambleRequest	true	"Preamble to register"
//	@Success		201		{object}	models.Settings
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preambles [post]
func (h *Handler) RegisterPreamble(w http.ResponseWriter, r *http.Request) {
	var req RegisterPreambleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Register(r.Context(), req.Path); err != nil {
		writeError(w, "register preamble", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.engine.Serialize())
}

// UnregisterPreamble handles DELETE /api/preambles/*.
//
//	@Summary		Unregister a preamble file
//	@Tags			preambles
//	@Param			path	path	string	true	"Preamble path"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preambles/{path} [delete]
func (h *Handler) UnregisterPreamble(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.engine.Unregister(r.Context(), path); err != nil {
		writeError(w, "unregister preamble", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BindFolder handles PUT /api/folders.
//
//	@Summary		Bind a folder to a preamble
//	@Tags			folders
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BindFolderRequest	true	"Binding"
//	@Success		200		{object}	models.Settings
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders [put]
func (h *Handler) BindFolder(w http.ResponseWriter, r *http.Request) {
	var req BindFolderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Bind(r.Context(), req.FolderPath, req.PreamblePath); err != nil {
		writeError(w, "bind folder", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Serialize())
}

// UnbindFolder handles DELETE /api/folders/*. An empty path removes the
// vault root binding.
//
//	@Summary		Remove a folder binding
//	@Tags			folders
//	@Param			path	path	string	true	"Folder path"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{path} [delete]
func (h *Handler) UnbindFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Unbind(r.Context(), wildcardPath(r)); err != nil {
		writeError(w, "unbind folder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles GET /api/resolve/*. It does not inject anything.
//
//	@Summary		Resolve the preamble for a document
//	@Tags			resolve
//	@Produce		json
//	@Param			path		path		string	true	"Document path"
//	@Param			override	query		string	false	"Override link, e.g. [[macros]]"
//	@Success		200			{object}	ResolveResponse
//	@Security		BearerAuth
//	@Router			/resolve/{path} [get]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	doc := wildcardPath(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	p, found := h.engine.Resolve(doc, r.URL.Query().Get("override"))
	resp := ResolveResponse{Document: doc, Found: found}
	if found {
		resp.Preamble = p.Path
		resp.Content = p.Content
	}
	writeJSON(w, http.StatusOK, resp)
}

// Render handles POST /api/render/*: the document's own frontmatter override
// is honoured and the preamble is pushed to connected views.
//
//	@Summary		Render-time preamble injection for a document
//	@Tags			resolve
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render/{path} [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	doc := wildcardPath(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.render.Render(r.Context(), doc)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SuggestFiles handles GET /api/suggest/files.
//
//	@Summary		Vault file path completions
//	@Tags			suggest
//	@Produce		json
//	@Param			q	query		string	false	"Substring filter"
//	@Success		200	{object}	SuggestResponse
//	@Security		BearerAuth
//	@Router			/suggest/files [get]
func (h *Handler) SuggestFiles(w http.ResponseWriter, r *http.Request) {
	paths, err := h.render.SuggestFiles(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "suggest files", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestResponse{Paths: paths})
}

// SuggestFolders handles GET /api/suggest/folders.
//
//	@Summary		Vault folder path completions
//	@Tags			suggest
//	@Produce		json
//	@Param			q	query		string	false	"Substring filter"
//	@Success		200	{object}	SuggestResponse
//	@Security		BearerAuth
//	@Router			/suggest/folders [get]
func (h *Handler) SuggestFolders(w http.ResponseWriter, r *http.Request) {
	paths, err := h.render.SuggestFolders(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "suggest folders", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestResponse{Paths: paths})
}
