package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/renderservice"
)

// RegisterPreambleRequest is the request body for registering a preamble file.
type RegisterPreambleRequest struct {
	Path string `json:"path" example:"tex/macros.md" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *RegisterPreambleRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required, validation.NotIn("/")),
	)
}

// BindFolderRequest is the request body for binding a folder to a preamble.
type BindFolderRequest struct {
	FolderPath   string `json:"folderPath" example:"notes/analysis"`
	PreamblePath string `json:"preamblePath" example:"tex/macros.md" validate:"required"`
}

// Validate implements validation.Validatable. An empty folder means the vault root.
func (r *BindFolderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PreamblePath, validation.Required, validation.NotIn("/")),
	)
}

// SettingsRequest is the full settings document accepted by PUT /api/settings.
type SettingsRequest models.Settings

// Validate implements validation.Validatable.
func (r *SettingsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Preambles, validation.Each(validation.By(func(v interface{}) error {
			ref, _ := v.(models.PreambleRef)
			return validation.Validate(ref.Path, validation.Required, validation.NotIn("/"))
		}))),
		validation.Field(&r.FolderPreambles, validation.Each(validation.By(func(v interface{}) error {
			fb, _ := v.(models.FolderBinding)
			return validation.Validate(fb.PreamblePath, validation.Required, validation.NotIn("/"))
		}))),
	)
}

// PreambleDTO describes a registered preamble in list responses.
type PreambleDTO struct {
	Path     string `json:"path" example:"tex/macros.md" validate:"required"`
	Loaded   bool   `json:"loaded" example:"true"`
	Checksum string `json:"checksum,omitempty" example:"abc123..."`
	Length   int    `json:"length" example:"512"`
}

func toPreambleDTO(p models.Preamble) PreambleDTO {
	return PreambleDTO{Path: p.Path, Loaded: p.Loaded, Checksum: p.Checksum, Length: len(p.Content)}
}

// PreambleListResponse wraps the registered preambles.
type PreambleListResponse struct {
	Preambles []PreambleDTO `json:"preambles" validate:"required"`
}

// ResolveResponse is returned by GET /api/resolve/*.
type ResolveResponse struct {
	Document string `json:"document" example:"notes/analysis/limits.md" validate:"required"`
	Found    bool   `json:"found"`
	Preamble string `json:"preamble,omitempty" example:"tex/macros.md"`
	Content  string `json:"content,omitempty"`
}

// RenderResponse is returned by POST /api/render/*.
type RenderResponse = renderservice.Result

// SuggestResponse lists path completions.
type SuggestResponse struct {
	Paths []string `json:"paths" validate:"required"`
}
