// Package models defines the domain types for preambled.
package models

// Preamble is a registered preamble source. Its vault path is its identity.
type Preamble struct {
	Path string `json:"path"`
	// Content is the normalized math source. It is meaningful only when Loaded.
	Content  string `json:"content,omitempty"`
	Loaded   bool   `json:"loaded"`
	Checksum string `json:"checksum,omitempty"`
}

// HasContent reports whether there is anything to inject.
func (p Preamble) HasContent() bool {
	return p.Loaded && p.Content != ""
}

// FolderBinding states that documents under FolderPath use PreamblePath by default.
type FolderBinding struct {
	FolderPath   string `json:"folderPath" yaml:"folderPath"`
	PreamblePath string `json:"preamblePath" yaml:"preamblePath"`
}

// PreambleRef is the persisted form of a registered preamble.
type PreambleRef struct {
	Path string `json:"path" yaml:"path"`
}

// Settings is the flat persisted representation of the resolution state.
type Settings struct {
	Preambles       []PreambleRef   `json:"preambles" yaml:"preambles"`
	FolderPreambles []FolderBinding `json:"folderPreambles" yaml:"folderPreambles"`
}
