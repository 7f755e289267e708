// Package storage defines the vault file-system abstraction.
package storage

import "time"

// FileInfo describes one vault file.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the read-only view of the vault used by resolution and
// rendering. Paths are slash-separated and relative to the vault root.
type Provider interface {
	// List returns every visible file under dir.
	List(dir string) ([]FileInfo, error)
	// ListDirs returns every visible folder under dir.
	ListDirs(dir string) ([]string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// FindByName returns every file whose base name is name, shortest path first.
	FindByName(name string) ([]string, error)
}
