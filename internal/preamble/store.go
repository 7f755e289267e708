package preamble

import (
	"sort"

	"github.com/starford/preambled/internal/checksum"
	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/pathutil"
)

// entry is a Content Store slot. gen increases on every read scheduled for
// the slot so that a superseded read cannot overwrite a newer result.
type entry struct {
	preamble models.Preamble
	gen      uint64
}

// Store maps a preamble path to its last-read, normalized content.
// It is not safe for concurrent use; Engine serializes access.
type Store struct {
	entries map[string]*entry
	gen     uint64
}

// NewStore returns an empty content store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Put registers path with no content, replacing any existing entry.
// It returns the read generation the caller must present to SetContent.
func (s *Store) Put(path string) uint64 {
	s.gen++
	s.entries[path] = &entry{preamble: models.Preamble{Path: path}, gen: s.gen}
	return s.gen
}

// Touch starts a new read generation for an existing entry.
func (s *Store) Touch(path string) (uint64, bool) {
	e, ok := s.entries[path]
	if !ok {
		return 0, false
	}
	s.gen++
	e.gen = s.gen
	return e.gen, true
}

// SetContent stores the result of the read identified by gen. A read that
// was superseded, or whose entry has since been removed or renamed, is
// dropped. changed reports whether the stored content differs from before.
func (s *Store) SetContent(path string, gen uint64, content string, loaded bool) (applied, changed bool) {
	e, ok := s.entries[path]
	if !ok || e.gen != gen {
		return false, false
	}
	sum := ""
	if loaded {
		sum = checksum.String(content)
	}
	changed = e.preamble.Loaded != loaded || e.preamble.Checksum != sum
	e.preamble.Content = content
	e.preamble.Loaded = loaded
	e.preamble.Checksum = sum
	return true, changed
}

// Get returns a copy of the entry stored at path.
func (s *Store) Get(path string) (models.Preamble, bool) {
	e, ok := s.entries[path]
	if !ok {
		return models.Preamble{}, false
	}
	return e.preamble, true
}

// Has reports whether path is registered.
func (s *Store) Has(path string) bool {
	_, ok := s.entries[path]
	return ok
}

// Delete removes the entry at path.
func (s *Store) Delete(path string) bool {
	if _, ok := s.entries[path]; !ok {
		return false
	}
	delete(s.entries, path)
	return true
}

// Rekey moves the entry at oldPath to newPath keeping its content.
// An entry already at newPath is replaced.
func (s *Store) Rekey(oldPath, newPath string) bool {
	e, ok := s.entries[oldPath]
	if !ok || oldPath == newPath {
		return false
	}
	delete(s.entries, oldPath)
	e.preamble.Path = newPath
	s.entries[newPath] = e
	return true
}

// RewriteUnder re-keys every entry living under oldDir to the same relative
// location under newDir. It returns the number of moved entries.
func (s *Store) RewriteUnder(oldDir, newDir string) int {
	moved := make(map[string]string)
	for p := range s.entries {
		if !pathutil.IsUnder(p, oldDir) {
			continue
		}
		if np, ok := pathutil.ReplacePrefix(p, oldDir, newDir); ok && np != p {
			moved[p] = np
		}
	}
	// Two passes so that a rewritten key never collides with one not yet visited.
	staged := make(map[string]*entry, len(moved))
	for oldPath, newPath := range moved {
		e := s.entries[oldPath]
		delete(s.entries, oldPath)
		e.preamble.Path = newPath
		staged[newPath] = e
	}
	for p, e := range staged {
		s.entries[p] = e
	}
	return len(moved)
}

// RemoveUnder deletes every entry living under dir and returns their paths.
func (s *Store) RemoveUnder(dir string) []string {
	var removed []string
	for p := range s.entries {
		if pathutil.IsUnder(p, dir) {
			removed = append(removed, p)
		}
	}
	for _, p := range removed {
		delete(s.entries, p)
	}
	sort.Strings(removed)
	return removed
}

// Paths returns every registered path in lexical order.
func (s *Store) Paths() []string {
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered preambles.
func (s *Store) Len() int {
	return len(s.entries)
}
