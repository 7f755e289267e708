package preamble

import (
	"sort"

	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/pathutil"
)

// Bindings maps a folder path to the path of the preamble that applies to
// documents under it. Targets may dangle. Not safe for concurrent use.
type Bindings struct {
	byFolder map[string]string
}

// NewBindings returns an empty folder binding table.
func NewBindings() *Bindings {
	return &Bindings{byFolder: make(map[string]string)}
}

// Bind stores or overwrites the binding for folder.
func (b *Bindings) Bind(folder, preamblePath string) {
	b.byFolder[pathutil.Normalize(folder)] = pathutil.Normalize(preamblePath)
}

// Unbind removes the binding for folder.
func (b *Bindings) Unbind(folder string) bool {
	folder = pathutil.Normalize(folder)
	if _, ok := b.byFolder[folder]; !ok {
		return false
	}
	delete(b.byFolder, folder)
	return true
}

// Lookup returns the preamble bound directly to folder. It does not walk ancestors.
func (b *Bindings) Lookup(folder string) (string, bool) {
	p, ok := b.byFolder[folder]
	return p, ok
}

// Retarget points every binding targeting oldPath at newPath.
func (b *Bindings) Retarget(oldPath, newPath string) int {
	n := 0
	for folder, target := range b.byFolder {
		if target == oldPath {
			b.byFolder[folder] = newPath
			n++
		}
	}
	return n
}

// RemoveTarget drops every binding targeting path.
func (b *Bindings) RemoveTarget(path string) int {
	n := 0
	for folder, target := range b.byFolder {
		if target == path {
			delete(b.byFolder, folder)
			n++
		}
	}
	return n
}

// MoveFolder applies a folder rename to both sides of every binding: keys
// within oldDir are re-keyed, and targets under oldDir are rewritten. A moved
// key replaces a stale binding already stored at its new location.
func (b *Bindings) MoveFolder(oldDir, newDir string) int {
	next := make(map[string]string, len(b.byFolder))
	moved := make(map[string]string)
	for folder, target := range b.byFolder {
		newFolder, keyMoved := pathutil.ReplacePrefix(folder, oldDir, newDir)
		newTarget, targetMoved := target, false
		if pathutil.IsUnder(target, oldDir) {
			newTarget, targetMoved = pathutil.ReplacePrefix(target, oldDir, newDir)
		}
		switch {
		case keyMoved:
			moved[newFolder] = newTarget
		case targetMoved:
			moved[folder] = newTarget
		default:
			next[folder] = target
		}
	}
	for folder, target := range moved {
		next[folder] = target
	}
	b.byFolder = next
	return len(moved)
}

// RemoveWithin drops every binding whose folder or target lies within dir.
func (b *Bindings) RemoveWithin(dir string) int {
	n := 0
	for folder, target := range b.byFolder {
		if pathutil.IsWithin(folder, dir) || pathutil.IsWithin(target, dir) {
			delete(b.byFolder, folder)
			n++
		}
	}
	return n
}

// All returns every binding ordered by folder path.
func (b *Bindings) All() []models.FolderBinding {
	out := make([]models.FolderBinding, 0, len(b.byFolder))
	for folder, target := range b.byFolder {
		out = append(out, models.FolderBinding{FolderPath: folder, PreamblePath: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FolderPath < out[j].FolderPath })
	return out
}

// Len returns the number of bindings.
func (b *Bindings) Len() int {
	return len(b.byFolder)
}
