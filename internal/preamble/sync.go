package preamble

import (
	"context"
	"log/slog"

	"github.com/starford/preambled/internal/pathutil"
)

// EventKind classifies a vault change notification.
type EventKind int

const (
	EventModified EventKind = iota
	EventRenamed
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventModified:
		return "modified"
	case EventRenamed:
		return "renamed"
	case EventDeleted:
		return "deleted"
	}
	return "unknown"
}

// Event is a change notification from the storage layer. OldPath is set for
// renames only.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
	IsDir   bool
}

// Handle dispatches ev to the matching handler and reports whether the
// resolution state changed.
func (e *Engine) Handle(ctx context.Context, ev Event) bool {
	switch {
	case ev.Kind == EventModified && !ev.IsDir:
		return e.FileModified(ctx, ev.Path)
	case ev.Kind == EventRenamed && ev.IsDir:
		return e.FolderRenamed(ctx, ev.OldPath, ev.Path)
	case ev.Kind == EventRenamed:
		return e.FileRenamed(ctx, ev.OldPath, ev.Path)
	case ev.Kind == EventDeleted && ev.IsDir:
		return e.FolderDeleted(ctx, ev.Path)
	case ev.Kind == EventDeleted:
		return e.FileDeleted(ctx, ev.Path)
	}
	return false
}

// FileModified re-reads a registered preamble. Views are rerendered only
// when the normalized content actually changed.
func (e *Engine) FileModified(_ context.Context, path string) bool {
	p := pathutil.Normalize(path)
	e.mu.Lock()
	gen, ok := e.store.Touch(p)
	e.mu.Unlock()
	if !ok {
		return false
	}
	if !e.load(p, gen) {
		return false
	}
	e.logger.Debug("engine: preamble reloaded", slog.String("path", p))
	e.rerender()
	return true
}

// FileRenamed moves a preamble entry to its new path and retargets every
// binding that pointed at the old path.
func (e *Engine) FileRenamed(ctx context.Context, oldPath, newPath string) bool {
	o, n := pathutil.Normalize(oldPath), pathutil.Normalize(newPath)
	if o == n {
		return false
	}
	e.mu.Lock()
	moved := e.store.Rekey(o, n)
	retargeted := e.bindings.Retarget(o, n)
	e.mu.Unlock()

	if !moved && retargeted == 0 {
		return false
	}
	e.logger.Debug("engine: file renamed",
		slog.String("old", o), slog.String("new", n),
		slog.Bool("preamble_moved", moved), slog.Int("bindings", retargeted))
	e.persist(ctx)
	e.rerender()
	return true
}

// FolderRenamed rewrites the folder prefix on every preamble entry under the
// folder and on both sides of every binding within it.
func (e *Engine) FolderRenamed(ctx context.Context, oldPath, newPath string) bool {
	o, n := pathutil.Normalize(oldPath), pathutil.Normalize(newPath)
	if o == n || o == pathutil.Root || n == pathutil.Root {
		return false
	}
	e.mu.Lock()
	moved := e.store.RewriteUnder(o, n)
	rebound := e.bindings.MoveFolder(o, n)
	e.mu.Unlock()

	if moved == 0 && rebound == 0 {
		return false
	}
	e.logger.Debug("engine: folder renamed",
		slog.String("old", o), slog.String("new", n),
		slog.Int("preambles", moved), slog.Int("bindings", rebound))
	e.persist(ctx)
	e.rerender()
	return true
}

// FileDeleted drops a preamble entry and every binding targeting it.
func (e *Engine) FileDeleted(ctx context.Context, path string) bool {
	p := pathutil.Normalize(path)
	e.mu.Lock()
	deleted := e.store.Delete(p)
	unbound := e.bindings.RemoveTarget(p)
	e.mu.Unlock()

	if !deleted && unbound == 0 {
		return false
	}
	e.logger.Debug("engine: file deleted",
		slog.String("path", p), slog.Bool("preamble", deleted), slog.Int("bindings", unbound))
	e.persist(ctx)
	e.rerender()
	return true
}

// FolderDeleted drops every preamble entry under the folder and every
// binding whose folder or target lies within it.
func (e *Engine) FolderDeleted(ctx context.Context, path string) bool {
	p := pathutil.Normalize(path)
	if p == pathutil.Root {
		return false
	}
	e.mu.Lock()
	removed := e.store.RemoveUnder(p)
	unbound := e.bindings.RemoveWithin(p)
	e.mu.Unlock()

	if len(removed) == 0 && unbound == 0 {
		return false
	}
	e.logger.Debug("engine: folder deleted",
		slog.String("path", p), slog.Int("preambles", len(removed)), slog.Int("bindings", unbound))
	e.persist(ctx)
	e.rerender()
	return true
}
