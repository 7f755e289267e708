// Package watcher translates file-system notifications into preamble engine
// events.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/preambled/internal/pathutil"
	"github.com/starford/preambled/internal/preamble"
	"github.com/starford/preambled/internal/storage"
)

// DefaultRenameWindow is how long a Rename waits for its matching Create.
const DefaultRenameWindow = 150 * time.Millisecond

// Handler consumes translated events.
type Handler interface {
	Handle(ctx context.Context, ev preamble.Event) bool
}

// EventCallback is called after each dispatched event with the handler's
// result.
type EventCallback func(ev preamble.Event, changed bool)

// pendingRename is a Rename whose destination has not been seen yet.
type pendingRename struct {
	path  string
	isDir bool
}

type watcher struct {
	w      *fsnotify.Watcher
	h      Handler
	store  *storage.FS
	logger *slog.Logger
	cb     EventCallback

	// dirs tracks every watched vault folder so that Remove and Rename
	// events for paths that no longer exist can still be classified.
	dirs map[string]struct{}
	// moved holds folders just renamed away; their own watch may still
	// report a late Rename.
	moved map[string]struct{}
}

// Watch watches the vault rooted at store until ctx is cancelled.
//
// fsnotify reports a rename as Rename on the old path followed by Create on
// the new one. A Rename is held for renameWindow; if a Create arrives in
// that time the pair becomes a single rename event, otherwise the old path
// is treated as deleted (moved out of the vault).
func Watch(ctx context.Context, h Handler, store *storage.FS, renameWindow time.Duration, logger *slog.Logger, cb EventCallback) error {
	if renameWindow <= 0 {
		renameWindow = DefaultRenameWindow
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	wt := &watcher{w: fw, h: h, store: store, logger: logger, cb: cb, dirs: make(map[string]struct{}), moved: make(map[string]struct{})}
	if err := wt.addDirsRecursive(store.Root()); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", store.Root()), slog.Int("dirs", len(wt.dirs)))

	var pending *pendingRename
	var pendingTimer *time.Timer
	var pendingCh <-chan time.Time

	hold := func(p pendingRename) {
		pending = &p
		if pendingTimer == nil {
			pendingTimer = time.NewTimer(renameWindow)
			pendingCh = pendingTimer.C
		} else {
			pendingTimer.Reset(renameWindow)
		}
	}
	release := func() {
		pending = nil
		if pendingTimer != nil {
			pendingTimer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if pendingTimer != nil {
				pendingTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-pendingCh:
			if pending != nil {
				wt.deleted(ctx, pending.path, pending.isDir)
				pending = nil
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, err := store.Rel(ev.Name)
			if err != nil || rel == "." || hiddenPath(rel) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Rename != 0:
				if pending != nil && pending.path == rel {
					// A renamed watched folder reports Rename twice.
					continue
				}
				if _, late := wt.moved[rel]; late {
					delete(wt.moved, rel)
					continue
				}
				if pending != nil {
					wt.deleted(ctx, pending.path, pending.isDir)
				}
				_, isDir := wt.dirs[rel]
				hold(pendingRename{path: rel, isDir: isDir})

			case ev.Op&fsnotify.Create != 0:
				info, statErr := os.Stat(ev.Name)
				if statErr != nil {
					continue
				}
				delete(wt.moved, rel)
				if pending != nil {
					from := *pending
					release()
					wt.renamed(ctx, from, rel, info.IsDir())
					continue
				}
				if info.IsDir() {
					wt.folderCreated(ctx, ev.Name)
					continue
				}
				wt.dispatch(ctx, preamble.Event{Kind: preamble.EventModified, Path: rel})

			case ev.Op&fsnotify.Write != 0:
				if _, isDir := wt.dirs[rel]; isDir {
					continue
				}
				wt.dispatch(ctx, preamble.Event{Kind: preamble.EventModified, Path: rel})

			case ev.Op&fsnotify.Remove != 0:
				if pending != nil && pending.path == rel {
					continue
				}
				_, isDir := wt.dirs[rel]
				wt.deleted(ctx, rel, isDir)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (wt *watcher) dispatch(ctx context.Context, ev preamble.Event) {
	changed := wt.h.Handle(ctx, ev)
	wt.logger.Debug("watcher: event",
		slog.String("kind", ev.Kind.String()),
		slog.String("path", ev.Path),
		slog.String("old_path", ev.OldPath),
		slog.Bool("dir", ev.IsDir),
		slog.Bool("changed", changed))
	if wt.cb != nil {
		wt.cb(ev, changed)
	}
}

func (wt *watcher) renamed(ctx context.Context, from pendingRename, to string, isDir bool) {
	if from.isDir || isDir {
		wt.forgetDirs(from.path)
		wt.moved[from.path] = struct{}{}
		if err := wt.addDirsRecursive(filepath.Join(wt.store.Root(), filepath.FromSlash(to))); err != nil {
			wt.logger.Warn("watcher: rewatch failed", slog.String("path", to), slog.String("error", err.Error()))
		}
		wt.dispatch(ctx, preamble.Event{Kind: preamble.EventRenamed, OldPath: from.path, Path: to, IsDir: true})
		return
	}
	wt.dispatch(ctx, preamble.Event{Kind: preamble.EventRenamed, OldPath: from.path, Path: to})
	// Content may differ from what was loaded under the old path.
	wt.dispatch(ctx, preamble.Event{Kind: preamble.EventModified, Path: to})
}

func (wt *watcher) deleted(ctx context.Context, rel string, isDir bool) {
	if isDir {
		wt.forgetDirs(rel)
	}
	wt.dispatch(ctx, preamble.Event{Kind: preamble.EventDeleted, Path: rel, IsDir: isDir})
}

// folderCreated watches a new folder and reports the files already inside it,
// which happens when a folder is moved in from outside the vault.
func (wt *watcher) folderCreated(ctx context.Context, abs string) {
	if err := wt.addDirsRecursive(abs); err != nil {
		wt.logger.Warn("watcher: add new dir failed", slog.String("path", abs), slog.String("error", err.Error()))
		return
	}
	_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := wt.store.Rel(p)
		if relErr != nil || hiddenPath(rel) {
			return nil
		}
		wt.dispatch(ctx, preamble.Event{Kind: preamble.EventModified, Path: rel})
		return nil
	})
}

// addDirsRecursive adds root and all its visible subdirectories to the watcher.
func (wt *watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != wt.store.Root() && storage.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := wt.w.Add(p); err != nil {
			return err
		}
		if rel, relErr := wt.store.Rel(p); relErr == nil && rel != "." {
			wt.dirs[rel] = struct{}{}
		}
		return nil
	})
}

// forgetDirs drops dir and everything below it from the tracked set.
func (wt *watcher) forgetDirs(dir string) {
	for d := range wt.dirs {
		if pathutil.IsWithin(d, dir) {
			delete(wt.dirs, d)
			_ = wt.w.Remove(filepath.Join(wt.store.Root(), filepath.FromSlash(d)))
		}
	}
}

func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if storage.Hidden(seg) {
			return true
		}
	}
	return false
}
