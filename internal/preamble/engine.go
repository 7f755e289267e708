package preamble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/preambled/internal/apperr"
	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/parser"
	"github.com/starford/preambled/internal/pathutil"
)

const defaultReadConcurrency = 8

// Engine owns the content store, the folder binding table and the
// last-rendered marker for one running session.
//
// A single mutex guards all state. File reads, typesetting, persistence and
// rerender requests happen outside it. persistMu orders snapshots with their
// saves so the last committed settings are never older than memory.
type Engine struct {
	mu        sync.Mutex
	persistMu sync.Mutex
	store     *Store
	bindings  *Bindings
	marker    renderMarker
	ready     atomic.Bool

	reader          Reader
	links           LinkResolver
	typesetter      Typesetter
	rerenderer      Rerenderer
	notifier        Notifier
	persister       Persister
	logger          *slog.Logger
	readConcurrency int
}

// renderMarker identifies the last injected preamble by path and content.
type renderMarker struct {
	path     string
	checksum string
}

// Injection reports the outcome of ResolveAndInject.
type Injection struct {
	Preamble models.Preamble
	Found    bool
	Injected bool
}

// New creates an Engine reading preamble files through reader.
func New(reader Reader, opts ...Option) *Engine {
	e := &Engine{
		store:           NewStore(),
		bindings:        NewBindings(),
		reader:          reader,
		links:           vaultLinks{},
		typesetter:      nopCollaborator{},
		rerenderer:      nopCollaborator{},
		notifier:        nopCollaborator{},
		persister:       nopCollaborator{},
		logger:          slog.Default(),
		readConcurrency: defaultReadConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready reports whether the first Deserialize has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Serialize returns the flat persisted representation of the current state.
// Dangling bindings are kept.
func (e *Engine) Serialize() models.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.store.Paths()
	refs := make([]models.PreambleRef, len(paths))
	for i, p := range paths {
		refs[i] = models.PreambleRef{Path: p}
	}
	return models.Settings{
		Preambles:       refs,
		FolderPreambles: e.bindings.All(),
	}
}

// Deserialize replaces the whole state with s, reads every preamble
// concurrently and waits for all reads. Missing files are kept without
// content. Resolutions made while reads are in flight see partial state.
func (e *Engine) Deserialize(_ context.Context, s models.Settings) error {
	store := NewStore()
	bindings := NewBindings()

	type job struct {
		path string
		gen  uint64
	}
	var jobs []job
	for _, ref := range s.Preambles {
		p := pathutil.Normalize(ref.Path)
		if p == pathutil.Root {
			continue
		}
		jobs = append(jobs, job{path: p, gen: store.Put(p)})
	}
	for _, fb := range s.FolderPreambles {
		if pathutil.Normalize(fb.PreamblePath) == pathutil.Root {
			e.logger.Warn("engine: binding without preamble dropped",
				slog.String("folder", fb.FolderPath))
			continue
		}
		bindings.Bind(fb.FolderPath, fb.PreamblePath)
	}

	nPreambles, nBindings := store.Len(), bindings.Len()

	e.mu.Lock()
	e.store = store
	e.bindings = bindings
	e.marker = renderMarker{}
	e.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(e.readConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			e.load(j.path, j.gen)
			return nil
		})
	}
	_ = g.Wait()

	e.ready.Store(true)
	e.logger.Info("engine: settings loaded",
		slog.Int("preambles", nPreambles),
		slog.Int("folder_bindings", nBindings))
	e.rerender()
	return nil
}

// Replace applies settings edited outside the engine: the state is rebuilt,
// views are rerendered and the result is persisted.
func (e *Engine) Replace(ctx context.Context, s models.Settings) error {
	if err := e.Deserialize(ctx, s); err != nil {
		return err
	}
	e.persist(ctx)
	return nil
}

// Register adds (or re-reads) the preamble at path.
func (e *Engine) Register(ctx context.Context, path string) error {
	p := pathutil.Normalize(path)
	if p == pathutil.Root {
		return fmt.Errorf("register %q: %w", path, apperr.ErrInvalidPath)
	}
	e.mu.Lock()
	gen := e.store.Put(p)
	e.mu.Unlock()

	e.load(p, gen)
	e.persist(ctx)
	e.rerender()
	return nil
}

// Unregister removes the preamble at path. Bindings targeting it are kept
// and dangle.
func (e *Engine) Unregister(ctx context.Context, path string) error {
	p := pathutil.Normalize(path)
	e.mu.Lock()
	ok := e.store.Delete(p)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unregister %q: %w", path, apperr.ErrNotFound)
	}
	e.persist(ctx)
	e.rerender()
	return nil
}

// Bind makes documents under folder use the preamble at preamblePath.
func (e *Engine) Bind(ctx context.Context, folder, preamblePath string) error {
	if pathutil.Normalize(preamblePath) == pathutil.Root {
		return fmt.Errorf("bind %q: %w", folder, apperr.ErrInvalidPath)
	}
	e.mu.Lock()
	e.bindings.Bind(folder, preamblePath)
	e.mu.Unlock()

	e.persist(ctx)
	e.rerender()
	return nil
}

// Unbind removes the binding stored for folder.
func (e *Engine) Unbind(ctx context.Context, folder string) error {
	e.mu.Lock()
	ok := e.bindings.Unbind(folder)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unbind %q: %w", folder, apperr.ErrNotFound)
	}
	e.persist(ctx)
	e.rerender()
	return nil
}

// Preambles returns a snapshot of every registered preamble.
func (e *Engine) Preambles() []models.Preamble {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Preamble, 0, e.store.Len())
	for _, p := range e.store.Paths() {
		pre, _ := e.store.Get(p)
		out = append(out, pre)
	}
	return out
}

// Resolve returns the preamble applying to the document at docPath.
//
// A non-empty override that resolves to a registered preamble wins, even if
// that preamble has no content. Otherwise the document's folder and its
// ancestors are searched innermost first and the first binding decides; a
// dangling binding resolves to nothing.
func (e *Engine) Resolve(docPath, override string) (models.Preamble, bool) {
	doc := pathutil.Normalize(docPath)
	target := e.overrideTarget(doc, override)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(doc, target)
}

func (e *Engine) resolveLocked(doc, target string) (models.Preamble, bool) {
	if target != "" {
		if p, ok := e.store.Get(target); ok {
			return p, true
		}
	}
	for _, dir := range pathutil.Ancestors(doc) {
		if bound, ok := e.bindings.Lookup(dir); ok {
			return e.store.Get(bound)
		}
	}
	return models.Preamble{}, false
}

func (e *Engine) overrideTarget(doc, override string) string {
	link := parser.UnwrapLink(override)
	if link == "" {
		return ""
	}
	p, ok := e.links.ResolveLink(link, doc)
	if !ok {
		return ""
	}
	return pathutil.Normalize(p)
}

// ResolveAndInject resolves the preamble for a document and hands its content
// to the typesetter unless it was the last one injected. It is safe to call
// on every keystroke. Failures are logged and reported as not injected.
func (e *Engine) ResolveAndInject(ctx context.Context, docPath, override string) Injection {
	doc := pathutil.Normalize(docPath)
	target := e.overrideTarget(doc, override)

	e.mu.Lock()
	p, found := e.resolveLocked(doc, target)
	res := Injection{Preamble: p, Found: found}
	if !found || !p.HasContent() {
		e.mu.Unlock()
		return res
	}
	mark := renderMarker{path: p.Path, checksum: p.Checksum}
	if e.marker == mark {
		e.mu.Unlock()
		return res
	}
	e.marker = mark
	e.mu.Unlock()

	if err := e.typesetter.Typeset(ctx, p.Content); err != nil {
		e.logger.Warn("engine: typeset failed",
			slog.String("preamble", p.Path),
			slog.String("error", err.Error()))
		e.mu.Lock()
		if e.marker == mark {
			e.marker = renderMarker{}
		}
		e.mu.Unlock()
		return res
	}
	res.Injected = true
	return res
}

// LastRendered returns the path of the most recently injected preamble.
func (e *Engine) LastRendered() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marker.path
}

// load reads path and stores its normalized content for read generation gen.
// It reports whether the stored content changed.
func (e *Engine) load(path string, gen uint64) bool {
	content, loaded := "", false
	data, err := e.reader.Read(path)
	if err != nil {
		e.logger.Warn("engine: preamble read failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		e.notifier.Notify(fmt.Sprintf("Preamble file %s not found.", path))
	} else {
		content, loaded = Normalize(string(data)), true
	}

	e.mu.Lock()
	applied, changed := e.store.SetContent(path, gen, content, loaded)
	e.mu.Unlock()
	if !applied {
		e.logger.Debug("engine: stale read dropped", slog.String("path", path))
	}
	return changed
}

// rerender clears the last-rendered marker and asks views to refresh.
func (e *Engine) rerender() {
	e.mu.Lock()
	e.marker = renderMarker{}
	e.mu.Unlock()
	e.rerenderer.RequestRerenderAll()
}

func (e *Engine) persist(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if err := e.persister.Save(ctx, e.Serialize()); err != nil {
		e.logger.Error("engine: persist settings failed", slog.String("error", err.Error()))
	}
}
