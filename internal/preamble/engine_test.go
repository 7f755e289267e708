package preamble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/preambled/internal/apperr"
	"github.com/starford/preambled/internal/models"
)

// memVault is an in-memory Reader.
type memVault struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memVault) Read(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, os.ErrNotExist)
	}
	return []byte(data), nil
}

func (m *memVault) write(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

// recorder captures every outbound collaborator call.
type recorder struct {
	mu        sync.Mutex
	typeset   []string
	rerenders int
	notices   []string
	saved     []models.Settings
	failSet   bool
}

func (r *recorder) Typeset(_ context.Context, markup string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSet {
		return errors.New("typesetter unavailable")
	}
	r.typeset = append(r.typeset, markup)
	return nil
}

func (r *recorder) RequestRerenderAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rerenders++
}

func (r *recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *recorder) Save(_ context.Context, s models.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return nil
}

func (r *recorder) counts() (typeset, rerenders, saves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.typeset), r.rerenders, len(r.saved)
}

// linkFunc adapts a function to LinkResolver.
type linkFunc func(link, source string) (string, bool)

func (f linkFunc) ResolveLink(link, source string) (string, bool) { return f(link, source) }

func testEngine(t *testing.T, files map[string]string, opts ...Option) (*Engine, *memVault, *recorder) {
	t.Helper()
	vault := &memVault{files: files}
	rec := &recorder{}
	base := []Option{
		WithTypesetter(rec),
		WithRerenderer(rec),
		WithNotifier(rec),
		WithPersister(rec),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e := New(vault, append(base, opts...)...)
	return e, vault, rec
}

func mustLoad(t *testing.T, e *Engine, s models.Settings) {
	t.Helper()
	require.NoError(t, e.Deserialize(context.Background(), s))
}

func refs(paths ...string) []models.PreambleRef {
	out := make([]models.PreambleRef, len(paths))
	for i, p := range paths {
		out[i] = models.PreambleRef{Path: p}
	}
	return out
}

func TestResolve_OverrideWinsOverFolder(t *testing.T) {
	e, _, _ := testEngine(t, map[string]string{
		"folder.md":   `\def\a{1}`,
		"override.md": `\def\a{2}`,
	})
	mustLoad(t, e, models.Settings{
		Preambles:       refs("folder.md", "override.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "folder.md"}},
	})

	p, ok := e.Resolve("notes/doc.md", "[[override.md]]")
	require.True(t, ok)
	assert.Equal(t, "override.md", p.Path)

	p, ok = e.Resolve("notes/doc.md", "")
	require.True(t, ok)
	assert.Equal(t, "folder.md", p.Path)
}

func TestResolve_OverrideWithoutContentStillWins(t *testing.T) {
	e, _, rec := testEngine(t, map[string]string{"folder.md": `\def\a{1}`})
	mustLoad(t, e, models.Settings{
		Preambles:       refs("folder.md", "missing.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "folder.md"}},
	})

	p, ok := e.Resolve("notes/doc.md", "missing.md")
	require.True(t, ok)
	assert.Equal(t, "missing.md", p.Path)
	assert.False(t, p.HasContent())

	inj := e.ResolveAndInject(context.Background(), "notes/doc.md", "missing.md")
	assert.True(t, inj.Found)
	assert.False(t, inj.Injected)
	assert.Len(t, rec.notices, 1)
}

func TestResolve_UnresolvableOverrideFallsThrough(t *testing.T) {
	e, _, _ := testEngine(t, map[string]string{"folder.md": "x"},
		WithLinkResolver(linkFunc(func(string, string) (string, bool) { return "", false })))
	mustLoad(t, e, models.Settings{
		Preambles:       refs("folder.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "folder.md"}},
	})

	p, ok := e.Resolve("notes/doc.md", "[[nowhere]]")
	require.True(t, ok)
	assert.Equal(t, "folder.md", p.Path)
}

func TestResolve_OverrideResolvedRelativeToDocument(t *testing.T) {
	var gotSource string
	e, _, _ := testEngine(t, map[string]string{"notes/m.md": "x"},
		WithLinkResolver(linkFunc(func(link, source string) (string, bool) {
			gotSource = source
			return "notes/" + link + ".md", true
		})))
	mustLoad(t, e, models.Settings{Preambles: refs("notes/m.md")})

	p, ok := e.Resolve("/notes/doc.md", "[[m]]")
	require.True(t, ok)
	assert.Equal(t, "notes/m.md", p.Path)
	assert.Equal(t, "notes/doc.md", gotSource)
}

func TestResolve_InnermostAncestorWins(t *testing.T) {
	e, _, _ := testEngine(t, map[string]string{"pa.md": "a", "pb.md": "b"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("pa.md", "pb.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "/a", PreamblePath: "pa.md"},
			{FolderPath: "/a/b", PreamblePath: "pb.md"},
		},
	})

	p, ok := e.Resolve("/a/b/c/doc.md", "")
	require.True(t, ok)
	assert.Equal(t, "pb.md", p.Path)

	p, ok = e.Resolve("/a/x/doc.md", "")
	require.True(t, ok)
	assert.Equal(t, "pa.md", p.Path)
}

func TestResolve_DanglingBindingStopsWalk(t *testing.T) {
	e, _, _ := testEngine(t, map[string]string{"pa.md": "a"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("pa.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "a", PreamblePath: "pa.md"},
			{FolderPath: "a/b", PreamblePath: "gone.md"},
		},
	})

	_, ok := e.Resolve("a/b/doc.md", "")
	assert.False(t, ok, "the first binding found decides, even when dangling")
}

func TestResolve_RootBindingAndNoMatch(t *testing.T) {
	e, _, _ := testEngine(t, map[string]string{"global.md": "g"})
	mustLoad(t, e, models.Settings{Preambles: refs("global.md")})

	_, ok := e.Resolve("any/doc.md", "")
	assert.False(t, ok)

	require.NoError(t, e.Bind(context.Background(), "/", "global.md"))
	p, ok := e.Resolve("any/doc.md", "")
	require.True(t, ok)
	assert.Equal(t, "global.md", p.Path)
}

func TestResolveAndInject_Dedup(t *testing.T) {
	ctx := context.Background()
	e, vault, rec := testEngine(t, map[string]string{"p.md": "$$\\def\\a{1}$$"})
	mustLoad(t, e, models.Settings{
		Preambles:       refs("p.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "p.md"}},
	})

	first := e.ResolveAndInject(ctx, "notes/a.md", "")
	second := e.ResolveAndInject(ctx, "notes/b.md", "")
	assert.True(t, first.Injected)
	assert.False(t, second.Injected)
	assert.Equal(t, []string{`\def\a{1}`}, rec.typeset)

	vault.write("p.md", "$$\\def\\a{2}$$")
	assert.True(t, e.FileModified(ctx, "p.md"))
	assert.Equal(t, "", e.LastRendered())

	third := e.ResolveAndInject(ctx, "notes/a.md", "")
	assert.True(t, third.Injected)
	assert.Equal(t, []string{`\def\a{1}`, `\def\a{2}`}, rec.typeset)
}

func TestResolveAndInject_NewContentInjectedWithoutRerender(t *testing.T) {
	ctx := context.Background()
	e, vault, rec := testEngine(t, map[string]string{"p.md": "$$\\def\\a{1}$$"})
	mustLoad(t, e, models.Settings{
		Preambles:       refs("p.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "/", PreamblePath: "p.md"}},
	})
	require.True(t, e.ResolveAndInject(ctx, "doc.md", "").Injected)

	// Reload behind the marker's back, as a reader racing a watcher reload would.
	vault.write("p.md", "$$\\def\\a{2}$$")
	e.mu.Lock()
	gen, ok := e.store.Touch("p.md")
	e.mu.Unlock()
	require.True(t, ok)
	require.True(t, e.load("p.md", gen))

	inj := e.ResolveAndInject(ctx, "doc.md", "")
	assert.True(t, inj.Injected)
	assert.Equal(t, []string{`\def\a{1}`, `\def\a{2}`}, rec.typeset)
	assert.False(t, e.ResolveAndInject(ctx, "doc.md", "").Injected)
}

func TestResolveAndInject_TypesetFailureRetried(t *testing.T) {
	ctx := context.Background()
	e, _, rec := testEngine(t, map[string]string{"p.md": "x"})
	mustLoad(t, e, models.Settings{
		Preambles:       refs("p.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "/", PreamblePath: "p.md"}},
	})

	rec.failSet = true
	assert.False(t, e.ResolveAndInject(ctx, "doc.md", "").Injected)
	assert.Equal(t, "", e.LastRendered())

	rec.failSet = false
	assert.True(t, e.ResolveAndInject(ctx, "doc.md", "").Injected)
}

func TestFileModified_UnchangedContentSkipsRerender(t *testing.T) {
	ctx := context.Background()
	e, vault, rec := testEngine(t, map[string]string{"p.md": "x"})
	mustLoad(t, e, models.Settings{Preambles: refs("p.md")})
	_, before, _ := rec.counts()

	vault.write("p.md", "  x\n")
	assert.False(t, e.FileModified(ctx, "p.md"))
	assert.False(t, e.FileModified(ctx, "unrelated.md"))

	_, after, _ := rec.counts()
	assert.Equal(t, before, after)
}

func TestFileRenamed_PreservesIdentity(t *testing.T) {
	ctx := context.Background()
	e, _, rec := testEngine(t, map[string]string{"P1.md": "```\n\\def\\x{1}\n```"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("P1.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "a", PreamblePath: "P1.md"},
			{FolderPath: "b", PreamblePath: "P1.md"},
		},
	})

	require.True(t, e.FileRenamed(ctx, "P1.md", "P2.md"))

	pres := e.Preambles()
	require.Len(t, pres, 1)
	assert.Equal(t, "P2.md", pres[0].Path)
	assert.Equal(t, `\def\x{1}`, pres[0].Content)
	assert.Equal(t, []models.FolderBinding{
		{FolderPath: "a", PreamblePath: "P2.md"},
		{FolderPath: "b", PreamblePath: "P2.md"},
	}, e.Serialize().FolderPreambles)

	_, _, saves := rec.counts()
	assert.Equal(t, 1, saves)

	assert.False(t, e.FileRenamed(ctx, "P1.md", "P2.md"), "re-delivery is a no-op")
	_, _, saves = rec.counts()
	assert.Equal(t, 1, saves)
}

func TestFolderRenamed_RewritesBothSides(t *testing.T) {
	ctx := context.Background()
	e, _, _ := testEngine(t, map[string]string{"F/preamble.md": "x", "F2/p.md": "y"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("F/preamble.md", "F2/p.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "F/sub", PreamblePath: "F/preamble.md"},
			{FolderPath: "F2", PreamblePath: "F2/p.md"},
		},
	})

	require.True(t, e.FolderRenamed(ctx, "/F", "/G"))

	s := e.Serialize()
	assert.Equal(t, refs("F2/p.md", "G/preamble.md"), s.Preambles)
	assert.Equal(t, []models.FolderBinding{
		{FolderPath: "F2", PreamblePath: "F2/p.md"},
		{FolderPath: "G/sub", PreamblePath: "G/preamble.md"},
	}, s.FolderPreambles)

	p, ok := e.Resolve("G/sub/doc.md", "")
	require.True(t, ok)
	assert.Equal(t, "x", p.Content)

	assert.False(t, e.FolderRenamed(ctx, "/F", "/G"), "re-delivery is a no-op")
}

func TestFolderDeleted_Cascade(t *testing.T) {
	ctx := context.Background()
	e, _, _ := testEngine(t, map[string]string{"F/a.md": "a", "F/sub/b.md": "b", "keep.md": "k"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("F/a.md", "F/sub/b.md", "keep.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "F", PreamblePath: "keep.md"},
			{FolderPath: "docs", PreamblePath: "F/a.md"},
			{FolderPath: "Foo", PreamblePath: "keep.md"},
		},
	})

	require.True(t, e.FolderDeleted(ctx, "F"))

	s := e.Serialize()
	assert.Equal(t, refs("keep.md"), s.Preambles)
	assert.Equal(t, []models.FolderBinding{{FolderPath: "Foo", PreamblePath: "keep.md"}}, s.FolderPreambles)
	assert.False(t, e.FolderDeleted(ctx, "F"))
}

func TestFileDeleted_RemovesEntryAndBindings(t *testing.T) {
	ctx := context.Background()
	e, _, rec := testEngine(t, map[string]string{"p.md": "x", "q.md": "y"})
	mustLoad(t, e, models.Settings{
		Preambles: refs("p.md", "q.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "a", PreamblePath: "p.md"},
			{FolderPath: "b", PreamblePath: "q.md"},
		},
	})
	_, rerendersBefore, _ := rec.counts()

	require.True(t, e.FileDeleted(ctx, "p.md"))

	s := e.Serialize()
	assert.Equal(t, refs("q.md"), s.Preambles)
	assert.Equal(t, []models.FolderBinding{{FolderPath: "b", PreamblePath: "q.md"}}, s.FolderPreambles)

	_, rerendersAfter, _ := rec.counts()
	assert.Equal(t, rerendersBefore+1, rerendersAfter, "one rerender per triggering event")
}

func TestHandle_Dispatch(t *testing.T) {
	ctx := context.Background()
	e, _, _ := testEngine(t, map[string]string{"d/p.md": "x"})
	mustLoad(t, e, models.Settings{Preambles: refs("d/p.md")})

	assert.True(t, e.Handle(ctx, Event{Kind: EventRenamed, OldPath: "d", Path: "e", IsDir: true}))
	assert.True(t, e.Handle(ctx, Event{Kind: EventRenamed, OldPath: "e/p.md", Path: "e/q.md"}))
	assert.True(t, e.Handle(ctx, Event{Kind: EventDeleted, Path: "e/q.md"}))
	assert.Empty(t, e.Preambles())
	assert.Equal(t, "renamed", EventRenamed.String())
}

func TestEndToEnd_FencedPreambleFollowsFolderRename(t *testing.T) {
	ctx := context.Background()
	e, _, _ := testEngine(t, map[string]string{
		"macros.md": "```\n\\newcommand{\\R}{\\mathbb{R}}\n```",
	})
	require.NoError(t, e.Register(ctx, "macros.md"))
	require.NoError(t, e.Bind(ctx, "/notes", "macros.md"))

	p, ok := e.Resolve("/notes/x.md", "")
	require.True(t, ok)
	assert.Equal(t, `\newcommand{\R}{\mathbb{R}}`, p.Content)

	require.True(t, e.FolderRenamed(ctx, "/notes", "/papers"))

	p, ok = e.Resolve("/papers/x.md", "")
	require.True(t, ok)
	assert.Equal(t, `\newcommand{\R}{\mathbb{R}}`, p.Content)
}

func TestSerialize_RoundTripKeepsDangling(t *testing.T) {
	in := models.Settings{
		Preambles: refs("a.md", "b.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "x", PreamblePath: "a.md"},
			{FolderPath: "y", PreamblePath: "nowhere.md"},
		},
	}
	e, _, _ := testEngine(t, map[string]string{"a.md": "a"})
	mustLoad(t, e, in)

	out := e.Serialize()
	assert.Equal(t, in, out)

	again, _, _ := testEngine(t, map[string]string{})
	mustLoad(t, again, out)
	assert.Equal(t, in, again.Serialize())
}

func TestDeserialize_ReadyAndSingleRerender(t *testing.T) {
	e, _, rec := testEngine(t, map[string]string{"a.md": "a"})
	assert.False(t, e.Ready())

	mustLoad(t, e, models.Settings{Preambles: refs("a.md", "missing.md", "")})

	assert.True(t, e.Ready())
	_, rerenders, saves := rec.counts()
	assert.Equal(t, 1, rerenders)
	assert.Equal(t, 0, saves, "restoring settings does not write them back")
	assert.Equal(t, []string{"Preamble file missing.md not found."}, rec.notices)
	assert.Len(t, e.Preambles(), 2)
}

func TestSettingsCRUD(t *testing.T) {
	ctx := context.Background()
	e, _, rec := testEngine(t, map[string]string{"p.md": "x"})

	require.ErrorIs(t, e.Register(ctx, "/"), apperr.ErrInvalidPath)
	require.ErrorIs(t, e.Bind(ctx, "notes", ""), apperr.ErrInvalidPath)
	require.ErrorIs(t, e.Unbind(ctx, "notes"), apperr.ErrNotFound)
	require.ErrorIs(t, e.Unregister(ctx, "p.md"), apperr.ErrNotFound)

	require.NoError(t, e.Register(ctx, "p.md"))
	require.NoError(t, e.Bind(ctx, "notes", "p.md"))
	require.NoError(t, e.Unbind(ctx, "notes"))
	require.NoError(t, e.Unregister(ctx, "p.md"))

	_, _, saves := rec.counts()
	assert.Equal(t, 4, saves)
	assert.Equal(t, models.Settings{Preambles: []models.PreambleRef{}, FolderPreambles: []models.FolderBinding{}}, e.Serialize())
}

func TestDeserialize_LogsDroppedBinding(t *testing.T) {
	var buf bytes.Buffer
	e, _, _ := testEngine(t, map[string]string{"p.md": "x"},
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	mustLoad(t, e, models.Settings{
		Preambles: refs("p.md"),
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "kept", PreamblePath: "p.md"},
			{FolderPath: "lost", PreamblePath: "/"},
		},
	})

	assert.Equal(t, []models.FolderBinding{{FolderPath: "kept", PreamblePath: "p.md"}}, e.Serialize().FolderPreambles)
	assert.Contains(t, buf.String(), "binding without preamble dropped")
	assert.Contains(t, buf.String(), "folder=lost")
}

// gatedPersister blocks its first Save until release is closed.
type gatedPersister struct {
	mu      sync.Mutex
	saved   []models.Settings
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPersister) Save(_ context.Context, s models.Settings) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = append(g.saved, s)
	return nil
}

func (g *gatedPersister) last() models.Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saved[len(g.saved)-1]
}

func TestPersist_LastSaveMatchesMemory(t *testing.T) {
	ctx := context.Background()
	gate := &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
	e, _, _ := testEngine(t, map[string]string{}, WithPersister(gate))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Bind(ctx, "a", "p.md"))
	}()
	<-gate.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Bind(ctx, "b", "q.md"))
	}()
	require.Eventually(t, func() bool {
		return len(e.Serialize().FolderPreambles) == 2
	}, time.Second, 5*time.Millisecond)
	close(gate.release)
	wg.Wait()

	want := []models.FolderBinding{
		{FolderPath: "a", PreamblePath: "p.md"},
		{FolderPath: "b", PreamblePath: "q.md"},
	}
	assert.Equal(t, want, e.Serialize().FolderPreambles)
	assert.Equal(t, want, gate.last().FolderPreambles)
}

func TestReplace_PersistsAndRerenders(t *testing.T) {
	e, _, rec := testEngine(t, map[string]string{"p.md": "x"})
	s := models.Settings{
		Preambles:       refs("p.md"),
		FolderPreambles: []models.FolderBinding{{FolderPath: "n", PreamblePath: "p.md"}},
	}
	require.NoError(t, e.Replace(context.Background(), s))

	_, rerenders, saves := rec.counts()
	assert.Equal(t, 1, rerenders)
	assert.Equal(t, 1, saves)
	assert.Equal(t, s, rec.saved[0])
}

func TestConcurrentEventsDuringResolution(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{}
	var paths []string
	for i := 0; i < 50; i++ {
		p := fmt.Sprintf("F/p%02d.md", i)
		files[p] = p
		paths = append(paths, p)
	}
	e, _, _ := testEngine(t, files, WithReadConcurrency(4))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Deserialize(ctx, models.Settings{
			Preambles:       refs(paths...),
			FolderPreambles: []models.FolderBinding{{FolderPath: "docs", PreamblePath: "F/p00.md"}},
		}))
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			e.Resolve("docs/x.md", "")
			e.ResolveAndInject(ctx, "docs/x.md", "")
		}
	}()
	wg.Wait()

	require.True(t, e.FolderRenamed(ctx, "F", "G"))
	p, ok := e.Resolve("docs/x.md", "")
	require.True(t, ok)
	assert.Equal(t, "G/p00.md", p.Path)
	assert.Len(t, e.Preambles(), 50)
}
