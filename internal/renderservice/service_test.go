package renderservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/preambled/internal/apperr"
	"github.com/starford/preambled/internal/links"
	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/preamble"
	"github.com/starford/preambled/internal/storage"
)

type typesetLog struct {
	mu     sync.Mutex
	markup []string
}

func (l *typesetLog) Typeset(_ context.Context, markup string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markup = append(l.markup, markup)
	return nil
}

func setup(t *testing.T, files map[string]string) (*Service, *preamble.Engine, *typesetLog) {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	store, err := storage.NewFS(dir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &typesetLog{}
	eng := preamble.New(store,
		preamble.WithLinkResolver(links.NewResolver(store, logger)),
		preamble.WithTypesetter(ts),
		preamble.WithLogger(logger),
	)
	return NewService(store, eng, logger), eng, ts
}

func TestRender_FolderBinding(t *testing.T) {
	svc, eng, ts := setup(t, map[string]string{
		"macros.md":      "$$\\newcommand{\\R}{\\mathbb{R}}$$",
		"notes/topic.md": "# Topic\n$x \\in \\R$",
	})
	ctx := context.Background()
	require.NoError(t, eng.Deserialize(ctx, models.Settings{
		Preambles:       []models.PreambleRef{{Path: "macros.md"}},
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "macros.md"}},
	}))

	res, err := svc.Render(ctx, "notes/topic.md")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.Injected)
	assert.Equal(t, "macros.md", res.Preamble)
	assert.Equal(t, []string{"\\newcommand{\\R}{\\mathbb{R}}"}, ts.markup)

	// Same preamble again is not re-injected.
	res, err = svc.Render(ctx, "notes/topic.md")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Injected)
}

func TestRender_FrontmatterOverrideWins(t *testing.T) {
	svc, eng, _ := setup(t, map[string]string{
		"macros.md":      "\\def\\a{1}",
		"alt/special.md": "\\def\\b{2}",
		"notes/doc.md":   "---\npreamble: \"[[special]]\"\n---\nbody",
	})
	ctx := context.Background()
	require.NoError(t, eng.Deserialize(ctx, models.Settings{
		Preambles:       []models.PreambleRef{{Path: "macros.md"}, {Path: "alt/special.md"}},
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "macros.md"}},
	}))

	res, err := svc.Render(ctx, "notes/doc.md")
	require.NoError(t, err)
	assert.Equal(t, "[[special]]", res.Override)
	assert.Equal(t, "alt/special.md", res.Preamble)
	assert.Equal(t, "\\def\\b{2}", res.Content)
}

func TestRender_MissingDocumentUsesFolder(t *testing.T) {
	svc, eng, _ := setup(t, map[string]string{"macros.md": "\\def\\a{1}"})
	ctx := context.Background()
	require.NoError(t, eng.Deserialize(ctx, models.Settings{
		Preambles:       []models.PreambleRef{{Path: "macros.md"}},
		FolderPreambles: []models.FolderBinding{{FolderPath: "/", PreamblePath: "macros.md"}},
	}))

	res, err := svc.Render(ctx, "drafts/unsaved.md")
	require.NoError(t, err)
	assert.Empty(t, res.Override)
	assert.True(t, res.Found)
	assert.Equal(t, "macros.md", res.Preamble)
}

func TestRender_NoPreamble(t *testing.T) {
	svc, _, ts := setup(t, map[string]string{"doc.md": "plain"})

	res, err := svc.Render(context.Background(), "doc.md")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.False(t, res.Injected)
	assert.Empty(t, ts.markup)
}

func TestRender_RootRejected(t *testing.T) {
	svc, _, _ := setup(t, nil)
	_, err := svc.Render(context.Background(), "/")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPath))
}

func TestSuggest(t *testing.T) {
	svc, _, _ := setup(t, map[string]string{
		"macros.md":           "x",
		"Tex/Preamble.md":     "x",
		"math/notes/a.md":     "x",
		".obsidian/config.md": "x",
	})

	files, err := svc.SuggestFiles("PREAMBLE")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tex/Preamble.md"}, files)

	all, err := svc.SuggestFiles("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	folders, err := svc.SuggestFolders("")
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "Tex", "math", "math/notes"}, folders)

	folders, err = svc.SuggestFolders("notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"math/notes"}, folders)
}
