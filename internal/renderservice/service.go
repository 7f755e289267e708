// Package renderservice drives preamble injection for a document render.
package renderservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/preambled/internal/apperr"
	"github.com/starford/preambled/internal/parser"
	"github.com/starford/preambled/internal/pathutil"
	"github.com/starford/preambled/internal/preamble"
	"github.com/starford/preambled/internal/storage"
)

var errInvalidDoc = fmt.Errorf("render: document path: %w", apperr.ErrInvalidPath)

// Injector resolves and injects the preamble for a document.
type Injector interface {
	ResolveAndInject(ctx context.Context, docPath, override string) preamble.Injection
}

// Result describes one render pass.
type Result struct {
	Document string `json:"document"`
	Override string `json:"override,omitempty"`
	Preamble string `json:"preamble,omitempty"`
	Content  string `json:"content,omitempty"`
	Found    bool   `json:"found"`
	Injected bool   `json:"injected"`
}

// Service coordinates storage reads and the preamble engine.
type Service struct {
	store    storage.Provider
	injector Injector
	logger   *slog.Logger
}

// NewService creates a new render service.
func NewService(store storage.Provider, injector Injector, logger *slog.Logger) *Service {
	return &Service{store: store, injector: injector, logger: logger}
}

// Render reads the document's frontmatter override and injects the
// applicable preamble. A missing or unparsable document renders without an
// override.
func (s *Service) Render(ctx context.Context, docPath string) (*Result, error) {
	doc := pathutil.Normalize(docPath)
	if doc == pathutil.Root {
		return nil, errInvalidDoc
	}

	override := ""
	data, err := s.store.Read(doc)
	switch {
	case err == nil:
		res, parseErr := parser.Parse(data)
		if parseErr != nil {
			s.logger.Warn("render: frontmatter parse failed",
				slog.String("path", doc),
				slog.String("error", parseErr.Error()))
			break
		}
		override = res.Override
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	inj := s.injector.ResolveAndInject(ctx, doc, override)
	out := &Result{
		Document: doc,
		Override: override,
		Found:    inj.Found,
		Injected: inj.Injected,
	}
	if inj.Found {
		out.Preamble = inj.Preamble.Path
		out.Content = inj.Preamble.Content
	}
	return out, nil
}
