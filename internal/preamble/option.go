package preamble

import (
	"context"
	"log/slog"

	"github.com/starford/preambled/internal/models"
	"github.com/starford/preambled/internal/pathutil"
)

// Reader reads raw preamble file bytes by vault path.
type Reader interface {
	Read(path string) ([]byte, error)
}

// LinkResolver turns a link-style reference into a vault path, relative to
// the document that holds it.
type LinkResolver interface {
	ResolveLink(link, sourcePath string) (string, bool)
}

// Typesetter registers preamble markup with the math engine without
// producing visible output.
type Typesetter interface {
	Typeset(ctx context.Context, markup string) error
}

// Rerenderer asks every open document view to recompute its rendering.
type Rerenderer interface {
	RequestRerenderAll()
}

// Notifier surfaces a non-fatal diagnostic to the user.
type Notifier interface {
	Notify(message string)
}

// Persister stores the flat settings representation.
type Persister interface {
	Save(ctx context.Context, s models.Settings) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLinkResolver sets the service used to resolve per-document overrides.
func WithLinkResolver(r LinkResolver) Option {
	return func(e *Engine) { e.links = r }
}

// WithTypesetter sets the outbound math engine call.
func WithTypesetter(t Typesetter) Option {
	return func(e *Engine) { e.typesetter = t }
}

// WithRerenderer sets the rerender trigger.
func WithRerenderer(r Rerenderer) Option {
	return func(e *Engine) { e.rerenderer = r }
}

// WithNotifier sets the user-facing diagnostic sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPersister sets where settings are saved after binding-affecting changes.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithReadConcurrency bounds parallel preamble reads during Deserialize.
func WithReadConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.readConcurrency = n
		}
	}
}

type nopCollaborator struct{}

func (nopCollaborator) Typeset(context.Context, string) error { return nil }

func (nopCollaborator) RequestRerenderAll() {}

func (nopCollaborator) Notify(string) {}

func (nopCollaborator) Save(context.Context, models.Settings) error { return nil }

// vaultLinks resolves a link as a vault-root path.
type vaultLinks struct{}

func (vaultLinks) ResolveLink(link, _ string) (string, bool) {
	p := pathutil.Normalize(link)
	return p, p != pathutil.Root
}
