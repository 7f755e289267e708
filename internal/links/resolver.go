// Package links resolves link-style references to vault file paths.
package links

import (
	"log/slog"
	"path"
	"strings"

	"github.com/starford/preambled/internal/pathutil"
)

// Lookup is the slice of storage the resolver needs.
type Lookup interface {
	Exists(path string) bool
	FindByName(name string) ([]string, error)
}

// Resolver resolves link paths the way the note editor does: relative to the
// linking document first, then from the vault root, then by file name
// anywhere in the vault.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a Resolver over the given storage.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// ResolveLink returns the vault path link points at from sourcePath.
// Aliases (|text), headings (#h) and block references (^id) are ignored.
func (r *Resolver) ResolveLink(link, sourcePath string) (string, bool) {
	link = stripSubpath(link)
	if link == "" {
		return "", false
	}

	if strings.HasPrefix(link, "/") {
		return r.try(pathutil.Normalize(link))
	}

	if dir := pathutil.Parent(pathutil.Normalize(sourcePath)); dir != "" && dir != pathutil.Root {
		if p, ok := r.tryClean(dir + "/" + link); ok {
			return p, true
		}
	}
	if p, ok := r.tryClean(link); ok {
		return p, true
	}
	return r.byName(link)
}

func stripSubpath(link string) string {
	if i := strings.IndexByte(link, '|'); i >= 0 {
		link = link[:i]
	}
	if i := strings.IndexAny(link, "#^"); i >= 0 {
		link = link[:i]
	}
	return strings.TrimSpace(link)
}

// tryClean resolves ./ and ../ segments and rejects paths leaving the vault.
func (r *Resolver) tryClean(p string) (string, bool) {
	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", false
	}
	return r.try(pathutil.Normalize(cleaned))
}

// try accepts p as-is or with a .md extension appended.
func (r *Resolver) try(p string) (string, bool) {
	if p == pathutil.Root {
		return "", false
	}
	if r.lookup.Exists(p) {
		return p, true
	}
	if path.Ext(p) == "" && r.lookup.Exists(p+".md") {
		return p + ".md", true
	}
	return "", false
}

// byName finds the shortest vault path ending with link.
func (r *Resolver) byName(link string) (string, bool) {
	want := pathutil.Normalize(link)
	if want == pathutil.Root || strings.Contains(want, "..") {
		return "", false
	}
	candidates := []string{want}
	if path.Ext(want) == "" {
		candidates = append(candidates, want+".md")
	}
	for _, c := range candidates {
		matches, err := r.lookup.FindByName(path.Base(c))
		if err != nil {
			r.logger.Warn("links: lookup failed", slog.String("link", link), slog.String("error", err.Error()))
			return "", false
		}
		for _, m := range matches {
			if m == c || strings.HasSuffix(m, "/"+c) {
				return m, true
			}
		}
	}
	return "", false
}
