package renderservice

import (
	"sort"
	"strings"

	"github.com/starford/preambled/internal/pathutil"
)

// SuggestLimit caps the number of path suggestions returned.
const SuggestLimit = 50

// SuggestFiles lists vault files whose path contains query, case-insensitively.
func (s *Service) SuggestFiles(query string) ([]string, error) {
	files, err := s.store.List("")
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return filterPaths(paths, query), nil
}

// SuggestFolders lists vault folders, the root included, whose path contains
// query, case-insensitively.
func (s *Service) SuggestFolders(query string) ([]string, error) {
	dirs, err := s.store.ListDirs("")
	if err != nil {
		return nil, err
	}
	return filterPaths(append([]string{pathutil.Root}, dirs...), query), nil
}

func filterPaths(paths []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if q == "" || strings.Contains(strings.ToLower(p), q) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	if len(out) > SuggestLimit {
		out = out[:SuggestLimit]
	}
	return out
}
