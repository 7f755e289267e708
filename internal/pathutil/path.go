// Package pathutil normalizes vault paths and answers ancestry questions.
//
// All paths are vault-relative and slash-separated. The vault root is "/".
package pathutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the normalized path of the vault root folder.
const Root = "/"

// Normalize converts p to canonical vault form: forward slashes, no repeated,
// leading or trailing separators, NFC-composed. An empty result is Root.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return Root
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// Parent returns the folder containing p. Top-level entries live in Root;
// Root itself has no parent and yields "".
func Parent(p string) string {
	if p == Root || p == "" {
		return ""
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return Root
	}
	return p[:i]
}

// Ancestors returns the folder containing doc followed by every ancestor up to
// and including Root, innermost first.
func Ancestors(doc string) []string {
	var out []string
	for dir := Parent(doc); dir != ""; dir = Parent(dir) {
		out = append(out, dir)
	}
	return out
}

// IsUnder reports whether p is a strict descendant of folder. The test is
// separator-qualified: "Foo2/x" is not under "Foo".
func IsUnder(p, folder string) bool {
	if p == folder {
		return false
	}
	if folder == Root {
		return p != ""
	}
	return strings.HasPrefix(p, folder+"/")
}

// IsWithin reports whether p equals folder or lies under it.
func IsWithin(p, folder string) bool {
	return p == folder || IsUnder(p, folder)
}

// ReplacePrefix rewrites p when it lies within oldDir, substituting newDir for
// the oldDir prefix. ok is false and p is returned unchanged otherwise.
func ReplacePrefix(p, oldDir, newDir string) (string, bool) {
	switch {
	case p == oldDir:
		return newDir, true
	case !IsUnder(p, oldDir):
		return p, false
	case oldDir == Root:
		return Join(newDir, p), true
	}
	return Join(newDir, p[len(oldDir)+1:]), true
}

// Join joins a folder and a relative path, treating Root as the empty prefix.
func Join(dir, rel string) string {
	if dir == Root || dir == "" {
		return Normalize(rel)
	}
	return Normalize(dir + "/" + rel)
}
