package preamble

import "strings"

const fence = "```"

// Normalize extracts bare math source from a preamble file. The file may hold
// bare source, a fenced code block, or a $$...$$ / $...$ math block. Wrapping
// is peeled until none remains, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		next := stripMath(stripFence(s))
		if next == s {
			return s
		}
		s = next
	}
}

// stripFence removes an opening code fence line (with any language tag) and a
// trailing closing fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, fence) {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = s[len(fence):]
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(s[:len(s)-len(fence)])
	}
	return s
}

// stripMath removes one layer of math delimiters, display delimiters first.
// Delimiters are stripped at either end independently so an unterminated
// block still yields its source. An escaped trailing \$ is content.
func stripMath(s string) string {
	for _, d := range []string{"$$", "$"} {
		open := strings.HasPrefix(s, d)
		closing := hasClosing(s, d)
		if !open && !closing {
			continue
		}
		if open {
			s = strings.TrimSpace(s[len(d):])
		}
		if hasClosing(s, d) {
			s = strings.TrimSpace(s[:len(s)-len(d)])
		}
		return s
	}
	return s
}

func hasClosing(s, d string) bool {
	if !strings.HasSuffix(s, d) {
		return false
	}
	n := 0
	for i := len(s) - len(d) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}
