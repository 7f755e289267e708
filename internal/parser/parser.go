// Package parser extracts frontmatter and the preamble override from Markdown content.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// OverrideKey is the frontmatter field naming a document's preamble.
const OverrideKey = "preamble"

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Override    string
}

// Parse extracts frontmatter, body, and the preamble override from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Override:    Override(fm),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the document has no override.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// Override returns the preamble reference declared in frontmatter, or "".
// An unquoted [[link]] is read by YAML as a nested list; it is folded back
// into wikilink form.
func Override(fm map[string]interface{}) string {
	if fm == nil {
		return ""
	}
	switch v := fm[OverrideKey].(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		if len(v) == 1 {
			if inner, ok := v[0].([]interface{}); ok && len(inner) == 1 {
				return fmt.Sprintf("[[%v]]", inner[0])
			}
		}
	}
	return ""
}

// UnwrapLink strips an enclosing [[...]] wikilink wrapper and surrounding space.
func UnwrapLink(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "[[") && strings.HasSuffix(ref, "]]") && len(ref) >= 4 {
		ref = strings.TrimSpace(ref[2 : len(ref)-2])
	}
	return ref
}
