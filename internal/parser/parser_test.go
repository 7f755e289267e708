package parser

import (
	"testing"
)

func TestParse_FrontmatterOverride(t *testing.T) {
	input := []byte("---\ntitle: Hello\npreamble: macros/linear.md\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Override != "macros/linear.md" {
		t.Errorf("override = %q, want %q", r.Override, "macros/linear.md")
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_QuotedWikilinkOverride(t *testing.T) {
	r, err := Parse([]byte("---\npreamble: \"[[macros]]\"\n---\ntext"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Override != "[[macros]]" {
		t.Errorf("override = %q, want [[macros]]", r.Override)
	}
}

func TestParse_UnquotedWikilinkOverride(t *testing.T) {
	r, err := Parse([]byte("---\npreamble: [[macros]]\n---\ntext"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Override != "[[macros]]" {
		t.Errorf("override = %q, want [[macros]]", r.Override)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Override != "" {
		t.Errorf("override = %q, want empty", r.Override)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Override != "" {
		t.Errorf("override = %q, want empty", r.Override)
	}
}

func TestOverride_NonStringIgnored(t *testing.T) {
	if got := Override(map[string]any{"preamble": 42}); got != "" {
		t.Errorf("override = %q, want empty", got)
	}
}

func TestUnwrapLink(t *testing.T) {
	cases := map[string]string{
		"[[macros]]":         "macros",
		" [[ sub/macros ]] ": "sub/macros",
		"macros.md":          "macros.md",
		"[[":                 "[[",
		"":                   "",
	}
	for in, want := range cases {
		if got := UnwrapLink(in); got != want {
			t.Errorf("UnwrapLink(%q) = %q, want %q", in, got, want)
		}
	}
}
