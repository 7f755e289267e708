package preamble

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalize_Forms(t *testing.T) {
	const src = `\newcommand{\R}{\mathbb{R}}`
	cases := []struct {
		name string
		in   string
	}{
		{"bare", src},
		{"padded", "\n\n  " + src + "  \n"},
		{"fenced", "```\n" + src + "\n```"},
		{"fenced with language", "```latex\n" + src + "\n```\n"},
		{"fenced without closing", "```tex\n" + src},
		{"display math", "$$\n" + src + "\n$$"},
		{"inline math", "$" + src + "$"},
		{"fenced display math", "```\n$$\n" + src + "\n$$\n```"},
		{"unterminated display math", "$$ " + src},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, src, Normalize(tc.in))
		})
	}
}

func TestNormalize_EscapedDollarKept(t *testing.T) {
	in := `\newcommand{\dollar}{\$`
	assert.Equal(t, in, Normalize(in))
}

func TestNormalize_MultiLineBody(t *testing.T) {
	in := "```latex\n\\newcommand{\\R}{\\mathbb{R}}\n\\newcommand{\\N}{\\mathbb{N}}\n```"
	assert.Equal(t, "\\newcommand{\\R}{\\mathbb{R}}\n\\newcommand{\\N}{\\mathbb{N}}", Normalize(in))
}

func TestNormalize_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1729)
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	pieces := []string{"```", "```latex\n", "$$", "$", "\\$", "\n", " ", `\newcommand{\R}{\mathbb{R}}`, "x"}
	properties.Property("normalizing twice equals normalizing once", prop.ForAll(
		func(idx []int) bool {
			var b strings.Builder
			for _, i := range idx {
				b.WriteString(pieces[i])
			}
			once := Normalize(b.String())
			return Normalize(once) == once
		},
		gen.SliceOf(gen.IntRange(0, len(pieces)-1)),
	))
	properties.Property("arbitrary text", prop.ForAll(
		func(s string) bool {
			once := Normalize(s)
			return Normalize(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
