package mcpserver

// PreambleFormat describes how preamble files are written and how documents
// select one. LLM consumers should read it before registering or binding.
const PreambleFormat = `# Preamble Format

A preamble is an ordinary Markdown file in the vault holding TeX macro
definitions. Its content is handed to the math engine before a document is
typeset, so every macro it defines is available in that document.

## File content

Any of these shapes is accepted; the wrapper is removed before use:

` + "````" + `markdown
` + "```" + `latex
\newcommand{\R}{\mathbb{R}}
\DeclareMathOperator{\tr}{tr}
` + "```" + `
` + "````" + `

` + "```" + `markdown
$$
\newcommand{\R}{\mathbb{R}}
$$
` + "```" + `

or the bare definitions with no wrapper at all.

## Selecting a preamble

1. **Frontmatter override.** A document may name its preamble explicitly:

` + "```" + `markdown
---
preamble: "[[tex/macros]]"
---
` + "```" + `

   The value is a wikilink or plain vault path, resolved relative to the
   document like any other link. It wins only if the target is registered.

2. **Folder binding.** Otherwise the document's folder and then each ancestor
   folder up to the vault root (` + "`" + `/` + "`" + `) is checked; the first folder with a
   binding decides. A binding to an unregistered file resolves to nothing and
   stops the search.

## Rules

1. Register a file (` + "`" + `register_preamble` + "`" + `) before binding folders to it.
2. Paths use forward slashes and are relative to the vault root.
3. Renaming or moving a preamble file or a bound folder keeps bindings intact.
4. Deleting a preamble file removes its registration and the bindings to it.
`
