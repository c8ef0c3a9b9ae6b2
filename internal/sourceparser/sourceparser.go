// Package sourceparser provides the per-language SourceParser backends the
// Graph extractor (internal/homer/extract) dispatches to: a Go backend
// built on go/parser and go/ast, and a tree-sitter backend covering
// JavaScript, TypeScript, and Python.
package sourceparser

import "github.com/homer-dev/homer/internal/homer/extract"

// Registry builds the full set of SourceParser backends Homer ships,
// keyed by the language name config.LanguageConfig registers (spec §6's
// "one parser per configured language").
func Registry() map[string]extract.SourceParser {
	return map[string]extract.SourceParser{
		"go":         NewGoParser(),
		"javascript": NewJavaScriptParser(),
		"typescript": NewTypeScriptParser(),
		"python":     NewPythonParser(),
	}
}
