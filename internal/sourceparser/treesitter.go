package sourceparser

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/homer-dev/homer/internal/homer/extract"
)

// jsFamilyParser is the "javascript"/"typescript" backend. Both grammars
// share the node type names this walk matches on (function_declaration,
// class_declaration, method_definition, call_expression, import_statement),
// so one walker serves both languages — only the grammar passed to
// sitter.Parser.SetLanguage differs.
type jsFamilyParser struct {
	parser *sitter.Parser
}

// NewJavaScriptParser constructs the "javascript" language backend.
func NewJavaScriptParser() *jsFamilyParser {
	p := sitter.NewParser()
	p.SetLanguage(javascript.GetLanguage())
	return &jsFamilyParser{parser: p}
}

// NewTypeScriptParser constructs the "typescript" language backend. It
// also covers .tsx files approximately — the JSX-specific grammar
// (tsx.GetLanguage()) is not wired in since Homer's definitions/references
// contract only needs the node types the plain TypeScript grammar already
// exposes (functions, classes, methods, calls, imports).
func NewTypeScriptParser() *jsFamilyParser {
	p := sitter.NewParser()
	p.SetLanguage(typescript.GetLanguage())
	return &jsFamilyParser{parser: p}
}

func (p *jsFamilyParser) Parse(path string, content []byte) (*extract.ParseResult, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	result := &extract.ParseResult{DocComments: make(map[string]extract.DocComment)}
	dir := filepath.Dir(path)
	walkJS(tree.RootNode(), content, dir, path, "", "", result)
	return result, nil
}

func walkJS(node *sitter.Node, content []byte, dir, path, currentDef, className string, result *extract.ParseResult) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration":
		if name := firstChildOfType(node, "identifier", content); name != "" {
			qualified := dir + ":" + name
			appendDefinition(result, name, qualified, "function", node)
			currentDef = qualified
		}
	case "class_declaration":
		if name := firstChildOfType(node, "identifier", content); name != "" {
			className = name
			appendDefinition(result, name, dir+":"+name, "type", node)
		}
	case "method_definition":
		if name := firstChildOfType(node, "property_identifier", content); name != "" {
			display := name
			if className != "" {
				display = className + "." + name
			}
			qualified := dir + ":" + display
			appendDefinition(result, name, qualified, "function", node)
			currentDef = qualified
		}
	case "variable_declarator":
		if name := firstChildOfType(node, "identifier", content); name != "" {
			for i := 0; i < int(node.ChildCount()); i++ {
				c := node.Child(i)
				if c.Type() == "arrow_function" || c.Type() == "function" {
					qualified := dir + ":" + name
					appendDefinition(result, name, qualified, "function", node)
					currentDef = qualified
					break
				}
			}
		}
	case "call_expression":
		if name := jsCalleeName(node, content); name != "" {
			result.References = append(result.References, extract.Reference{
				Name:          name,
				ContainingDef: currentDef,
				Span:          [2]int{int(node.StartByte()), int(node.EndByte())},
			})
		}
		if imp := requireCallSource(node, content); imp != "" {
			result.Imports = append(result.Imports, extract.Import{FromPath: path, ImportedName: imp, Confidence: 1.0})
		}
	case "import_statement":
		if src := findStringContent(node, content); src != "" {
			result.Imports = append(result.Imports, extract.Import{FromPath: path, ImportedName: src, Confidence: 1.0})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkJS(node.Child(i), content, dir, path, currentDef, className, result)
	}
}

func appendDefinition(result *extract.ParseResult, name, qualified, kind string, node *sitter.Node) {
	result.Definitions = append(result.Definitions, extract.Definition{
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		Span:          [2]int{int(node.StartByte()), int(node.EndByte())},
	})
}

func firstChildOfType(node *sitter.Node, typ string, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() == typ {
			return c.Content(content)
		}
	}
	return ""
}

// jsCalleeName resolves a call_expression's callee name, preferring the
// property/method name over the receiver object — grounded on
// parseCallExpression/parseMemberExpression's traversal, trimmed to just
// the name Homer's Reference contract needs.
func jsCalleeName(node *sitter.Node, content []byte) string {
	if node.ChildCount() == 0 {
		return ""
	}
	callee := node.Child(0)
	switch callee.Type() {
	case "identifier":
		return callee.Content(content)
	case "member_expression":
		var name string
		for i := 0; i < int(callee.ChildCount()); i++ {
			if c := callee.Child(i); c.Type() == "property_identifier" {
				name = c.Content(content)
			}
		}
		return name
	default:
		return ""
	}
}

// requireCallSource recognizes CommonJS require("./foo") calls.
func requireCallSource(node *sitter.Node, content []byte) string {
	if node.ChildCount() < 2 {
		return ""
	}
	callee := node.Child(0)
	if callee == nil || callee.Type() != "identifier" || callee.Content(content) != "require" {
		return ""
	}
	return findStringContent(node.Child(1), content)
}

func findStringContent(node *sitter.Node, content []byte) string {
	if node.Type() == "string" {
		return strings.Trim(node.Content(content), "\"'`")
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if s := findStringContent(node.Child(i), content); s != "" {
			return s
		}
	}
	return ""
}

// pythonParser is the "python" language backend.
type pythonParser struct {
	parser *sitter.Parser
}

// NewPythonParser constructs the "python" language backend.
func NewPythonParser() *pythonParser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &pythonParser{parser: p}
}

func (p *pythonParser) Parse(path string, content []byte) (*extract.ParseResult, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	result := &extract.ParseResult{DocComments: make(map[string]extract.DocComment)}
	dir := filepath.Dir(path)
	walkPython(tree.RootNode(), content, dir, path, "", "", result)
	return result, nil
}

func walkPython(node *sitter.Node, content []byte, dir, path, currentDef, className string, result *extract.ParseResult) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_definition":
		if name := firstChildOfType(node, "identifier", content); name != "" {
			display := name
			if className != "" {
				display = className + "." + name
			}
			qualified := dir + ":" + display
			appendDefinition(result, name, qualified, "function", node)
			currentDef = qualified
		}
	case "class_definition":
		if name := firstChildOfType(node, "identifier", content); name != "" {
			className = name
			appendDefinition(result, name, dir+":"+name, "type", node)
		}
	case "call":
		if name := pythonCalleeName(node, content); name != "" {
			result.References = append(result.References, extract.Reference{
				Name:          name,
				ContainingDef: currentDef,
				Span:          [2]int{int(node.StartByte()), int(node.EndByte())},
			})
		}
	case "import_statement":
		for i := 0; i < int(node.ChildCount()); i++ {
			c := node.Child(i)
			if c.Type() == "dotted_name" || c.Type() == "identifier" {
				result.Imports = append(result.Imports, extract.Import{FromPath: path, ImportedName: c.Content(content), Confidence: 1.0})
			}
		}
	case "import_from_statement":
		if mod := firstChildOfType(node, "dotted_name", content); mod != "" {
			result.Imports = append(result.Imports, extract.Import{FromPath: path, ImportedName: mod, Confidence: 1.0})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkPython(node.Child(i), content, dir, path, currentDef, className, result)
	}
}

func pythonCalleeName(node *sitter.Node, content []byte) string {
	if node.ChildCount() == 0 {
		return ""
	}
	callee := node.Child(0)
	switch callee.Type() {
	case "identifier":
		return callee.Content(content)
	case "attribute":
		var name string
		for i := 0; i < int(callee.ChildCount()); i++ {
			if c := callee.Child(i); c.Type() == "identifier" {
				name = c.Content(content)
			}
		}
		return name
	default:
		return ""
	}
}
