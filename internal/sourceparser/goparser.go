package sourceparser

import (
	"encoding/binary"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/homer-dev/homer/internal/homer/extract"
)

// GoParser is the "go" language backend, built on the standard library's
// own AST (go/parser, go/ast) rather than golang.org/x/tools/go/packages:
// the SourceParser contract parses one file's bytes in isolation (spec
// §6), which a whole-module package load cannot do without pulling in the
// rest of the repository on every call.
type GoParser struct{}

// NewGoParser constructs the Go backend.
func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Parse(path string, content []byte) (*extract.ParseResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	result := &extract.ParseResult{DocComments: make(map[string]extract.DocComment)}
	dir := filepath.Dir(path)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			p.parseFuncDecl(fset, dir, d, result)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				p.parseTypeSpec(fset, dir, d, ts, result)
			}
		}
	}

	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		result.Imports = append(result.Imports, extract.Import{
			FromPath:     path,
			ImportedName: importPath,
			Confidence:   1.0,
		})
	}

	return result, nil
}

func (p *GoParser) parseFuncDecl(fset *token.FileSet, dir string, d *ast.FuncDecl, result *extract.ParseResult) {
	displayName := d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		if recv := receiverTypeName(d.Recv.List[0].Type); recv != "" {
			displayName = recv + "." + d.Name.Name
		}
	}
	qualified := dir + ":" + displayName

	result.Definitions = append(result.Definitions, extract.Definition{
		Name:          d.Name.Name,
		QualifiedName: qualified,
		Kind:          "function",
		Span:          [2]int{fset.Position(d.Pos()).Offset, fset.Position(d.End()).Offset},
	})
	if d.Doc != nil {
		recordDoc(result, d.Name.Name, d.Doc.Text())
	}
	result.References = append(result.References, extractCalls(fset, d.Body, qualified)...)
}

func (p *GoParser) parseTypeSpec(fset *token.FileSet, dir string, gen *ast.GenDecl, ts *ast.TypeSpec, result *extract.ParseResult) {
	qualified := dir + ":" + ts.Name.Name
	result.Definitions = append(result.Definitions, extract.Definition{
		Name:          ts.Name.Name,
		QualifiedName: qualified,
		Kind:          "type",
		Span:          [2]int{fset.Position(ts.Pos()).Offset, fset.Position(ts.End()).Offset},
	})

	doc := ts.Doc
	if doc == nil {
		doc = gen.Doc
	}
	if doc != nil {
		recordDoc(result, ts.Name.Name, doc.Text())
	}
}

func recordDoc(result *extract.ParseResult, name, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	result.DocComments[name] = extract.DocComment{Text: text, Hash: textHash(text), Style: "line"}
}

// extractCalls walks a function body for call expressions, attributing
// each one to containingDef — the same span/attribution shape the Graph
// extractor expects from every language backend (spec §6).
func extractCalls(fset *token.FileSet, body *ast.BlockStmt, containingDef string) []extract.Reference {
	if body == nil {
		return nil
	}
	var refs []extract.Reference
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := calleeName(call.Fun)
		if name == "" {
			return true
		}
		refs = append(refs, extract.Reference{
			Name:          name,
			ContainingDef: containingDef,
			Span:          [2]int{fset.Position(call.Pos()).Offset, fset.Position(call.End()).Offset},
		})
		return true
	})
	return refs
}

func calleeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	default:
		return ""
	}
}

// receiverTypeName formats a method receiver's type name, unwrapping
// pointer and generic-instantiation receivers (grounded on the same
// pattern the teacher's loader.go uses for formatReceiverType).
func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	default:
		return ""
	}
}

// textHash reduces a blake3-256 digest to the 64-bit hash DocComment
// carries, matching the extract package's own contentHash scheme so doc
// comment drift detection uses the same collision characteristics as
// file-level content hashing.
func textHash(text string) uint64 {
	sum := blake3.Sum256([]byte(text))
	return binary.BigEndian.Uint64(sum[:8])
}
