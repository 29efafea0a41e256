package plugin

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lodeworks/lodestone/internal/store"
)

// treeSitterPlugin extracts symbols using a tree-sitter grammar. It keeps
// an in-process symbol table of everything it has indexed so
// GetDefinition and FindReferences can answer without the store.
//
// Not safe for concurrent use; the registry Handle serializes calls.
type treeSitterPlugin struct {
	spec   *languageSpec
	parser *sitter.Parser
	// defs maps symbol name to definitions seen across indexed files.
	defs map[string][]store.Definition
	// fileSyms tracks which names came from which file, for re-index.
	fileSyms map[string][]string
}

func newTreeSitterPlugin(spec *languageSpec) *treeSitterPlugin {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.language)
	return &treeSitterPlugin{
		spec:     spec,
		parser:   parser,
		defs:     make(map[string][]store.Definition),
		fileSyms: make(map[string][]string),
	}
}

// Language implements Plugin.
func (p *treeSitterPlugin) Language() string {
	return p.spec.name
}

// Supports implements Plugin.
func (p *treeSitterPlugin) Supports(path string) bool {
	for _, ext := range p.spec.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// IndexFile implements Plugin: parses content and extracts symbols.
func (p *treeSitterPlugin) IndexFile(ctx context.Context, path string, content []byte) (*IndexShard, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse failed for %s: %w", path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse returned no tree for %s", path)
	}
	defer tree.Close()

	var symbols []store.Symbol
	p.walk(tree.RootNode(), content, false, &symbols)

	p.replaceFileSymbols(path, symbols)

	return &IndexShard{
		File:     path,
		Language: p.spec.name,
		Symbols:  symbols,
	}, nil
}

// walk visits named nodes depth-first, collecting symbols for node types
// in the spec. insideClass promotes functions to methods.
func (p *treeSitterPlugin) walk(node *sitter.Node, source []byte, insideClass bool, out *[]store.Symbol) {
	if node == nil {
		return
	}

	nodeType := node.Type()
	if kind, ok := p.spec.nodeKinds[nodeType]; ok {
		if name := nodeName(node, source); name != "" {
			if insideClass && kind == store.SymbolKindFunction {
				kind = store.SymbolKindMethod
			}
			// Go: a type_spec wrapping an interface_type is an interface.
			if kind == store.SymbolKindType && hasChildOfType(node, "interface_type") {
				kind = store.SymbolKindInterface
			}
			*out = append(*out, store.Symbol{
				Name:      name,
				Kind:      kind,
				StartLine: int(node.StartPoint().Row) + 1,
				EndLine:   int(node.EndPoint().Row) + 1,
				Signature: firstLine(node.Content(source)),
				Doc:       precedingComment(node, source),
			})
		}
	}

	_, childInClass := p.spec.methodParent[nodeType]
	for i := 0; i < int(node.NamedChildCount()); i++ {
		p.walk(node.NamedChild(i), source, insideClass || childInClass, out)
	}
}

// GetDefinition implements Plugin from the in-process symbol table.
func (p *treeSitterPlugin) GetDefinition(_ context.Context, name string) (*store.Definition, error) {
	defs := p.defs[name]
	if len(defs) == 0 {
		return nil, nil
	}
	d := defs[0]
	return &d, nil
}

// FindReferences implements Plugin. The built-in extractor only tracks
// definition sites, so references are the definitions themselves.
func (p *treeSitterPlugin) FindReferences(_ context.Context, name string) ([]Reference, error) {
	defs := p.defs[name]
	refs := make([]Reference, 0, len(defs))
	for _, d := range defs {
		refs = append(refs, Reference{
			FilePath: d.FilePath,
			Line:     d.StartLine,
			Context:  d.Signature,
		})
	}
	return refs, nil
}

// replaceFileSymbols swaps the symbol table entries for one file.
func (p *treeSitterPlugin) replaceFileSymbols(path string, symbols []store.Symbol) {
	for _, name := range p.fileSyms[path] {
		kept := p.defs[name][:0]
		for _, d := range p.defs[name] {
			if d.FilePath != path {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(p.defs, name)
		} else {
			p.defs[name] = kept
		}
	}

	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		names = append(names, sym.Name)
		p.defs[sym.Name] = append(p.defs[sym.Name], store.Definition{
			Symbol:    sym.Name,
			Kind:      sym.Kind,
			Language:  p.spec.name,
			Signature: sym.Signature,
			Doc:       sym.Doc,
			FilePath:  path,
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
		})
	}
	p.fileSyms[path] = names
}

// nodeName returns the text of a node's "name" field, or of a nested
// identifier for declarator-style nodes.
func nodeName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		t := child.Type()
		if t == "identifier" || t == "property_identifier" || t == "type_identifier" {
			return child.Content(source)
		}
	}
	return ""
}

func hasChildOfType(node *sitter.Node, nodeType string) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == nodeType {
			return true
		}
	}
	return false
}

// precedingComment returns the comment immediately above a node, with
// comment markers stripped.
func precedingComment(node *sitter.Node, source []byte) string {
	prev := node.PrevNamedSibling()
	if prev == nil && node.Parent() != nil {
		// Declarations are often wrapped (e.g. go type_declaration);
		// look above the wrapper.
		prev = node.Parent().PrevNamedSibling()
	}
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(prev.Content(source), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "#")
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(strings.TrimSpace(s), "{ ")
}
