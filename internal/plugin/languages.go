package plugin

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/lodeworks/lodestone/internal/store"
)

// languageSpec describes how to extract symbols from one grammar.
type languageSpec struct {
	name       string
	language   *sitter.Language
	extensions []string
	// nodeKinds maps AST node types carrying a "name" field to the
	// symbol kind they produce.
	nodeKinds map[string]store.SymbolKind
	// methodParent marks node types whose function children become
	// methods instead of functions.
	methodParent map[string]struct{}
}

// builtinSpecs are the grammars compiled into the binary.
var builtinSpecs = map[string]*languageSpec{
	"go": {
		name:       "go",
		language:   golang.GetLanguage(),
		extensions: []string{".go"},
		nodeKinds: map[string]store.SymbolKind{
			"function_declaration": store.SymbolKindFunction,
			"method_declaration":   store.SymbolKindMethod,
			"type_spec":            store.SymbolKindType,
			"const_spec":           store.SymbolKindConstant,
			"var_spec":             store.SymbolKindVariable,
		},
	},
	"python": {
		name:       "python",
		language:   python.GetLanguage(),
		extensions: []string{".py", ".pyi"},
		nodeKinds: map[string]store.SymbolKind{
			"function_definition": store.SymbolKindFunction,
			"class_definition":    store.SymbolKindClass,
		},
		methodParent: map[string]struct{}{
			"class_definition": {},
		},
	},
	"javascript": {
		name:       "javascript",
		language:   javascript.GetLanguage(),
		extensions: []string{".js", ".jsx", ".mjs"},
		nodeKinds: map[string]store.SymbolKind{
			"function_declaration": store.SymbolKindFunction,
			"class_declaration":    store.SymbolKindClass,
			"method_definition":    store.SymbolKindMethod,
			"variable_declarator":  store.SymbolKindVariable,
		},
		methodParent: map[string]struct{}{
			"class_declaration": {},
		},
	},
}

// BuiltinLanguages returns the language tags with a built-in extractor.
func BuiltinLanguages() []string {
	return []string{"go", "javascript", "python"}
}

// NewBuiltinFactory returns a Factory serving the built-in tree-sitter
// extractors. Languages without a compiled grammar yield no plugin,
// which sends their queries down the BM25 path.
func NewBuiltinFactory() Factory {
	return func(language string) (Plugin, error) {
		spec, ok := builtinSpecs[language]
		if !ok {
			return nil, nil
		}
		return newTreeSitterPlugin(spec), nil
	}
}
