// Package plugin defines the per-language symbol extractor interface
// consumed by the dispatcher, the registry that orchestrates plugin
// instances, and the built-in tree-sitter extractors.
package plugin

import (
	"context"

	"github.com/lodeworks/lodestone/internal/store"
)

// IndexShard is the per-file bundle of extracted symbols a plugin
// returns, later committed to the index store.
type IndexShard struct {
	File     string
	Language string
	Symbols  []store.Symbol
}

// Reference is a use site of a symbol.
type Reference struct {
	FilePath string
	Line     int
	Context  string
}

// SearchOptions configures a plugin-native search.
type SearchOptions struct {
	Limit      int
	SymbolKind store.SymbolKind
}

// SearchResult is a plugin-native search hit.
type SearchResult struct {
	FilePath string
	Line     int
	Snippet  string
	Score    float64
}

// Plugin is a per-language symbol extractor. The dispatcher assumes
// nothing about a plugin's thread-safety and serializes calls per
// instance.
type Plugin interface {
	// Language returns the language tag this plugin handles.
	Language() string

	// Supports reports whether the plugin can index the given path.
	Supports(path string) bool

	// IndexFile extracts symbols from one file's content.
	IndexFile(ctx context.Context, path string, content []byte) (*IndexShard, error)

	// GetDefinition resolves a symbol name to its definition, or nil if
	// this plugin has not seen it.
	GetDefinition(ctx context.Context, name string) (*store.Definition, error)

	// FindReferences returns known use sites of a symbol.
	FindReferences(ctx context.Context, name string) ([]Reference, error)
}

// Searcher is the optional search capability. Plugins that do not
// implement it fall back to the dispatcher's BM25 path.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}
