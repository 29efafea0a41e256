// Package dispatch routes symbol lookups, code searches, and indexing
// requests to the right plugin and index store, with timeouts, a BM25
// fallback, and multi-repository fan-out.
package dispatch

import (
	"time"

	"github.com/lodeworks/lodestone/internal/store"
)

// Reasons attached to empty results.
const (
	ReasonNotFound   = "not_found"
	ReasonStaleIndex = "stale_index"
	ReasonTimeout    = "timeout"
	ReasonNoPlugin   = "no_plugin"
)

// RepoAll selects every authorized reference repository at once.
const RepoAll = "*"

// LookupResult is the response to a symbol definition lookup. A miss is
// not an error: Found is false and Reason explains why.
type LookupResult struct {
	Symbol    string    `json:"symbol"`
	Kind      string    `json:"kind,omitempty"`
	Language  string    `json:"language,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Doc       string    `json:"doc,omitempty"`
	DefinedIn string    `json:"defined_in,omitempty"`
	Line      int       `json:"line,omitempty"`
	Span      [2]int    `json:"span,omitempty"`
	Found     bool      `json:"found"`
	Reason    string    `json:"reason,omitempty"`
	Stale     bool      `json:"stale_index,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	Repository string  `json:"repository,omitempty"`
}

// SearchOptions configures a search call.
type SearchOptions struct {
	// Semantic requests embedding search; downgraded to BM25 when the
	// capability is unavailable.
	Semantic bool
	// Limit bounds result count (1..1000, default 20).
	Limit int
	// Repo restricts the search to one authorized repository.
	Repo string
}

// SearchResponse is the response to a search call.
type SearchResponse struct {
	Hits       []SearchHit `json:"hits"`
	Downgraded bool        `json:"downgraded,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Stale      bool        `json:"stale_index,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// IndexSummary reports the outcome of an indexing request.
type IndexSummary struct {
	IndexedFiles int            `json:"indexed_files"`
	IgnoredFiles int            `json:"ignored_files"`
	FailedFiles  int            `json:"failed_files"`
	TotalFiles   int            `json:"total_files"`
	ByLanguage   map[string]int `json:"by_language"`
}

// LanguageStatus reports plugin orchestration state.
type LanguageStatus struct {
	Loaded    []string          `json:"loaded"`
	Supported []string          `json:"supported"`
	Skipped   map[string]string `json:"skipped,omitempty"`
}

// HealthStatus is the structured health_check response.
type HealthStatus struct {
	Status         string                  `json:"status"`
	Mode           string                  `json:"mode"`
	Languages      LanguageStatus          `json:"languages"`
	PluginCount    int                     `json:"plugin_count"`
	Features       map[string]bool         `json:"features"`
	Index          store.Stats             `json:"index"`
	Validation     *store.ValidationReport `json:"validation,omitempty"`
	Cache          map[string]any          `json:"cache,omitempty"`
	LastOperations map[string]time.Time    `json:"last_operations,omitempty"`
	Operations     map[string]int64        `json:"operations"`
	Timestamp      time.Time               `json:"timestamp"`
}

// clampLimit applies the 1..1000 bound with the default of 20.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
