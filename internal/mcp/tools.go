package mcp

// Tool input and output types. Field names follow the wire convention of
// snake_case JSON with jsonschema descriptions; clients generate their
// parameter schemas from these tags.

// SymbolLookupInput requests the definition of a named symbol.
type SymbolLookupInput struct {
	Symbol string `json:"symbol" jsonschema:"the exact symbol name to resolve, e.g. a function, type, or class name"`
	Repo   string `json:"repo,omitempty" jsonschema:"optional authorized repository to search instead of the local index"`
}

// SymbolLookupOutput is the resolved definition, or a miss with a reason.
type SymbolLookupOutput struct {
	Symbol     string `json:"symbol" jsonschema:"the symbol that was looked up"`
	Found      bool   `json:"found" jsonschema:"whether a definition was found"`
	Kind       string `json:"kind,omitempty" jsonschema:"symbol kind: function, method, class, interface, type, constant, variable"`
	Language   string `json:"language,omitempty" jsonschema:"language of the defining file"`
	Signature  string `json:"signature,omitempty" jsonschema:"declaration line of the definition"`
	Doc        string `json:"doc,omitempty" jsonschema:"leading documentation comment, if any"`
	DefinedIn  string `json:"defined_in,omitempty" jsonschema:"path of the defining file"`
	Line       int    `json:"line,omitempty" jsonschema:"1-based line of the definition"`
	Reason     string `json:"reason,omitempty" jsonschema:"why the lookup missed: not_found, stale_index, timeout, no_plugin"`
	StaleIndex bool   `json:"stale_index,omitempty" jsonschema:"true when the index may not reflect the working tree"`
}

// SearchCodeInput requests a ranked code search.
type SearchCodeInput struct {
	Query    string `json:"query" jsonschema:"the code search query to execute"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, 1 to 1000, default 20"`
	Repo     string `json:"repo,omitempty" jsonschema:"optional authorized repository to search instead of the local index; * searches all authorized repositories"`
	Semantic bool   `json:"semantic,omitempty" jsonschema:"request semantic search; downgraded to keyword search when unavailable"`
}

// SearchCodeOutput carries ranked results.
type SearchCodeOutput struct {
	Results    []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
	Downgraded bool                 `json:"downgraded,omitempty" jsonschema:"true when semantic search fell back to keyword search"`
	Reason     string               `json:"reason,omitempty" jsonschema:"why the result set is empty or partial"`
	StaleIndex bool                 `json:"stale_index,omitempty" jsonschema:"true when the index may not reflect the working tree"`
}

// SearchResultOutput is one ranked hit.
type SearchResultOutput struct {
	File       string  `json:"file" jsonschema:"path of the matching file"`
	Line       int     `json:"line,omitempty" jsonschema:"1-based line of the first match, 0 when unknown"`
	Snippet    string  `json:"snippet" jsonschema:"matched content excerpt"`
	Score      float64 `json:"score" jsonschema:"relevance score, higher is better"`
	Repository string  `json:"repository,omitempty" jsonschema:"source repository name for multi-repo results"`
}

// GetStatusInput has no parameters.
type GetStatusInput struct{}

// ListPluginsInput has no parameters.
type ListPluginsInput struct{}

// ListPluginsOutput reports plugin orchestration state.
type ListPluginsOutput struct {
	Loaded    []string          `json:"loaded" jsonschema:"languages with a live plugin instance"`
	Supported []string          `json:"supported" jsonschema:"languages the scanner recognizes"`
	Skipped   map[string]string `json:"skipped,omitempty" jsonschema:"languages whose plugin failed to load, with the reason"`
}

// ReindexInput requests a re-index of a directory.
type ReindexInput struct {
	Path  string `json:"path,omitempty" jsonschema:"directory to index, default the project root"`
	Force bool   `json:"force,omitempty" jsonschema:"re-ingest files even when content hashes are unchanged"`
}

// ReindexOutput summarizes an indexing run.
type ReindexOutput struct {
	IndexedFiles int            `json:"indexed_files" jsonschema:"files written to the index"`
	IgnoredFiles int            `json:"ignored_files" jsonschema:"files skipped as unchanged or binary"`
	FailedFiles  int            `json:"failed_files" jsonschema:"files that could not be indexed"`
	TotalFiles   int            `json:"total_files" jsonschema:"files discovered by the scan"`
	ByLanguage   map[string]int `json:"by_language,omitempty" jsonschema:"indexed file count per language"`
}
