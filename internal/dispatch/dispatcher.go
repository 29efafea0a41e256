package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lodeworks/lodestone/internal/cache"
	"github.com/lodeworks/lodestone/internal/config"
	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/plugin"
	"github.com/lodeworks/lodestone/internal/scanner"
	"github.com/lodeworks/lodestone/internal/store"
)

// Dispatcher is the unified query surface. Lower-layer errors are
// translated to the error taxonomy here; cache and plugin failures
// never propagate past it.
type Dispatcher struct {
	cfg        *config.Config
	store      *store.Store
	registry   *plugin.Registry
	queries    *cache.QueryCache
	multi      *MultiRepoManager
	translator *PathTranslator
	scanner    *scanner.Scanner
	logger     *slog.Logger

	repoID   int64
	rootPath string

	mu       sync.Mutex
	opCounts map[string]int64
	lastOps  map[string]time.Time
	stale    bool
}

// Options carries optional dispatcher collaborators.
type Options struct {
	// Queries enables the query result cache.
	Queries *cache.QueryCache
	// Multi enables multi-repository fan-out.
	Multi *MultiRepoManager
	// Translator defaults to a translator for the root path.
	Translator *PathTranslator
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New creates a dispatcher for one local repository. The repository row
// is created on first use.
func New(cfg *config.Config, st *store.Store, registry *plugin.Registry, rootPath string, opts Options) (*Dispatcher, error) {
	if cfg == nil || st == nil || registry == nil {
		return nil, lserr.New(lserr.ErrCodeInternal, "config, store, and registry are required", nil)
	}

	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodePathNotFound, "cannot resolve root path")
	}

	repoID, err := st.CreateRepository(context.Background(), abs, filepath.Base(abs), store.RepoMetadata{
		Type: store.RepoTypeLocal,
	})
	if err != nil {
		return nil, err
	}

	translator := opts.Translator
	if translator == nil {
		translator = NewPathTranslator(abs, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		cfg:        cfg,
		store:      st,
		registry:   registry,
		queries:    opts.Queries,
		multi:      opts.Multi,
		translator: translator,
		scanner:    scanner.New(),
		logger:     logger,
		repoID:     repoID,
		rootPath:   abs,
		opCounts:   make(map[string]int64),
		lastOps:    make(map[string]time.Time),
	}, nil
}

// Lookup resolves a symbol name to its definition. A miss is returned as
// an empty result with a diagnostic reason, never as an error.
func (d *Dispatcher) Lookup(ctx context.Context, name, repoRef string) (*LookupResult, error) {
	d.recordOp("lookup")

	result := &LookupResult{Symbol: name, Timestamp: time.Now().UTC()}
	if strings.TrimSpace(name) == "" {
		result.Reason = ReasonNotFound
		return result, nil
	}

	if d.queries != nil {
		params := map[string]string{"symbol": name, "repo": repoRef}
		payload, err := d.queries.Cached(ctx, cache.QuerySymbolLookup, params,
			[]string{cache.TagSymbols},
			func(ctx context.Context) ([]byte, error) {
				r, err := d.lookupUncached(ctx, name, repoRef)
				if err != nil {
					return nil, err
				}
				return json.Marshal(r)
			})
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, result); err == nil {
			return result, nil
		}
		// Fall through to an uncached lookup on a corrupt payload.
	}
	return d.lookupUncached(ctx, name, repoRef)
}

func (d *Dispatcher) lookupUncached(ctx context.Context, name, repoRef string) (*LookupResult, error) {
	result := &LookupResult{Symbol: name, Timestamp: time.Now().UTC(), Stale: d.staleAdvisory()}

	var scope int64
	if repoRef != "" {
		if id, err := strconv.ParseInt(repoRef, 10, 64); err == nil {
			scope = id
		}
	}

	defs, err := d.store.LookupSymbol(ctx, name, scope)
	if err != nil {
		return nil, err
	}
	if len(defs) > 0 {
		d.fillLookup(result, &defs[0])
		return result, nil
	}

	// BM25 fallback: extract candidate names from ranked snippets and
	// keep exact matches.
	if def := d.lookupViaBM25(ctx, name); def != nil {
		d.fillLookup(result, def)
		return result, nil
	}

	result.Reason = ReasonNotFound
	return result, nil
}

func (d *Dispatcher) fillLookup(result *LookupResult, def *store.Definition) {
	result.Found = true
	result.Kind = string(def.Kind)
	result.Language = def.Language
	result.Signature = def.Signature
	result.Doc = def.Doc
	result.DefinedIn = d.translator.Translate(def.FilePath)
	result.Line = def.StartLine
	result.Span = [2]int{def.StartLine, def.EndLine}
}

// lookupViaBM25 searches the full-text index for the name and scans the
// matched files for an exact identifier occurrence.
func (d *Dispatcher) lookupViaBM25(ctx context.Context, name string) *store.Definition {
	hits, err := d.store.SearchBM25(ctx, name, 5)
	if err != nil {
		return nil
	}
	lowered := strings.ToLower(name)
	for _, h := range hits {
		if !snippetContainsToken(h.Snippet, lowered) {
			continue
		}
		path := d.translator.Translate(h.FilePath)
		line := findLine(path, name)
		if line == 0 {
			continue
		}
		return &store.Definition{
			Symbol:    name,
			Kind:      store.SymbolKindOther,
			Language:  scanner.LanguageForPath(h.FilePath),
			FilePath:  h.FilePath,
			StartLine: line,
			EndLine:   line,
		}
	}
	return nil
}

// Search runs a ranked code search with the configured timeout. Result
// order is a deterministic function of the query and index state.
func (d *Dispatcher) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	d.recordOp("search")

	if strings.TrimSpace(query) == "" {
		return nil, lserr.New(lserr.ErrCodeInvalidQuery, "query must not be empty", nil)
	}
	opts.Limit = clampLimit(opts.Limit)

	timeout := d.cfg.Dispatcher.SearchTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type searchOut struct {
		resp *SearchResponse
		err  error
	}
	done := make(chan searchOut, 1)
	go func() {
		resp, err := d.searchInner(ctx, query, opts)
		done <- searchOut{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, d.timeoutError(query, timeout)
		}
		return out.resp, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, d.timeoutError(query, timeout)
		}
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) timeoutError(query string, timeout time.Duration) error {
	return lserr.Newf(lserr.ErrCodeTimeout, "Search timeout").
		WithDetail("details", "Search operation exceeded "+strconv.Itoa(int(timeout.Seconds()))+" second timeout").
		WithDetail("query", query)
}

func (d *Dispatcher) searchInner(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	resp := &SearchResponse{Timestamp: time.Now().UTC(), Stale: d.staleAdvisory()}

	// Semantic search is a capability flag; this build always downgrades
	// to BM25 and says so.
	if opts.Semantic {
		resp.Downgraded = true
	}

	if opts.Repo != "" {
		return d.searchRepo(ctx, query, opts, resp)
	}

	if d.queries != nil {
		params := map[string]string{
			"query": query,
			"limit": strconv.Itoa(opts.Limit),
		}
		payload, err := d.queries.Cached(ctx, cache.QuerySearch, params,
			[]string{cache.TagSearch},
			func(ctx context.Context) ([]byte, error) {
				hits, err := d.searchLocal(ctx, query, opts)
				if err != nil {
					return nil, err
				}
				return json.Marshal(hits)
			})
		if err != nil {
			return nil, err
		}
		var hits []SearchHit
		if err := json.Unmarshal(payload, &hits); err == nil {
			resp.Hits = hits
			if len(hits) == 0 {
				resp.Reason = ReasonNotFound
			}
			return resp, nil
		}
	}

	hits, err := d.searchLocal(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	resp.Hits = hits
	if len(hits) == 0 {
		resp.Reason = ReasonNotFound
	}
	return resp, nil
}

// searchRepo delegates to the multi-repo manager, falling back to the
// local index with the inner timeout on failure. Repo "*" fans out
// across every authorized repository and merges by score.
func (d *Dispatcher) searchRepo(ctx context.Context, query string, opts SearchOptions, resp *SearchResponse) (*SearchResponse, error) {
	if d.multi == nil {
		return nil, lserr.Newf(lserr.ErrCodeNotEnabled, "multi-repository search is not enabled")
	}

	if opts.Repo == RepoAll {
		hits, err := d.multi.SearchAll(ctx, query, opts.Limit)
		if err != nil {
			return nil, err
		}
		resp.Hits = hits
		if len(hits) == 0 {
			resp.Reason = ReasonNotFound
		}
		return resp, nil
	}

	hits, err := d.multi.Search(ctx, opts.Repo, query, opts.Limit)
	if err != nil {
		if lserr.CodeOf(err) == lserr.ErrCodeUnauthorized {
			return nil, err
		}
		d.logger.Warn("multi_repo_fallback",
			slog.String("repo", opts.Repo),
			slog.String("error", err.Error()))

		fallbackCtx, cancel := context.WithTimeout(ctx, d.multi.InnerTimeout())
		defer cancel()
		local, lerr := d.searchLocal(fallbackCtx, query, opts)
		if lerr != nil {
			return nil, lerr
		}
		resp.Hits = local
		resp.Reason = ReasonTimeout
		return resp, nil
	}
	resp.Hits = hits
	if len(hits) == 0 {
		resp.Reason = ReasonNotFound
	}
	return resp, nil
}

// searchLocal tries plugin-native search for the loaded languages and
// falls back to the BM25 index when no plugin can answer.
func (d *Dispatcher) searchLocal(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	if !d.cfg.Dispatcher.Simple {
		if hits := d.searchViaPlugins(ctx, query, opts); hits != nil {
			return hits, nil
		}
	}

	raw, err := d.store.SearchBM25(ctx, query, opts.Limit)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(raw))
	for _, h := range raw {
		path := d.translator.Translate(h.FilePath)
		hits = append(hits, SearchHit{
			File:    path,
			Line:    findFirstQueryLine(path, query),
			Snippet: h.Snippet,
			Score:   h.Score,
		})
	}
	return hits, nil
}

// searchViaPlugins asks each loaded plugin with search capability.
// Returns nil when no plugin answered, which sends the caller to BM25.
func (d *Dispatcher) searchViaPlugins(ctx context.Context, query string, opts SearchOptions) []SearchHit {
	for _, language := range d.registry.Loaded() {
		handle, err := d.registry.Get(ctx, language)
		if err != nil || handle == nil || !handle.CanSearch() {
			continue
		}
		results, err := handle.Search(ctx, query, plugin.SearchOptions{Limit: opts.Limit})
		if err != nil {
			d.logger.Debug("plugin_search_failed",
				slog.String("language", language),
				slog.String("error", err.Error()))
			continue
		}
		if len(results) == 0 {
			continue
		}
		hits := make([]SearchHit, 0, len(results))
		for _, r := range results {
			hits = append(hits, SearchHit{
				File:    d.translator.Translate(r.FilePath),
				Line:    r.Line,
				Snippet: r.Snippet,
				Score:   r.Score,
			})
		}
		return hits
	}
	return nil
}

// recordOp updates the per-operation counters surfaced by HealthCheck.
func (d *Dispatcher) recordOp(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opCounts[name]++
	d.lastOps[name] = time.Now().UTC()
}

func (d *Dispatcher) staleAdvisory() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stale
}

func (d *Dispatcher) setStale(stale bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stale = stale
}

// RootPath returns the dispatcher's workspace root.
func (d *Dispatcher) RootPath() string {
	return d.rootPath
}

// snippetContainsToken reports whether the snippet contains the token as
// a whole word.
func snippetContainsToken(snippet, token string) bool {
	for _, t := range store.TokenizeCode(snippet) {
		if t == token {
			return true
		}
	}
	return false
}

// findLine returns the 1-based first line containing needle, or 0.
func findLine(path, needle string) int {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for i, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, needle) {
			return i + 1
		}
	}
	return 0
}

// findFirstQueryLine locates the first line matching any query token,
// best effort: 0 when the file cannot be read.
func findFirstQueryLine(path, query string) int {
	tokens := store.TokenizeCode(query)
	if len(tokens) == 0 {
		return 0
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for i, line := range strings.Split(string(content), "\n") {
		lowered := strings.ToLower(line)
		for _, t := range tokens {
			if strings.Contains(lowered, t) {
				return i + 1
			}
		}
	}
	return 0
}
