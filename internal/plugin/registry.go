package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/store"
)

// DefaultLoadTimeout bounds lazy plugin construction.
const DefaultLoadTimeout = 5 * time.Second

// negativeCacheSize bounds the memoized set of languages whose factory
// failed or timed out.
const negativeCacheSize = 256

// Factory instantiates a plugin for a language on first demand.
type Factory func(language string) (Plugin, error)

// Registry holds eagerly loaded plugins and lazily instantiates the rest
// through a factory. Loaded plugins are memoized for the process
// lifetime; languages whose factory failed are remembered as skipped.
type Registry struct {
	mu          sync.Mutex
	loaded      map[string]*guarded
	factory     Factory
	loadTimeout time.Duration
	skipped     *lru.Cache[string, string] // language -> reason
	logger      *slog.Logger
}

// guarded serializes calls to one plugin instance and catches panics at
// the call boundary.
type guarded struct {
	mu    sync.Mutex
	inner Plugin
}

// NewRegistry creates a registry seeded with the given plugins.
// factory may be nil, in which case unknown languages are skipped.
func NewRegistry(eager []Plugin, factory Factory, loadTimeout time.Duration, logger *slog.Logger) *Registry {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	skipped, _ := lru.New[string, string](negativeCacheSize)

	r := &Registry{
		loaded:      make(map[string]*guarded),
		factory:     factory,
		loadTimeout: loadTimeout,
		skipped:     skipped,
		logger:      logger,
	}
	for _, p := range eager {
		r.loaded[p.Language()] = &guarded{inner: p}
	}
	return r
}

// Get returns the plugin for a language, instantiating it through the
// factory on first demand within the load timeout. A nil plugin with a
// nil error means the language is skipped and the caller should fall
// back to BM25.
func (r *Registry) Get(ctx context.Context, language string) (*Handle, error) {
	if language == "" {
		return nil, nil
	}

	r.mu.Lock()
	if g, ok := r.loaded[language]; ok {
		r.mu.Unlock()
		return &Handle{g: g}, nil
	}
	if reason, ok := r.skipped.Get(language); ok {
		r.mu.Unlock()
		r.logger.Debug("plugin_skipped", slog.String("language", language), slog.String("reason", reason))
		return nil, nil
	}
	factory := r.factory
	timeout := r.loadTimeout
	r.mu.Unlock()

	if factory == nil {
		r.skip(language, "no factory configured")
		return nil, nil
	}

	// The factory may hang; run it in a goroutine and abandon it on
	// timeout. Plugins must tolerate being abandoned mid-construction.
	type loadResult struct {
		p   Plugin
		err error
	}
	resultCh := make(chan loadResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- loadResult{err: fmt.Errorf("plugin factory panic: %v", rec)}
			}
		}()
		p, err := factory(language)
		resultCh <- loadResult{p: p, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.skip(language, "load cancelled")
		return nil, ctx.Err()
	case <-timer.C:
		r.skip(language, fmt.Sprintf("load timed out after %s", timeout))
		r.logger.Warn("plugin_load_timeout",
			slog.String("language", language),
			slog.Duration("timeout", timeout))
		return nil, nil
	case res := <-resultCh:
		if res.err != nil {
			r.skip(language, res.err.Error())
			r.logger.Warn("plugin_load_failed",
				slog.String("language", language),
				slog.String("error", res.err.Error()))
			return nil, nil
		}
		if res.p == nil {
			r.skip(language, "factory returned no plugin")
			return nil, nil
		}
		r.mu.Lock()
		g, ok := r.loaded[language]
		if !ok {
			g = &guarded{inner: res.p}
			r.loaded[language] = g
		}
		r.mu.Unlock()
		return &Handle{g: g}, nil
	}
}

// Loaded returns the languages with a live plugin instance, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	langs := make([]string, 0, len(r.loaded))
	for lang := range r.loaded {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Skipped returns languages that failed or timed out during load, with
// the recorded reason.
func (r *Registry) Skipped() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, r.skipped.Len())
	for _, lang := range r.skipped.Keys() {
		if reason, ok := r.skipped.Get(lang); ok {
			out[lang] = reason
		}
	}
	return out
}

func (r *Registry) skip(language, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped.Add(language, reason)
}

// Handle wraps a plugin instance, serializing calls and converting
// panics into PluginFailure errors. Panics never propagate past the
// handle.
type Handle struct {
	g *guarded
}

// Language returns the wrapped plugin's language tag.
func (h *Handle) Language() string {
	return h.g.inner.Language()
}

// Supports reports whether the plugin can index the given path.
func (h *Handle) Supports(path string) bool {
	return h.g.inner.Supports(path)
}

// CanSearch reports whether the plugin implements the optional Searcher
// capability.
func (h *Handle) CanSearch() bool {
	_, ok := h.g.inner.(Searcher)
	return ok
}

// IndexFile extracts symbols from one file.
func (h *Handle) IndexFile(ctx context.Context, path string, content []byte) (shard *IndexShard, err error) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	defer h.recover(&err)
	return h.g.inner.IndexFile(ctx, path, content)
}

// GetDefinition resolves a name through the plugin.
func (h *Handle) GetDefinition(ctx context.Context, name string) (def *store.Definition, err error) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	defer h.recover(&err)
	return h.g.inner.GetDefinition(ctx, name)
}

// FindReferences returns known use sites of a name.
func (h *Handle) FindReferences(ctx context.Context, name string) (refs []Reference, err error) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	defer h.recover(&err)
	return h.g.inner.FindReferences(ctx, name)
}

// Search runs the plugin's native search. Returns a PluginFailure error
// if the plugin does not implement Searcher.
func (h *Handle) Search(ctx context.Context, query string, opts SearchOptions) (results []SearchResult, err error) {
	s, ok := h.g.inner.(Searcher)
	if !ok {
		return nil, lserr.Newf(lserr.ErrCodePluginFailure,
			"plugin %s does not implement search", h.g.inner.Language())
	}
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	defer h.recover(&err)
	return s.Search(ctx, query, opts)
}

func (h *Handle) recover(err *error) {
	if rec := recover(); rec != nil {
		*err = lserr.Newf(lserr.ErrCodePluginFailure,
			"plugin %s panicked: %v", h.g.inner.Language(), rec)
	}
}
