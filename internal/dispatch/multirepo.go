package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/store"
)

// handleCacheSize bounds the number of open reference index stores.
const handleCacheSize = 16

// authorizedRepo is one allow-listed reference repository.
type authorizedRepo struct {
	// Ref is the configured identifier (path or URL).
	Ref string
	// Name is the display name used to tag results.
	Name string
	// ID is the deterministic repository identifier.
	ID string
}

// MultiRepoManager resolves repository identifiers to index store
// handles and fans searches out across authorized repositories.
type MultiRepoManager struct {
	mu          sync.Mutex
	authorized  []authorizedRepo
	searchPaths []string
	handles     *lru.Cache[string, *store.Store]

	outerTimeout time.Duration
	innerTimeout time.Duration
}

// NewMultiRepoManager builds a manager from the configured allow-list
// and index search directories.
func NewMultiRepoManager(allowList []string, searchPaths []string, outerTimeout, innerTimeout time.Duration) *MultiRepoManager {
	if outerTimeout <= 0 {
		outerTimeout = 10 * time.Second
	}
	if innerTimeout <= 0 {
		innerTimeout = 5 * time.Second
	}

	repos := make([]authorizedRepo, 0, len(allowList))
	for _, ref := range allowList {
		repos = append(repos, authorizedRepo{
			Ref:  ref,
			Name: filepath.Base(ref),
			ID:   store.RepoID(ref),
		})
	}

	handles, _ := lru.NewWithEvict[string, *store.Store](handleCacheSize,
		func(_ string, s *store.Store) { _ = s.Close() })

	return &MultiRepoManager{
		authorized:   repos,
		searchPaths:  searchPaths,
		handles:      handles,
		outerTimeout: outerTimeout,
		innerTimeout: innerTimeout,
	}
}

// Authorize resolves a repository reference against the allow-list.
// The reference may be a numeric position, a configured path/URL, or a
// URL-derived hash. Returns Unauthorized when the reference is not
// allow-listed.
func (m *MultiRepoManager) Authorize(ref string) (*authorizedRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, err := strconv.Atoi(ref); err == nil && idx >= 0 && idx < len(m.authorized) {
		return &m.authorized[idx], nil
	}
	for i := range m.authorized {
		r := &m.authorized[i]
		if ref == r.Ref || ref == r.ID || ref == r.Name {
			return r, nil
		}
	}
	return nil, lserr.Newf(lserr.ErrCodeUnauthorized,
		"repository %q is not in the authorized reference set", ref).
		WithDetail("repo", ref)
}

// Repos returns the authorized repository names, sorted.
func (m *MultiRepoManager) Repos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.authorized))
	for _, r := range m.authorized {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// open resolves a repository to its index store handle, searching the
// configured index directories for <repo-id>.db.
func (m *MultiRepoManager) open(repo *authorizedRepo) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.handles.Get(repo.ID); ok {
		return s, nil
	}

	for _, dir := range m.searchPaths {
		path := filepath.Join(dir, repo.ID+".db")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		m.handles.Add(repo.ID, s)
		return s, nil
	}
	return nil, lserr.Newf(lserr.ErrCodePathNotFound,
		"no index found for repository %s", repo.Name)
}

// Search runs a BM25 search against one authorized repository under the
// outer timeout. On timeout or error the caller falls back to the local
// index. Hits are tagged with the repository name.
func (m *MultiRepoManager) Search(ctx context.Context, ref, query string, limit int) ([]SearchHit, error) {
	repo, err := m.Authorize(ref)
	if err != nil {
		return nil, err
	}

	s, err := m.open(repo)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.outerTimeout)
	defer cancel()

	hits, err := s.SearchBM25(ctx, query, limit)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, lserr.Newf(lserr.ErrCodeTimeout,
				"multi-repo search against %s exceeded %s", repo.Name, m.outerTimeout).
				WithDetail("query", query)
		}
		return nil, err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchHit{
			File:       h.FilePath,
			Snippet:    h.Snippet,
			Score:      h.Score,
			Repository: repo.Name,
		})
	}
	return out, nil
}

// SearchAll fans a query out to every authorized repository
// concurrently and merges results by score descending.
func (m *MultiRepoManager) SearchAll(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	m.mu.Lock()
	refs := make([]string, len(m.authorized))
	for i, r := range m.authorized {
		refs[i] = r.Ref
	}
	m.mu.Unlock()

	var (
		resMu  sync.Mutex
		merged []SearchHit
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error {
			hits, err := m.Search(gctx, ref, query, limit)
			if err != nil {
				// One unreachable repository must not sink the fan-out.
				return nil
			}
			resMu.Lock()
			merged = append(merged, hits...)
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].File < merged[j].File
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// InnerTimeout is the budget for the local fallback after a multi-repo
// failure.
func (m *MultiRepoManager) InnerTimeout() time.Duration {
	return m.innerTimeout
}

// Close releases all open reference store handles.
func (m *MultiRepoManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles.Purge()
}
