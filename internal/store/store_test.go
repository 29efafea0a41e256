package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// Helper to create an in-memory test store with cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRepo(t *testing.T, s *Store, path string) int64 {
	t.Helper()
	id, err := s.CreateRepository(context.Background(), path, filepath.Base(path), RepoMetadata{Type: RepoTypeLocal})
	require.NoError(t, err)
	return id
}

func TestUpsertFile_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	content := []byte("package main\n\nfunc ParseConfig() {}\n")
	symbols := []Symbol{
		{Name: "ParseConfig", Kind: SymbolKindFunction, StartLine: 3, EndLine: 3, Signature: "func ParseConfig() {}"},
	}

	result, err := s.UpsertFile(ctx, repoID, "/proj/main.go", "main.go", "go", content, symbols, false)
	require.NoError(t, err)
	assert.Equal(t, UpsertIndexed, result.Status)
	assert.Equal(t, 1, result.Symbols)

	file, err := s.FileByPath(ctx, repoID, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "/proj/main.go", file.AbsPath)
	assert.Equal(t, "go", file.Language)
	assert.Equal(t, ContentHash(content), file.Hash)
	assert.False(t, file.IndexedAt.IsZero())

	defs, err := s.LookupSymbol(ctx, "ParseConfig", 0)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, SymbolKindFunction, defs[0].Kind)
	assert.Equal(t, 3, defs[0].StartLine)
	assert.Equal(t, "/proj/main.go", defs[0].FilePath)
}

func TestUpsertFile_UnchangedIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")
	content := []byte("func helper() {}\n")

	first, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go", content, nil, false)
	require.NoError(t, err)
	assert.Equal(t, UpsertIndexed, first.Status)

	// Same content: skipped by hash comparison.
	second, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go", content, nil, false)
	require.NoError(t, err)
	assert.Equal(t, UpsertUnchanged, second.Status)
	assert.Equal(t, first.FileID, second.FileID)

	// Force overrides the skip.
	third, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go", content, nil, true)
	require.NoError(t, err)
	assert.Equal(t, UpsertIndexed, third.Status)
}

func TestUpsertFile_ReplacesSymbolsAndDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	_, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go",
		[]byte("func Old() {}\n"),
		[]Symbol{{Name: "Old", Kind: SymbolKindFunction, StartLine: 1, EndLine: 1}}, false)
	require.NoError(t, err)

	_, err = s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go",
		[]byte("func New() {}\n"),
		[]Symbol{{Name: "New", Kind: SymbolKindFunction, StartLine: 1, EndLine: 1}}, false)
	require.NoError(t, err)

	old, err := s.LookupSymbol(ctx, "Old", 0)
	require.NoError(t, err)
	assert.Empty(t, old)

	hits, err := s.SearchBM25(ctx, "New", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Exactly one document per file after the rewrite.
	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
}

func TestUpsertFile_MovedFileLeavesOneDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	_, err := s.UpsertFile(ctx, repoID, "/mnt/old/proj/a.go", "a.go", "go",
		[]byte("func Original() {}\n"), nil, false)
	require.NoError(t, err)

	// Same rel path under a new absolute path: the prior BM25 document
	// keyed by the old abs path must not survive the rewrite.
	_, err = s.UpsertFile(ctx, repoID, "/mnt/new/proj/a.go", "a.go", "go",
		[]byte("func Relocated() {}\n"), nil, false)
	require.NoError(t, err)

	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)

	hits, err := s.SearchBM25(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchBM25(ctx, "relocated", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/mnt/new/proj/a.go", hits[0].FilePath)
}

func TestDeleteFile_RemovesSymbolsAndDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	_, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go",
		[]byte("func Gone() {}\n"),
		[]Symbol{{Name: "Gone", Kind: SymbolKindFunction, StartLine: 1, EndLine: 1}}, false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, repoID, "a.go"))

	defs, err := s.LookupSymbol(ctx, "Gone", 0)
	require.NoError(t, err)
	assert.Empty(t, defs)

	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs)

	err = s.DeleteFile(ctx, repoID, "a.go")
	assert.Equal(t, lserr.ErrCodePathNotFound, lserr.CodeOf(err))
}

func TestSearchBM25_RanksAndTokenizes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	files := map[string]string{
		"config.go": "func ParseConfig() {}\nfunc parseConfigFile() {}\n",
		"server.go": "func StartServer() {}\n",
	}
	for name, content := range files {
		_, err := s.UpsertFile(ctx, repoID, "/proj/"+name, name, "go", []byte(content), nil, false)
		require.NoError(t, err)
	}

	// camelCase identifiers match their word parts.
	hits, err := s.SearchBM25(ctx, "config", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/proj/config.go", hits[0].FilePath)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = s.SearchBM25(ctx, "nosuchthing", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchBM25_DeterministicOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	// Identical content: rank ties must break on filepath.
	for _, name := range []string{"b.go", "a.go", "c.go"} {
		_, err := s.UpsertFile(ctx, repoID, "/proj/"+name, name, "go",
			[]byte("func widget() {}\n"), nil, false)
		require.NoError(t, err)
	}

	first, err := s.SearchBM25(ctx, "widget", 10)
	require.NoError(t, err)
	second, err := s.SearchBM25(ctx, "widget", 10)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].FilePath, second[i].FilePath)
	}
	assert.Equal(t, "/proj/a.go", first[0].FilePath)
}

func TestLookupSymbol_OrderAndScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoA := newTestRepo(t, s, "/a")
	repoB := newTestRepo(t, s, "/b")

	_, err := s.UpsertFile(ctx, repoA, "/a/z.go", "z.go", "go", []byte("func Dup() {}\n"),
		[]Symbol{{Name: "Dup", Kind: SymbolKindFunction, StartLine: 9, EndLine: 9}}, false)
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, repoB, "/b/a.go", "a.go", "go", []byte("func Dup() {}\n"),
		[]Symbol{{Name: "Dup", Kind: SymbolKindFunction, StartLine: 2, EndLine: 2}}, false)
	require.NoError(t, err)

	// Unscoped: ordered by path then line, stable across calls.
	defs, err := s.LookupSymbol(ctx, "Dup", 0)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "/a/z.go", defs[0].FilePath)

	// Scoped to one repository.
	defs, err = s.LookupSymbol(ctx, "Dup", repoB)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "/b/a.go", defs[0].FilePath)
}

func TestValidate_MissingPathsMarkStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	dir := t.TempDir()
	real := filepath.Join(dir, "real.go")
	require.NoError(t, os.WriteFile(real, []byte("package x\n"), 0o644))

	// One existing file, two vanished ones: 2/3 missing exceeds 50%.
	for i, abs := range []string{real, filepath.Join(dir, "gone1.go"), filepath.Join(dir, "gone2.go")} {
		rel := filepath.Base(abs)
		_, err := s.UpsertFile(ctx, repoID, abs, rel, "go", []byte("package x\n"+string(rune('a'+i))), nil, false)
		require.NoError(t, err)
	}

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 3, report.FilesChecked)
	assert.Equal(t, 2, report.MissingPaths)
	assert.NotEmpty(t, report.Issues)
}

func TestValidate_EmptyIndexIsValid(t *testing.T) {
	s := newTestStore(t)

	report, err := s.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.FilesChecked)
}

func TestValidate_FilesWithoutDocumentsIsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repoID := newTestRepo(t, s, "/proj")

	_, err := s.UpsertFile(ctx, repoID, "/proj/a.go", "a.go", "go", []byte("x"), nil, false)
	require.NoError(t, err)
	_, err = s.db.Exec(`DELETE FROM bm25_content`)
	require.NoError(t, err)

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Equal(t, lserr.ErrCodeSchemaMismatch, lserr.CodeOf(err))
}

func TestOpen_ClearsCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not sqlite"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// The corrupt file was cleared and a fresh schema created.
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Stats(context.Background())
	assert.Error(t, err)
}

func TestRepository_CRUDAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := newTestRepo(t, s, "/proj")
	// Idempotent on path.
	again, err := s.CreateRepository(ctx, "/proj", "proj", RepoMetadata{Type: RepoTypeLocal})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = s.UpsertFile(ctx, id, "/proj/a.go", "a.go", "go", []byte("func A() {}\n"),
		[]Symbol{{Name: "A", Kind: SymbolKindFunction, StartLine: 1, EndLine: 1}}, false)
	require.NoError(t, err)

	repo, err := s.GetRepository(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/proj", repo.Path)
	assert.Equal(t, 1, repo.FileCount)

	require.NoError(t, s.DeleteRepository(ctx, id))

	count, err := s.FileCount(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)

	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs)
}
