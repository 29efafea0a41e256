package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/store"
)

// fakePlugin is a minimal Plugin for registry tests.
type fakePlugin struct {
	language string
	indexErr error
	panics   bool
}

func (f *fakePlugin) Language() string          { return f.language }
func (f *fakePlugin) Supports(path string) bool { return true }

func (f *fakePlugin) IndexFile(_ context.Context, path string, _ []byte) (*IndexShard, error) {
	if f.panics {
		panic("extractor exploded")
	}
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return &IndexShard{File: path, Language: f.language}, nil
}

func (f *fakePlugin) GetDefinition(context.Context, string) (*store.Definition, error) {
	return nil, nil
}

func (f *fakePlugin) FindReferences(context.Context, string) ([]Reference, error) {
	return nil, nil
}

func TestRegistry_EagerPlugins(t *testing.T) {
	r := NewRegistry([]Plugin{&fakePlugin{language: "go"}}, nil, time.Second, nil)

	handle, err := r.Get(context.Background(), "go")
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "go", handle.Language())
	assert.Equal(t, []string{"go"}, r.Loaded())
}

func TestRegistry_LazyLoadMemoizes(t *testing.T) {
	calls := 0
	factory := func(language string) (Plugin, error) {
		calls++
		return &fakePlugin{language: language}, nil
	}
	r := NewRegistry(nil, factory, time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		handle, err := r.Get(ctx, "python")
		require.NoError(t, err)
		require.NotNil(t, handle)
	}
	assert.Equal(t, 1, calls, "factory must run once per language")
}

func TestRegistry_FailedLoadIsSkipped(t *testing.T) {
	calls := 0
	factory := func(string) (Plugin, error) {
		calls++
		return nil, errors.New("grammar missing")
	}
	r := NewRegistry(nil, factory, time.Second, nil)
	ctx := context.Background()

	handle, err := r.Get(ctx, "cobol")
	require.NoError(t, err)
	assert.Nil(t, handle)

	// The negative result is memoized; the factory is not retried.
	handle, err = r.Get(ctx, "cobol")
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, 1, calls)

	assert.Contains(t, r.Skipped()["cobol"], "grammar missing")
}

func TestRegistry_LoadTimeoutSkips(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	factory := func(string) (Plugin, error) {
		<-block
		return nil, nil
	}
	r := NewRegistry(nil, factory, 50*time.Millisecond, nil)

	start := time.Now()
	handle, err := r.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, r.Skipped()["slow"], "timed out")
}

func TestRegistry_NilFactorySkipsUnknown(t *testing.T) {
	r := NewRegistry(nil, nil, time.Second, nil)

	handle, err := r.Get(context.Background(), "ruby")
	require.NoError(t, err)
	assert.Nil(t, handle)
}

func TestHandle_PanicBecomesPluginFailure(t *testing.T) {
	r := NewRegistry([]Plugin{&fakePlugin{language: "go", panics: true}}, nil, time.Second, nil)

	handle, err := r.Get(context.Background(), "go")
	require.NoError(t, err)
	require.NotNil(t, handle)

	_, err = handle.IndexFile(context.Background(), "a.go", nil)
	require.Error(t, err)
	assert.Equal(t, lserr.ErrCodePluginFailure, lserr.CodeOf(err))

	// The plugin stays usable for the next call path; the panic did not
	// take the process down.
	assert.Equal(t, "go", handle.Language())
}

func TestHandle_SearchWithoutSearcherFails(t *testing.T) {
	r := NewRegistry([]Plugin{&fakePlugin{language: "go"}}, nil, time.Second, nil)
	handle, err := r.Get(context.Background(), "go")
	require.NoError(t, err)

	assert.False(t, handle.CanSearch())
	_, err = handle.Search(context.Background(), "query", SearchOptions{})
	assert.Equal(t, lserr.ErrCodePluginFailure, lserr.CodeOf(err))
}

func TestBuiltinFactory_ExtractsGoSymbols(t *testing.T) {
	factory := NewBuiltinFactory()
	p, err := factory("go")
	require.NoError(t, err)
	require.NotNil(t, p)

	source := []byte(`package demo

type Store interface {
	Get(key string) string
}

const maxRetries = 3

// Fetch returns the cached value.
func Fetch(key string) string { return "" }
`)
	shard, err := p.IndexFile(context.Background(), "demo.go", source)
	require.NoError(t, err)

	byName := map[string]store.Symbol{}
	for _, s := range shard.Symbols {
		byName[s.Name] = s
	}

	require.Contains(t, byName, "Fetch")
	assert.Equal(t, store.SymbolKindFunction, byName["Fetch"].Kind)
	assert.Equal(t, 10, byName["Fetch"].StartLine)
	assert.Equal(t, "Fetch returns the cached value.", byName["Fetch"].Doc)

	require.Contains(t, byName, "Store")
	assert.Equal(t, store.SymbolKindInterface, byName["Store"].Kind)

	require.Contains(t, byName, "maxRetries")
	assert.Equal(t, store.SymbolKindConstant, byName["maxRetries"].Kind)
}

func TestBuiltinFactory_UnknownLanguage(t *testing.T) {
	p, err := NewBuiltinFactory()("fortran")
	require.NoError(t, err)
	assert.Nil(t, p)
}
