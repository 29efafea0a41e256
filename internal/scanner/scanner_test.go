package scanner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func scanAll(t *testing.T, root string) map[string]FileInfo {
	t.Helper()
	files, err := New().Scan(context.Background(), DefaultOptions(root))
	require.NoError(t, err)
	byRel := make(map[string]FileInfo, len(files))
	for _, f := range files {
		byRel[f.RelPath] = f
	}
	return byRel
}

func TestScan_SkipsIgnoredDirsAndDotFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "pkg/util.go", []byte("package pkg\n"))
	writeFile(t, root, "node_modules/lib/index.js", []byte("x\n"))
	writeFile(t, root, ".git/config", []byte("x\n"))
	writeFile(t, root, "vendor/dep/dep.go", []byte("x\n"))
	writeFile(t, root, ".env", []byte("SECRET=1\n"))
	writeFile(t, root, ".hidden/notes.md", []byte("x\n"))

	files := scanAll(t, root)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "main.go")
	assert.Contains(t, files, "pkg/util.go")
}

func TestScan_FiltersEmptyAndOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "empty.go", nil)
	writeFile(t, root, "big.go", bytes.Repeat([]byte("a"), 200))
	writeFile(t, root, "ok.go", []byte("package main\n"))

	opts := DefaultOptions(root)
	opts.MaxFileSize = 100
	files, err := New().Scan(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ok.go", files[0].RelPath)
}

func TestScan_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.go", []byte("package main\n"))
	writeFile(t, root, "sub/deep.go", []byte("package sub\n"))

	files, err := New().Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "top.go", files[0].RelPath)
}

func TestScan_ExtraIgnores(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "generated/gen.go", []byte("package generated\n"))

	opts := DefaultOptions(root)
	opts.ExtraIgnores = []string{"generated"}
	files, err := New().Scan(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].RelPath)
}

func TestScan_PopulatesLanguageAndSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "data.csv", []byte("a,b\n"))

	files := scanAll(t, root)
	assert.Equal(t, "go", files["main.go"].Language)
	assert.Equal(t, int64(13), files["main.go"].Size)
	// Unknown extensions are still emitted, just without a language tag.
	assert.Equal(t, "", files["data.csv"].Language)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := New().Scan(context.Background(), DefaultOptions(filepath.Join(t.TempDir(), "nope")))
	assert.Error(t, err)
}

func TestScan_NilOptions(t *testing.T) {
	_, err := New().Scan(context.Background(), nil)
	assert.Error(t, err)
}

func TestLanguageForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.tsx", "typescript"},
		{"scripts/run.sh", "shell"},
		{"README.md", "markdown"},
		{"archive.tar.gz", ""},
		{"Makefile", ""},
		{"dir.with.dots/noext", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LanguageForPath(tt.path), tt.path)
	}
}

func TestIsIgnoredDir(t *testing.T) {
	assert.True(t, IsIgnoredDir("node_modules"))
	assert.True(t, IsIgnoredDir(".git"))
	assert.True(t, IsIgnoredDir("__pycache__"))
	assert.False(t, IsIgnoredDir("src"))
	assert.False(t, IsIgnoredDir("internal"))
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte{0x7f, 'E', 'L', 'F', 0x00}))
	assert.False(t, IsBinary([]byte("just text\nwith lines\n")))
	assert.False(t, IsBinary(nil))

	// A NUL past the 8000-byte probe window is not seen.
	content := append(bytes.Repeat([]byte("a"), 9000), 0x00)
	assert.False(t, IsBinary(content))
}

func TestKnownLanguages_SortedAndDeduplicated(t *testing.T) {
	langs := KnownLanguages()
	require.NotEmpty(t, langs)
	assert.IsNonDecreasing(t, langs)
	assert.Contains(t, langs, "go")
	assert.Contains(t, langs, "python")

	seen := map[string]bool{}
	for _, l := range langs {
		assert.False(t, seen[l], "duplicate language %q", l)
		seen[l] = true
	}
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, SizeBucketSmall, BucketFor(0))
	assert.Equal(t, SizeBucketSmall, BucketFor(10*1024-1))
	assert.Equal(t, SizeBucketMedium, BucketFor(10*1024))
	assert.Equal(t, SizeBucketMedium, BucketFor(100*1024))
	assert.Equal(t, SizeBucketLarge, BucketFor(100*1024+1))
}
