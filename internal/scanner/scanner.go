// Package scanner discovers indexable source files in a project tree.
// It skips version-control internals, dependency caches, and build
// outputs, detects languages by extension, and filters binary files.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Scanner discovers indexable files in a project directory.
type Scanner struct {
	maxFileSize int64
}

// New creates a new Scanner instance.
func New() *Scanner {
	return &Scanner{maxFileSize: DefaultMaxFileSize}
}

// Scan walks the tree rooted at opts.RootDir and returns the indexable
// files found. The context cancels a long walk between directory entries.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) ([]FileInfo, error) {
	if opts == nil {
		return nil, fmt.Errorf("scan options are required")
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = s.maxFileSize
	}

	extra := make(map[string]struct{}, len(opts.ExtraIgnores))
	for _, name := range opts.ExtraIgnores {
		extra[name] = struct{}{}
	}

	var files []FileInfo
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			name := d.Name()
			if IsIgnoredDir(name) || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, ok := extra[name]; ok {
				return filepath.SkipDir
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize || fi.Size() == 0 {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		files = append(files, FileInfo{
			AbsPath:  path,
			RelPath:  filepath.ToSlash(rel),
			Language: LanguageForPath(name),
			Size:     fi.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return files, nil
}

// IsBinary reports whether content looks like binary data.
// It checks for NUL bytes in the first 8000 bytes, the same heuristic git uses.
func IsBinary(content []byte) bool {
	n := len(content)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(content[:n], 0) >= 0
}
