package dispatch

import (
	"os"
	"path/filepath"
	"strings"
)

// PrefixMapping rewrites one canonical path prefix to a serving-host
// prefix.
type PrefixMapping struct {
	From string
	To   string
}

// PathTranslator rewrites canonical paths stored at indexing time into
// paths that exist on the serving host. Translation is a pure function
// of its configuration and the filesystem, and it is idempotent.
type PathTranslator struct {
	mappings []PrefixMapping
	exists   func(string) bool
}

// NewPathTranslator builds a translator for the given workspace root.
// Recognized canonical prefixes (container-style /workspace, /repo,
// /src) map onto the root.
func NewPathTranslator(workspaceRoot string, extra []PrefixMapping) *PathTranslator {
	mappings := make([]PrefixMapping, 0, len(extra)+3)
	mappings = append(mappings, extra...)
	if workspaceRoot != "" {
		for _, prefix := range []string{"/workspace", "/repo", "/src"} {
			mappings = append(mappings, PrefixMapping{From: prefix, To: workspaceRoot})
		}
	}
	return &PathTranslator{
		mappings: mappings,
		exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
}

// Translate rewrites a stored canonical path to a filesystem-accessible
// form. If the path already exists it is returned unchanged; if a
// recognized prefix maps to an existing path, the substitution is
// returned; otherwise the original relative form is returned so callers
// still see where the file was indexed from.
func (t *PathTranslator) Translate(path string) string {
	if path == "" {
		return path
	}
	if t.exists(path) {
		return path
	}

	for _, m := range t.mappings {
		if path == m.From {
			return m.To
		}
		if rest, ok := strings.CutPrefix(path, m.From+"/"); ok {
			candidate := filepath.Join(m.To, rest)
			if t.exists(candidate) {
				return candidate
			}
		}
	}

	// Fall back to the relative form of the stored path.
	return strings.TrimPrefix(path, "/")
}
