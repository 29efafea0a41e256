package scanner

import "sort"

// DefaultMaxFileSize is the largest file the scanner will emit (5 MiB).
const DefaultMaxFileSize = 5 * 1024 * 1024

// ScanOptions configures a directory scan.
type ScanOptions struct {
	// RootDir is the directory to scan. Defaults to ".".
	RootDir string

	// Recursive descends into subdirectories. Defaults to true when the
	// zero value is used via DefaultOptions.
	Recursive bool

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64

	// ExtraIgnores are additional directory names to skip.
	ExtraIgnores []string
}

// DefaultOptions returns scan options for a recursive scan of root.
func DefaultOptions(root string) *ScanOptions {
	return &ScanOptions{
		RootDir:     root,
		Recursive:   true,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// FileInfo describes a discovered source file.
type FileInfo struct {
	// AbsPath is the absolute path to the file.
	AbsPath string
	// RelPath is the path relative to the scan root.
	RelPath string
	// Language is the detected language tag, or "" if unknown.
	Language string
	// Size is the file size in bytes.
	Size int64
}

// SizeBucket classifies files by size for observability.
type SizeBucket string

const (
	SizeBucketSmall  SizeBucket = "small"  // < 10 KiB
	SizeBucketMedium SizeBucket = "medium" // 10 KiB - 100 KiB
	SizeBucketLarge  SizeBucket = "large"  // > 100 KiB
)

// BucketFor returns the size bucket for a file of the given byte size.
func BucketFor(size int64) SizeBucket {
	switch {
	case size > 100*1024:
		return SizeBucketLarge
	case size >= 10*1024:
		return SizeBucketMedium
	default:
		return SizeBucketSmall
	}
}

// ignoredDirs are directory names never descended into: version control
// internals, dependency caches, and build outputs.
var ignoredDirs = map[string]struct{}{
	".git":          {},
	".hg":           {},
	".svn":          {},
	"node_modules":  {},
	"vendor":        {},
	"__pycache__":   {},
	".venv":         {},
	"venv":          {},
	"dist":          {},
	"build":         {},
	"target":        {},
	".idea":         {},
	".vscode":       {},
	".cache":        {},
	".tox":          {},
	".mypy_cache":   {},
	".pytest_cache": {},
}

// IsIgnoredDir reports whether a directory name is skipped during scans.
func IsIgnoredDir(name string) bool {
	_, ok := ignoredDirs[name]
	return ok
}

// languageByExt maps file extensions to language tags.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".kt":    "kotlin",
	".swift": "swift",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
}

// KnownLanguages returns the sorted set of language tags the scanner can
// detect.
func KnownLanguages() []string {
	seen := make(map[string]struct{}, len(languageByExt))
	for _, lang := range languageByExt {
		seen[lang] = struct{}{}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// LanguageForPath returns the language tag for a file path, or "" if the
// extension is not recognized.
func LanguageForPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return languageByExt[path[i:]]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
