// Package store provides the durable substrate for repositories, files,
// symbols, and the BM25 full-text index, backed by SQLite with FTS5.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindConstant  SymbolKind = "constant"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindEnum      SymbolKind = "enum"
	SymbolKindType      SymbolKind = "type"
	SymbolKindMacro     SymbolKind = "macro"
	SymbolKindModule    SymbolKind = "module"
	SymbolKindOther     SymbolKind = "other"
)

// Symbol is a named entity extracted from a source file.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	StartLine int
	EndLine   int
	Signature string
	Doc       string
}

// Definition is a resolved symbol definition joined with its file.
type Definition struct {
	Symbol    string
	Kind      SymbolKind
	Language  string
	Signature string
	Doc       string
	FilePath  string
	RelPath   string
	StartLine int
	EndLine   int
}

// FileRecord is a row in the files table.
type FileRecord struct {
	ID        int64
	RepoID    int64
	AbsPath   string
	RelPath   string
	Language  string
	Size      int64
	Hash      string
	IndexedAt time.Time
}

// RepoType classifies a repository row.
type RepoType string

const (
	RepoTypeLocal     RepoType = "local"
	RepoTypeReference RepoType = "reference"
	RepoTypeTemporary RepoType = "temporary"
	RepoTypeExternal  RepoType = "external"
)

// RepoMetadata holds the known repository metadata fields plus a typed
// extension map for the rest.
type RepoMetadata struct {
	Type         RepoType          `json:"type,omitempty"`
	Language     string            `json:"language,omitempty"`
	Purpose      string            `json:"purpose,omitempty"`
	Temporary    bool              `json:"temporary,omitempty"`
	CleanupAfter *time.Time        `json:"cleanup_after,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Repository is a row in the repositories table.
type Repository struct {
	ID        int64
	Path      string
	Name      string
	Metadata  RepoMetadata
	CreatedAt time.Time
	FileCount int
}

// RepoFilter narrows ListRepositories results.
type RepoFilter struct {
	Type      RepoType
	Language  string
	Temporary *bool
}

// SearchHit is a ranked BM25 match.
type SearchHit struct {
	FilePath string
	Snippet  string
	Score    float64
}

// UpsertStatus reports the outcome of an upsert.
type UpsertStatus string

const (
	// UpsertUnchanged means the content hash matched and nothing was written.
	UpsertUnchanged UpsertStatus = "unchanged"
	// UpsertIndexed means the file and its symbols were (re)written.
	UpsertIndexed UpsertStatus = "indexed"
)

// UpsertResult summarizes a single-file upsert.
type UpsertResult struct {
	Status  UpsertStatus
	FileID  int64
	Symbols int
}

// ValidationReport is the result of the staleness probe.
type ValidationReport struct {
	Valid        bool     `json:"valid"`
	Issues       []string `json:"issues,omitempty"`
	FilesChecked int      `json:"files_checked"`
	MissingPaths int      `json:"missing_paths"`
	FileCount    int      `json:"file_count"`
	DocCount     int      `json:"doc_count"`
}

// Stats summarizes index contents for status reporting.
type Stats struct {
	Repositories int       `json:"repositories"`
	Files        int       `json:"files"`
	Symbols      int       `json:"symbols"`
	Documents    int       `json:"documents"`
	SizeBytes    int64     `json:"size_bytes"`
	LastIndexed  time.Time `json:"last_indexed"`
}

// ContentHash returns the hex SHA-256 of file content at index time.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RepoID derives the deterministic identifier used to name a repository's
// index database: the first 16 hex chars of sha256 over the absolute path
// or remote URL.
func RepoID(pathOrURL string) string {
	sum := sha256.Sum256([]byte(pathOrURL))
	return hex.EncodeToString(sum[:])[:16]
}
