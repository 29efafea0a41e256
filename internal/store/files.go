package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// timeFormat is the timestamp format stored in the database.
const timeFormat = time.RFC3339Nano

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

// UpsertFile atomically writes one file, its symbols, and its BM25
// document. If the stored hash matches the content hash and force is
// false, nothing is written and the result reports UpsertUnchanged.
//
// The transaction guarantees that no half-updated file is ever observable
// and that a crash mid-ingest leaves the prior version intact.
func (s *Store) UpsertFile(ctx context.Context, repoID int64, absPath, relPath, language string, content []byte, symbols []Symbol, force bool) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return UpsertResult{}, errClosed()
	}

	hash := ContentHash(content)

	var existingID int64
	var existingHash, existingAbsPath string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash, abs_path FROM files WHERE repo_id = ? AND rel_path = ?`,
		repoID, relPath).Scan(&existingID, &existingHash, &existingAbsPath)
	if err != nil && err != sql.ErrNoRows {
		return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query file")
	}
	if err == nil && existingHash == hash && !force {
		return UpsertResult{Status: UpsertUnchanged, FileID: existingID}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeFormat)
	var fileID int64

	if existingID != 0 {
		fileID = existingID
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete prior symbols")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET abs_path = ?, language = ?, size = ?, hash = ?, indexed_at = ? WHERE id = ?`,
			absPath, language, len(content), hash, now, fileID); err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to update file")
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO files (repo_id, abs_path, rel_path, language, size, hash, indexed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			repoID, absPath, relPath, language, len(content), hash, now)
		if err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to insert file")
		}
		fileID, err = res.LastInsertId()
		if err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to read file id")
		}
	}

	// FTS5 has no REPLACE; delete then insert keeps exactly one document
	// per file. The prior document may live under a different abs_path
	// when the file moved while the rel path stayed the same.
	if existingAbsPath != "" && existingAbsPath != absPath {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_content WHERE filepath = ?`, existingAbsPath); err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete prior document")
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_content WHERE filepath = ?`, absPath); err != nil {
		return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete prior document")
	}
	tokenized := strings.Join(TokenizeCode(string(content)), " ")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bm25_content (filepath, content) VALUES (?, ?)`, absPath, tokenized); err != nil {
		return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to insert document")
	}

	if len(symbols) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO symbols (file_id, name, kind, line_start, line_end, signature, doc)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to prepare symbol insert")
		}
		defer stmt.Close()
		for _, sym := range symbols {
			kind := sym.Kind
			if kind == "" {
				kind = SymbolKindOther
			}
			if _, err := stmt.ExecContext(ctx,
				fileID, sym.Name, string(kind), sym.StartLine, sym.EndLine, sym.Signature, sym.Doc); err != nil {
				return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex,
					fmt.Sprintf("failed to insert symbol %s", sym.Name))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to commit")
	}
	return UpsertResult{Status: UpsertIndexed, FileID: fileID, Symbols: len(symbols)}, nil
}

// DeleteFile removes a file row, its symbols (cascade), and its BM25
// document in one transaction.
func (s *Store) DeleteFile(ctx context.Context, repoID int64, relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var absPath string
	err = tx.QueryRowContext(ctx,
		`SELECT abs_path FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath).Scan(&absPath)
	if err == sql.ErrNoRows {
		return lserr.Newf(lserr.ErrCodePathNotFound, "file not indexed: %s", relPath)
	}
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query file")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete file")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bm25_content WHERE filepath = ?`, absPath); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete document")
	}
	return tx.Commit()
}

// FileByPath returns the file record for (repoID, relPath).
func (s *Store) FileByPath(ctx context.Context, repoID int64, relPath string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	var f FileRecord
	var indexedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_id, abs_path, rel_path, language, size, hash, indexed_at
		 FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath).
		Scan(&f.ID, &f.RepoID, &f.AbsPath, &f.RelPath, &f.Language, &f.Size, &f.Hash, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, lserr.Newf(lserr.ErrCodePathNotFound, "file not indexed: %s", relPath)
	}
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query file")
	}
	f.IndexedAt = parseTime(indexedAt)
	return &f, nil
}

// FileCount returns the number of files indexed for a repository.
func (s *Store) FileCount(ctx context.Context, repoID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed()
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE repo_id = ?`, repoID).Scan(&n)
	if err != nil {
		return 0, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to count files")
	}
	return n, nil
}
