package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// CreateRepository inserts a repository row and returns its stable id.
// Creating a repository whose path already exists returns the existing id.
func (s *Store) CreateRepository(ctx context.Context, path, name string, meta RepoMetadata) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed()
	}

	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM repositories WHERE path = ?`, path).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return 0, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query repository")
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, lserr.Wrap(err, lserr.ErrCodeInternal, "failed to encode metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (path, name, metadata, created_at) VALUES (?, ?, ?, ?)`,
		path, name, string(metaJSON), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return 0, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to insert repository")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to read repository id")
	}
	return id, nil
}

// GetRepository returns a repository by id, including its file count.
func (s *Store) GetRepository(ctx context.Context, id int64) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	return s.scanRepo(ctx, `WHERE id = ?`, id)
}

// GetRepositoryByPath returns a repository by its absolute path.
func (s *Store) GetRepositoryByPath(ctx context.Context, path string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	return s.scanRepo(ctx, `WHERE path = ?`, path)
}

func (s *Store) scanRepo(ctx context.Context, where string, arg any) (*Repository, error) {
	var r Repository
	var metaJSON, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.path, r.name, r.metadata, r.created_at,
		       (SELECT COUNT(*) FROM files WHERE repo_id = r.id)
		FROM repositories r `+where, arg).
		Scan(&r.ID, &r.Path, &r.Name, &metaJSON, &createdAt, &r.FileCount)
	if err == sql.ErrNoRows {
		return nil, lserr.New(lserr.ErrCodePathNotFound, "repository not found", nil)
	}
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query repository")
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to decode metadata")
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// ListRepositories returns repositories matching the filter, with joined
// file counts computed on demand.
func (s *Store) ListRepositories(ctx context.Context, filter RepoFilter) ([]Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.path, r.name, r.metadata, r.created_at,
		       (SELECT COUNT(*) FROM files WHERE repo_id = r.id)
		FROM repositories r ORDER BY r.id ASC`)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to list repositories")
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		var metaJSON, createdAt string
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &metaJSON, &createdAt, &r.FileCount); err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to scan repository")
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			continue
		}
		r.CreatedAt = parseTime(createdAt)

		if filter.Type != "" && r.Metadata.Type != filter.Type {
			continue
		}
		if filter.Language != "" && r.Metadata.Language != filter.Language {
			continue
		}
		if filter.Temporary != nil && r.Metadata.Temporary != *filter.Temporary {
			continue
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// DeleteRepository removes a repository and cascades to its files,
// symbols, and BM25 documents.
func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
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

	// bm25_content is a virtual table outside the FK graph; clear its
	// rows for this repo's files before the cascade delete.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM bm25_content WHERE filepath IN
			(SELECT abs_path FROM files WHERE repo_id = ?)`, id); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete documents")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to delete repository")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lserr.New(lserr.ErrCodePathNotFound, "repository not found", nil)
	}
	return tx.Commit()
}

// CleanupExpiredRepositories deletes temporary repositories whose
// cleanup window has passed. Returns the number removed.
func (s *Store) CleanupExpiredRepositories(ctx context.Context, now time.Time) (int, error) {
	repos, err := s.ListRepositories(ctx, RepoFilter{Temporary: boolPtr(true)})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, r := range repos {
		if r.Metadata.CleanupAfter == nil || now.Before(*r.Metadata.CleanupAfter) {
			continue
		}
		if err := s.DeleteRepository(ctx, r.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func boolPtr(b bool) *bool { return &b }
