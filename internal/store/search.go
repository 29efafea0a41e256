package store

import (
	"context"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// SearchBM25 runs a ranked full-text query against the bm25_content
// virtual table. The score is the negated FTS5 rank, so higher is better.
// Result order is deterministic for equal inputs: rank, then file path.
func (s *Store) SearchBM25(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	if limit <= 0 {
		limit = 20
	}

	match := BuildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT filepath,
		       snippet(bm25_content, 1, '', '', '...', 10),
		       -rank
		FROM bm25_content
		WHERE bm25_content MATCH ?
		ORDER BY rank ASC, filepath ASC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to execute search")
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.FilePath, &h.Snippet, &h.Score); err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to scan hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DocumentCount returns the number of BM25 documents in the index.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed()
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bm25_content`).Scan(&n); err != nil {
		return 0, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to count documents")
	}
	return n, nil
}
