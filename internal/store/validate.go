package store

import (
	"context"
	"fmt"
	"os"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// validationSampleSize is the number of BM25 rows sampled by the
// staleness probe.
const validationSampleSize = 10

// Validate runs the staleness probe: it samples up to ten BM25 document
// paths and checks that they still exist on the filesystem. The index is
// reported invalid when more than half the sample is missing, or when it
// holds files but no documents.
func (s *Store) Validate(ctx context.Context) (ValidationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ValidationReport{}, errClosed()
	}

	report := ValidationReport{Valid: true}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&report.FileCount); err != nil {
		return report, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to count files")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bm25_content`).Scan(&report.DocCount); err != nil {
		return report, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to count documents")
	}

	if report.FileCount > 0 && report.DocCount == 0 {
		report.Valid = false
		report.Issues = append(report.Issues, "index has files but no searchable documents")
		return report, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT filepath FROM bm25_content LIMIT ?`, validationSampleSize)
	if err != nil {
		return report, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to sample documents")
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return report, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to scan sample")
		}
		report.FilesChecked++
		if _, err := os.Stat(path); err != nil {
			report.MissingPaths++
			report.Issues = append(report.Issues, fmt.Sprintf("indexed path missing: %s", path))
		}
	}
	if err := rows.Err(); err != nil {
		return report, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to iterate sample")
	}

	if report.FilesChecked > 0 && report.MissingPaths*2 > report.FilesChecked {
		report.Valid = false
	}
	return report, nil
}
