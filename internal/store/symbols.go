package store

import (
	"context"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// LookupSymbol returns definitions matching name exactly, scoped to a
// repository when repoID > 0. Ties are broken by file path lexicographic
// order, then line ascending.
func (s *Store) LookupSymbol(ctx context.Context, name string, repoID int64) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	query := `
		SELECT s.name, s.kind, f.language, s.signature, s.doc,
		       f.abs_path, f.rel_path, s.line_start, s.line_end
		FROM symbols s
		JOIN files f ON f.id = s.file_id`
	args := []any{name}
	if repoID > 0 {
		query += ` WHERE s.name = ? AND f.repo_id = ?`
		args = append(args, repoID)
	} else {
		query += ` WHERE s.name = ?`
	}
	query += ` ORDER BY f.abs_path ASC, s.line_start ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query symbols")
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var d Definition
		var kind string
		if err := rows.Scan(&d.Symbol, &kind, &d.Language, &d.Signature, &d.Doc,
			&d.FilePath, &d.RelPath, &d.StartLine, &d.EndLine); err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to scan symbol")
		}
		d.Kind = SymbolKind(kind)
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// FileSymbols returns all symbols recorded for a file, ordered by line.
func (s *Store) FileSymbols(ctx context.Context, fileID int64) ([]Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, line_start, line_end, signature, doc
		FROM symbols WHERE file_id = ? ORDER BY line_start ASC`, fileID)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to query file symbols")
	}
	defer rows.Close()

	var syms []Symbol
	for rows.Next() {
		var sym Symbol
		var kind string
		if err := rows.Scan(&sym.Name, &kind, &sym.StartLine, &sym.EndLine, &sym.Signature, &sym.Doc); err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to scan symbol")
		}
		sym.Kind = SymbolKind(kind)
		syms = append(syms, sym)
	}
	return syms, rows.Err()
}
