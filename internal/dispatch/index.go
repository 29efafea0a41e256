package dispatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lodeworks/lodestone/internal/cache"
	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/scanner"
	"github.com/lodeworks/lodestone/internal/store"
)

// IndexFile ingests one file: reads content, extracts symbols through
// the language plugin when one is available, and writes the store row.
// Unchanged content is a no-op unless force is set.
func (d *Dispatcher) IndexFile(ctx context.Context, path string, force bool) (store.UpsertResult, error) {
	d.recordOp("index_file")

	abs, err := filepath.Abs(path)
	if err != nil {
		return store.UpsertResult{}, lserr.Wrap(err, lserr.ErrCodePathNotFound, "cannot resolve path")
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsPermission(err) {
			return store.UpsertResult{}, lserr.Wrap(err, lserr.ErrCodeFilePermission, "cannot read file")
		}
		return store.UpsertResult{}, lserr.Wrap(err, lserr.ErrCodePathNotFound, "cannot read file")
	}
	if scanner.IsBinary(content) {
		return store.UpsertResult{}, lserr.Newf(lserr.ErrCodeInvalidArgument, "binary file: %s", abs)
	}
	if max := d.cfg.Index.MaxFileSize; max > 0 && int64(len(content)) > max {
		return store.UpsertResult{}, lserr.Newf(lserr.ErrCodeFileTooLarge,
			"file exceeds %d bytes: %s", max, abs).
			WithDetail("size", strconv.FormatInt(int64(len(content)), 10))
	}

	rel, err := filepath.Rel(d.rootPath, abs)
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		rel = filepath.Base(abs)
	}
	rel = filepath.ToSlash(rel)

	result, err := d.ingestOne(ctx, scanner.FileInfo{
		AbsPath:  abs,
		RelPath:  rel,
		Language: scanner.LanguageForPath(abs),
		Size:     int64(len(content)),
	}, content, force)
	if err != nil {
		return result, err
	}
	if result.Status == store.UpsertIndexed {
		d.invalidateFile(ctx, abs)
	}
	return result, nil
}

// ingestOne runs symbol extraction and the store upsert for one file.
// Plugin failures degrade to a symbol-less BM25 document rather than
// failing the file.
func (d *Dispatcher) ingestOne(ctx context.Context, fi scanner.FileInfo, content []byte, force bool) (store.UpsertResult, error) {
	var symbols []store.Symbol
	if !d.cfg.Dispatcher.Simple && fi.Language != "" {
		handle, err := d.registry.Get(ctx, fi.Language)
		if err == nil && handle != nil {
			shard, perr := handle.IndexFile(ctx, fi.AbsPath, content)
			if perr != nil {
				d.logger.Warn("symbol_extraction_failed",
					slog.String("path", fi.AbsPath),
					slog.String("language", fi.Language),
					slog.String("error", perr.Error()))
			} else if shard != nil {
				symbols = shard.Symbols
			}
		}
	}
	return d.store.UpsertFile(ctx, d.repoID, fi.AbsPath, fi.RelPath, fi.Language, content, symbols, force)
}

// IndexDirectory walks a tree and ingests every indexable file,
// returning a per-language summary. The ingest lock serializes competing
// indexers on the same database.
func (d *Dispatcher) IndexDirectory(ctx context.Context, dir string, force bool) (*IndexSummary, error) {
	d.recordOp("index_directory")

	if dir == "" {
		dir = d.rootPath
	}
	files, err := d.scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:     dir,
		Recursive:   true,
		MaxFileSize: d.cfg.Index.MaxFileSize,
	})
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodePathNotFound, "scan failed")
	}

	release, err := d.store.AcquireIngestLock()
	if err != nil {
		return nil, err
	}
	defer release()

	summary := &IndexSummary{
		TotalFiles: len(files),
		ByLanguage: make(map[string]int),
	}
	var touched []string

	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		content, rerr := os.ReadFile(fi.AbsPath)
		if rerr != nil {
			summary.FailedFiles++
			continue
		}
		if scanner.IsBinary(content) {
			summary.IgnoredFiles++
			continue
		}

		result, uerr := d.ingestOne(ctx, fi, content, force)
		if uerr != nil {
			summary.FailedFiles++
			d.logger.Warn("index_file_failed",
				slog.String("path", fi.AbsPath),
				slog.String("error", uerr.Error()))
			continue
		}
		if result.Status == store.UpsertIndexed {
			summary.IndexedFiles++
			touched = append(touched, fi.AbsPath)
		} else {
			summary.IgnoredFiles++
		}
		lang := fi.Language
		if lang == "" {
			lang = "other"
		}
		summary.ByLanguage[lang]++
	}

	if len(touched) > 0 {
		d.invalidateAfterReindex(ctx, touched)
	}
	d.setStale(false)

	d.logger.Info("index_directory_done",
		slog.String("dir", dir),
		slog.Int("indexed", summary.IndexedFiles),
		slog.Int("ignored", summary.IgnoredFiles),
		slog.Int("failed", summary.FailedFiles))
	return summary, nil
}

// InvalidatePath removes a deleted file from the index and drops every
// cached result derived from it. Unknown paths are a no-op.
func (d *Dispatcher) InvalidatePath(ctx context.Context, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(d.rootPath, abs)
	if err != nil {
		rel = filepath.Base(abs)
	}
	rel = filepath.ToSlash(rel)

	if derr := d.store.DeleteFile(ctx, d.repoID, rel); derr != nil {
		d.logger.Debug("index_delete_skipped",
			slog.String("path", abs),
			slog.String("error", derr.Error()))
	}
	d.invalidateFile(ctx, abs)
	if d.queries != nil {
		d.queries.InvalidateTag(ctx, cache.TagSymbols)
		d.queries.InvalidateTag(ctx, cache.TagSearch)
	}
}

// invalidateFile drops cached results derived from one source file.
func (d *Dispatcher) invalidateFile(ctx context.Context, absPath string) {
	if d.queries == nil {
		return
	}
	d.queries.InvalidateFile(ctx, absPath)
}

// invalidateAfterReindex drops per-file entries plus the broad symbol
// and search tags; a batch reindex can shift global BM25 rankings.
func (d *Dispatcher) invalidateAfterReindex(ctx context.Context, paths []string) {
	if d.queries == nil {
		return
	}
	for _, p := range paths {
		d.queries.InvalidateFile(ctx, p)
	}
	d.queries.InvalidateTag(ctx, cache.TagSymbols)
	d.queries.InvalidateTag(ctx, cache.TagSearch)
	d.queries.InvalidateTag(ctx, cache.TagStatus)
}

// HealthCheck reports plugin, index, and cache state. A failing
// validation probe marks results stale but never fails the check.
func (d *Dispatcher) HealthCheck(ctx context.Context) *HealthStatus {
	d.recordOp("health_check")

	mode := "full"
	if d.cfg.Dispatcher.Simple {
		mode = "simple"
	}

	status := &HealthStatus{
		Status: "ok",
		Mode:   mode,
		Languages: LanguageStatus{
			Loaded:    d.registry.Loaded(),
			Supported: supportedLanguages(),
			Skipped:   d.registry.Skipped(),
		},
		Features: map[string]bool{
			"bm25_search":     true,
			"symbol_lookup":   true,
			"semantic_search": false,
			"multi_repo":      d.multi != nil,
			"query_cache":     d.queries != nil,
		},
		Timestamp: time.Now().UTC(),
	}
	status.PluginCount = len(status.Languages.Loaded)

	if stats, err := d.store.Stats(ctx); err == nil {
		status.Index = stats
	} else {
		status.Status = "degraded"
	}

	if report, err := d.store.Validate(ctx); err == nil {
		status.Validation = &report
		if !report.Valid {
			status.Status = "degraded"
			d.setStale(true)
		}
	}

	if d.queries != nil {
		status.Cache = d.queries.Stats()
		if !d.queries.Healthy(ctx) {
			status.Status = "degraded"
		}
	}

	d.mu.Lock()
	status.Operations = make(map[string]int64, len(d.opCounts))
	for k, v := range d.opCounts {
		status.Operations[k] = v
	}
	status.LastOperations = make(map[string]time.Time, len(d.lastOps))
	for k, v := range d.lastOps {
		status.LastOperations[k] = v
	}
	d.mu.Unlock()

	return status
}

// supportedLanguages is the set the scanner recognizes, independent of
// which plugins are currently loaded.
func supportedLanguages() []string {
	return scanner.KnownLanguages()
}

// Shutdown releases the dispatcher's resources. Safe to call once.
func (d *Dispatcher) Shutdown() {
	if d.multi != nil {
		d.multi.Close()
	}
	if d.queries != nil {
		d.queries.Close()
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("store_close_failed", slog.String("error", err.Error()))
	}
}
