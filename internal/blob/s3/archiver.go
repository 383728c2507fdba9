package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// ExecutionArchiveStore provides the time-ranged queries the archiver needs.
// The archiver only requires these two methods, not the full execution
// store interface; the Postgres store satisfies it implicitly.
type ExecutionArchiveStore interface {
	// ListBefore returns all records finished strictly before the cutoff,
	// oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
	// DeleteBefore removes records finished strictly before the cutoff and
	// returns the number deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig tunes the background archive loop.
type ArchiverConfig struct {
	// Interval between archive passes. Defaults to 24h.
	Interval time.Duration

	// Retention is how long terminal execution records stay in the primary
	// store before they are archived. Defaults to 90 days.
	Retention time.Duration

	// Prune removes archived records from the primary store after a
	// successful upload. Off by default: deletion only happens when asked.
	Prune bool
}

func (c ArchiverConfig) withDefaults() ArchiverConfig {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 90 * 24 * time.Hour
	}
	return c
}

// Archiver moves aged terminal execution records out of the primary store
// into object storage as monthly JSONL files. Each pass uploads everything
// older than the retention window and, when pruning is enabled, deletes the
// uploaded rows afterwards. Uploads are idempotent per month key, so a pass
// that dies between upload and delete re-uploads on the next run instead of
// losing data.
type Archiver struct {
	writer     domain.BlobWriter
	executions ExecutionArchiveStore
	audit      domain.AuditStore
	cfg        ArchiverConfig
	logger     *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil when no audit sink is
// wired.
func NewArchiver(
	writer domain.BlobWriter,
	executions ExecutionArchiveStore,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:     writer,
		executions: executions,
		audit:      audit,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on a fixed interval until ctx is done. One pass runs
// immediately so a freshly deployed engine catches up without waiting a full
// interval.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Duration("retention", a.cfg.Retention),
	)

	a.pass(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			a.pass(ctx)
		}
	}
}

func (a *Archiver) pass(ctx context.Context) {
	before := time.Now().UTC().Add(-a.cfg.Retention)

	count, err := a.ArchiveExecutions(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		return
	}
	if count == 0 {
		return
	}
	a.logger.InfoContext(ctx, "executions archived",
		slog.Int64("count", count),
		slog.Time("before", before),
	)

	if !a.cfg.Prune {
		return
	}
	deleted, err := a.PruneExecutions(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive prune failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "archived executions pruned", slog.Int64("count", deleted))
}

// ArchiveExecutions queries all terminal records finished before the cutoff,
// serializes them to JSONL, and uploads the file to object storage at
// archive/executions/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(records))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}

	return count, nil
}

// PruneExecutions deletes records finished before the cutoff from the
// primary store. Call it only after the matching archive upload succeeded.
func (a *Archiver) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := a.executions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune executions: %w", err)
	}

	if deleted > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.pruned", map[string]any{
			"count":  deleted,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return deleted, fmt.Errorf("s3blob: prune executions audit log: %w", err)
		}
	}

	return deleted, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
