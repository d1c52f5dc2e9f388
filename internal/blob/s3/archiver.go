package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// Archiver moves old action records out of the hot store: records older than
// the retention window are serialized to JSONL, uploaded, and only then
// deleted from Postgres. A failed upload leaves the rows in place so the next
// run retries.
type Archiver struct {
	writer    domain.BlobWriter
	actions   domain.ActionStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver with the given retention window and run
// interval.
func NewArchiver(writer domain.BlobWriter, actions domain.ActionStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		actions:   actions,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives on the configured interval until the context is cancelled.
// One sweep runs immediately on start.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if n, err := a.Sweep(ctx); err != nil {
			a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("archive sweep complete", slog.Int64("archived", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep archives and deletes every record older than the retention window.
// It returns the number of records moved.
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	records, err := a.actions.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	deleted, err := a.actions.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload landed; the rows will be re-archived next sweep, which
		// is harmless because keys carry the sweep timestamp.
		return 0, fmt.Errorf("s3blob: archive delete after upload to %s: %w", path, err)
	}

	a.logger.Info("actions archived",
		slog.String("path", path),
		slog.Int("uploaded", len(records)),
		slog.Int64("deleted", deleted))
	return deleted, nil
}

// archivePath keys each sweep by its timestamp so repeated sweeps never
// overwrite each other:
//
//	archive/actions/2026-08-25T14-00-00Z.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("archive/actions/%s.jsonl", at.Format("2006-01-02T15-04-05Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL(records []domain.ActionRecord) ([]byte, error) {
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
