package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// archiveBatch caps how many rows one pass drains per table.
const archiveBatch = 10000

// Archiver drains aged P&L and signal-audit rows into date-stamped JSONL
// objects, deleting the rows only after the upload succeeds.
type Archiver struct {
	writer    *Writer
	pnl       domain.PnLStore
	audit     domain.SignalAuditStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long rows stay in
// PostgreSQL before they are moved out.
func NewArchiver(writer *Writer, pnl domain.PnLStore, audit domain.SignalAuditStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		pnl:       pnl,
		audit:     audit,
		retention: retention,
		logger:    logger.With("component", "archiver"),
	}
}

// Run archives once a day until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Archive(ctx); err != nil {
				a.logger.Error("archive pass failed", "error", err)
			}
		}
	}
}

// Archive runs one pass over both tables.
func (a *Archiver) Archive(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	if err := a.archivePnL(ctx, cutoff); err != nil {
		return err
	}
	return a.archiveAudits(ctx, cutoff)
}

func (a *Archiver) archivePnL(ctx context.Context, cutoff time.Time) error {
	rows, err := a.pnl.ListBefore(ctx, cutoff, archiveBatch)
	if err != nil {
		return fmt.Errorf("s3blob: list pnl rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("s3blob: encode pnl row: %w", err)
		}
	}

	key := archiveKey("pnl", cutoff)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}

	deleted, err := a.pnl.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: delete archived pnl rows: %w", err)
	}

	a.logger.Info("pnl rows archived", "key", key, "rows", len(rows), "deleted", deleted)
	return nil
}

func (a *Archiver) archiveAudits(ctx context.Context, cutoff time.Time) error {
	rows, err := a.audit.ListBefore(ctx, cutoff, archiveBatch)
	if err != nil {
		return fmt.Errorf("s3blob: list signal audits: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("s3blob: encode signal audit: %w", err)
		}
	}

	key := archiveKey("signal_audit", cutoff)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}

	deleted, err := a.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: delete archived signal audits: %w", err)
	}

	a.logger.Info("signal audits archived", "key", key, "rows", len(rows), "deleted", deleted)
	return nil
}

func archiveKey(table string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", table, cutoff.Format("2006-01-02T150405"))
}
