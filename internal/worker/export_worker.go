// Package worker exports committed ledger entries to the external statement.
// It consumes ledger events and sweeps for rows the event stream missed.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/export"
	"tally/internal/storage"
)

type ExportWorker struct {
	repo      *storage.Repository
	writer    export.StatementWriter
	batchSize int
}

func NewExportWorker(repo *storage.Repository, writer export.StatementWriter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		repo:      repo,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleEvent processes one ledger event from the queue. Returning an error
// requeues the delivery.
func (w *ExportWorker) HandleEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"transaction_id", event.TransactionID,
		"action", event.Action,
		"kind", event.Kind)

	if event.Action == amqp.ActionDeleted {
		// The row is gone; the statement keeps its history.
		slog.InfoContext(ctx, "Ledger entry deleted, nothing to export",
			"transaction_id", event.TransactionID)
		return nil
	}

	entry, err := w.repo.Queries().GetTransaction(ctx, event.TransactionID, event.UserID)
	if storage.IsNoRows(err) {
		// Deleted between publish and consume. Requeueing would never succeed.
		slog.WarnContext(ctx, "Transaction no longer exists, skipping export",
			"transaction_id", event.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	rowRef, err := w.writer.AppendStatementRow(ctx, entry)
	if err != nil {
		return fmt.Errorf("append statement row: %w", err)
	}
	if err := w.repo.Queries().MarkExported(ctx, entry.ID); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}

	slog.InfoContext(ctx, "Exported ledger entry",
		"transaction_id", entry.ID,
		"row_ref", rowRef)
	return nil
}

// SweepPending exports rows the event stream missed. Rows that fail here are
// flagged with export_error and not retried until the flag is cleared.
func (w *ExportWorker) SweepPending(ctx context.Context) error {
	pending, err := w.repo.Queries().ListPendingExport(ctx, int64(w.batchSize))
	if err != nil {
		return fmt.Errorf("list pending export: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Sweeping unexported entries", "count", len(pending))

	for _, entry := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rowRef, err := w.writer.AppendStatementRow(ctx, entry)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to export entry",
				"transaction_id", entry.ID,
				"error", err)
			if err := w.repo.Queries().MarkExportError(ctx, entry.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to flag export error",
					"transaction_id", entry.ID,
					"error", err)
			}
			continue
		}

		if err := w.repo.Queries().MarkExported(ctx, entry.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark entry exported",
				"transaction_id", entry.ID,
				"error", err)
			continue
		}

		slog.InfoContext(ctx, "Exported ledger entry",
			"transaction_id", entry.ID,
			"row_ref", rowRef)
	}
	return nil
}

// StartupCheck drains the backlog once before consuming events.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	return w.SweepPending(ctx)
}
