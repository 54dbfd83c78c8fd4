// Package export defines the outbound statement-export port. The concrete
// Google Sheets adapter lives in export/google.
package export

import (
	"context"

	"tally/internal/core"
)

// StatementWriter appends one ledger entry to an external statement.
type StatementWriter interface {
	AppendStatementRow(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
