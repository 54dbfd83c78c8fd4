// Package ledger implements the atomic balance-mutation engine. Every
// operation runs inside one storage transaction: the balance change and the
// log append commit together or not at all, and no account balance ever goes
// negative.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

// Descriptions stamped on engine-generated log entries.
const (
	DepositDescription     = "Added Money"
	TransferOutDescription = "Transfer Out"
	TransferInDescription  = "Transfer In"
)

// Publisher emits committed ledger mutations to downstream consumers.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// Engine orchestrates balance mutations against the shared store. A nil
// events publisher disables event emission (used by tests and setups without
// a broker).
type Engine struct {
	repo   *storage.Repository
	events Publisher
}

func NewEngine(repo *storage.Repository, events Publisher) *Engine {
	return &Engine{repo: repo, events: events}
}

// AddMoney credits an account, creating it on first deposit, and appends a
// deposit entry. Returns the balance after the credit.
func (e *Engine) AddMoney(ctx context.Context, userID int64, account core.AccountType, amount core.Money, description string) (core.Money, error) {
	if err := account.Validate(); err != nil {
		return core.Money{}, err
	}
	if err := amount.Validate(); err != nil {
		return core.Money{}, err
	}
	if description == "" {
		description = DepositDescription
	}

	var (
		balance core.Money
		entry   core.Transaction
	)
	err := e.repo.InTx(ctx, func(q *storage.Queries) error {
		acct, err := q.GetAccount(ctx, userID, account)
		switch {
		case storage.IsNoRows(err):
			if err := q.CreateAccount(ctx, userID, account, amount.Cents); err != nil {
				return fmt.Errorf("create account: %w", err)
			}
			balance = amount
		case err != nil:
			return fmt.Errorf("get account: %w", err)
		default:
			if err := q.AddToBalance(ctx, userID, account, amount.Cents); err != nil {
				return fmt.Errorf("credit account: %w", err)
			}
			balance = acct.Balance.Add(amount)
		}

		entry, err = q.CreateTransaction(ctx, storage.CreateTransactionParams{
			UserID:      userID,
			Account:     account,
			Kind:        core.KindDeposit,
			AmountCents: amount.Cents,
			Description: description,
			OccurredAt:  time.Now(),
		})
		if err != nil {
			return fmt.Errorf("append deposit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Money{}, err
	}

	e.publish(ctx, &entry, amqp.ActionCreated)
	return balance, nil
}

// RecordExpense debits an existing account and appends an expense entry.
// Unlike AddMoney it never creates the account: spending from an account that
// was never funded is a lookup failure.
func (e *Engine) RecordExpense(ctx context.Context, userID int64, account core.AccountType, amount core.Money, category, description string, occurredAt time.Time) (core.Transaction, error) {
	if err := account.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if category == "" {
		return core.Transaction{}, core.ErrEmptyCategory
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var entry core.Transaction
	err := e.repo.InTx(ctx, func(q *storage.Queries) error {
		acct, err := q.GetAccount(ctx, userID, account)
		if storage.IsNoRows(err) {
			return core.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		if acct.Balance.Cents < amount.Cents {
			return core.ErrInsufficientFunds
		}
		if err := q.AddToBalance(ctx, userID, account, -amount.Cents); err != nil {
			return fmt.Errorf("debit account: %w", err)
		}

		entry, err = q.CreateTransaction(ctx, storage.CreateTransactionParams{
			UserID:      userID,
			Account:     account,
			Kind:        core.KindExpense,
			AmountCents: amount.Cents,
			Category:    category,
			Description: description,
			OccurredAt:  occurredAt,
		})
		if err != nil {
			return fmt.Errorf("append expense entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	e.publish(ctx, &entry, amqp.ActionCreated)
	return entry, nil
}

// UpdateExpenseParams carries the replacement values for an expense entry.
// A nil OccurredAt keeps the stored timestamp.
type UpdateExpenseParams struct {
	Amount      core.Money
	Category    string
	Account     core.AccountType
	Description string
	OccurredAt  *time.Time
}

// UpdateExpense rewrites an expense entry and applies the compensating
// balance adjustment. The net effect on balances equals deleting the old
// entry and recording the new one, computed inside a single transaction so no
// partially reversed state is ever visible.
func (e *Engine) UpdateExpense(ctx context.Context, userID, transactionID int64, params UpdateExpenseParams) error {
	if err := params.Account.Validate(); err != nil {
		return err
	}
	if err := params.Amount.Validate(); err != nil {
		return err
	}
	if params.Category == "" {
		return core.ErrEmptyCategory
	}

	var updated core.Transaction
	err := e.repo.InTx(ctx, func(q *storage.Queries) error {
		existing, err := q.GetTransaction(ctx, transactionID, userID)
		if storage.IsNoRows(err) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", err)
		}
		if existing.Kind != core.KindExpense {
			// Deposits and transfer legs are not editable through the
			// expense surface.
			return core.ErrNotFound
		}

		if params.Account == existing.Account {
			delta := params.Amount.Cents - existing.Amount.Cents
			if delta > 0 {
				acct, err := q.GetAccount(ctx, userID, existing.Account)
				if err != nil {
					return fmt.Errorf("get account: %w", err)
				}
				if acct.Balance.Cents < delta {
					return core.ErrInsufficientFunds
				}
			}
			if delta != 0 {
				if err := q.AddToBalance(ctx, userID, existing.Account, -delta); err != nil {
					return fmt.Errorf("adjust balance: %w", err)
				}
			}
		} else {
			// Refund the old account, then move the full new amount out of
			// the new one. A failure anywhere rolls both legs back.
			if err := q.AddToBalance(ctx, userID, existing.Account, existing.Amount.Cents); err != nil {
				return fmt.Errorf("refund old account: %w", err)
			}
			acct, err := q.GetAccount(ctx, userID, params.Account)
			if storage.IsNoRows(err) {
				return core.ErrAccountNotFound
			}
			if err != nil {
				return fmt.Errorf("get new account: %w", err)
			}
			if acct.Balance.Cents < params.Amount.Cents {
				return core.ErrInsufficientFunds
			}
			if err := q.AddToBalance(ctx, userID, params.Account, -params.Amount.Cents); err != nil {
				return fmt.Errorf("debit new account: %w", err)
			}
		}

		occurredAt := existing.OccurredAt
		if params.OccurredAt != nil {
			occurredAt = *params.OccurredAt
		}
		err = q.UpdateTransaction(ctx, storage.UpdateTransactionParams{
			ID:          existing.ID,
			Account:     params.Account,
			AmountCents: params.Amount.Cents,
			Category:    params.Category,
			Description: params.Description,
			OccurredAt:  occurredAt,
		})
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		updated = existing
		updated.Account = params.Account
		updated.Amount = params.Amount
		updated.Category = params.Category
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, &updated, amqp.ActionUpdated)
	return nil
}

// DeleteExpense removes an expense entry and refunds its amount to the
// account it was spent from.
func (e *Engine) DeleteExpense(ctx context.Context, userID, transactionID int64) error {
	var deleted core.Transaction
	err := e.repo.InTx(ctx, func(q *storage.Queries) error {
		existing, err := q.GetTransaction(ctx, transactionID, userID)
		if storage.IsNoRows(err) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", err)
		}
		if existing.Kind != core.KindExpense {
			return core.ErrNotFound
		}

		if err := q.AddToBalance(ctx, userID, existing.Account, existing.Amount.Cents); err != nil {
			return fmt.Errorf("refund account: %w", err)
		}
		if err := q.DeleteTransaction(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}

		deleted = existing
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, &deleted, amqp.ActionDeleted)
	return nil
}

// Transfer moves amount between two of the user's accounts and appends one
// entry per leg with a shared timestamp. The destination account is created
// lazily; the source must exist and cover the amount.
func (e *Engine) Transfer(ctx context.Context, userID int64, from, to core.AccountType, amount core.Money) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if err := to.Validate(); err != nil {
		return err
	}
	if from == to {
		return core.ErrSameAccount
	}
	if err := amount.Validate(); err != nil {
		return err
	}

	var out, in core.Transaction
	err := e.repo.InTx(ctx, func(q *storage.Queries) error {
		source, err := q.GetAccount(ctx, userID, from)
		if storage.IsNoRows(err) {
			return core.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("get source account: %w", err)
		}
		if source.Balance.Cents < amount.Cents {
			return core.ErrInsufficientFunds
		}
		if err := q.AddToBalance(ctx, userID, from, -amount.Cents); err != nil {
			return fmt.Errorf("debit source: %w", err)
		}

		_, err = q.GetAccount(ctx, userID, to)
		switch {
		case storage.IsNoRows(err):
			if err := q.CreateAccount(ctx, userID, to, amount.Cents); err != nil {
				return fmt.Errorf("create destination account: %w", err)
			}
		case err != nil:
			return fmt.Errorf("get destination account: %w", err)
		default:
			if err := q.AddToBalance(ctx, userID, to, amount.Cents); err != nil {
				return fmt.Errorf("credit destination: %w", err)
			}
		}

		occurredAt := time.Now()
		out, err = q.CreateTransaction(ctx, storage.CreateTransactionParams{
			UserID:      userID,
			Account:     from,
			Kind:        core.KindTransferOut,
			AmountCents: amount.Cents,
			Description: TransferOutDescription,
			OccurredAt:  occurredAt,
		})
		if err != nil {
			return fmt.Errorf("append transfer-out entry: %w", err)
		}
		in, err = q.CreateTransaction(ctx, storage.CreateTransactionParams{
			UserID:      userID,
			Account:     to,
			Kind:        core.KindTransferIn,
			AmountCents: amount.Cents,
			Description: TransferInDescription,
			OccurredAt:  occurredAt,
		})
		if err != nil {
			return fmt.Errorf("append transfer-in entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, &out, amqp.ActionCreated)
	e.publish(ctx, &in, amqp.ActionCreated)
	return nil
}

// Balance returns the current balance of one account.
func (e *Engine) Balance(ctx context.Context, userID int64, account core.AccountType) (core.Money, error) {
	if err := account.Validate(); err != nil {
		return core.Money{}, err
	}
	acct, err := e.repo.Queries().GetAccount(ctx, userID, account)
	if storage.IsNoRows(err) {
		return core.Money{}, core.ErrAccountNotFound
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get account: %w", err)
	}
	return acct.Balance, nil
}

// Balances returns all of the user's accounts. Users with no funded accounts
// get an empty slice.
func (e *Engine) Balances(ctx context.Context, userID int64) ([]core.Account, error) {
	accounts, err := e.repo.Queries().ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListExpenses returns the categorized expense feed, most recent first.
// Deposits and transfer legs carry no category and are filtered out.
func (e *Engine) ListExpenses(ctx context.Context, userID, limit, offset int64) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := e.repo.Queries().ListTransactions(ctx, storage.ListTransactionsParams{
		UserID:          userID,
		Limit:           limit,
		Offset:          offset,
		CategorizedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return entries, nil
}

// publish emits a ledger event after commit. Emission is best effort: the
// mutation is already durable, so a broker failure only logs.
func (e *Engine) publish(ctx context.Context, entry *core.Transaction, action string) {
	if e.events == nil {
		return
	}
	event := amqp.NewLedgerEvent(entry.ID, entry.UserID, string(entry.Kind), action)
	if err := e.events.PublishLedgerEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"transaction_id", entry.ID,
			"action", action,
			"error", err)
	}
}
