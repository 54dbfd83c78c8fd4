package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every query can run inside
// or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns the same query set bound to an open transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// --- users ---

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
}

const createUser = `
INSERT INTO users (username, email, password_hash)
VALUES (?, ?, ?)
RETURNING id, username, email, password_hash, created_at
`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (core.User, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.Username, arg.Email, arg.PasswordHash)
	return scanUser(row)
}

const getUserByUsername = `
SELECT id, username, email, password_hash, created_at
FROM users
WHERE LOWER(username) = LOWER(?)
`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByUsername, username))
}

const getUserByEmail = `
SELECT id, username, email, password_hash, created_at
FROM users
WHERE LOWER(email) = LOWER(?)
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

const getUser = `
SELECT id, username, email, password_hash, created_at
FROM users
WHERE id = ?
`

func (q *Queries) GetUser(ctx context.Context, id int64) (core.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUser, id))
}

// DeleteUser removes the user row; accounts and transactions cascade.
func (q *Queries) DeleteUser(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func scanUser(row *sql.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// --- accounts ---

const getAccount = `
SELECT user_id, account_type, balance_cents, created_at, updated_at
FROM accounts
WHERE user_id = ? AND account_type = ?
`

func (q *Queries) GetAccount(ctx context.Context, userID int64, accountType core.AccountType) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccount, userID, accountType))
}

const listAccounts = `
SELECT user_id, account_type, balance_cents, created_at, updated_at
FROM accounts
WHERE user_id = ?
ORDER BY account_type
`

func (q *Queries) ListAccounts(ctx context.Context, userID int64) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.Account, 0)
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(&a.UserID, &a.Type, &a.Balance.Cents, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const createAccount = `
INSERT INTO accounts (user_id, account_type, balance_cents)
VALUES (?, ?, ?)
`

func (q *Queries) CreateAccount(ctx context.Context, userID int64, accountType core.AccountType, balanceCents int64) error {
	_, err := q.db.ExecContext(ctx, createAccount, userID, accountType, balanceCents)
	return err
}

const addToBalance = `
UPDATE accounts
SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND account_type = ?
`

// AddToBalance applies a signed delta to an existing account row. The schema's
// balance_cents >= 0 check is a backstop; callers verify funds first.
func (q *Queries) AddToBalance(ctx context.Context, userID int64, accountType core.AccountType, deltaCents int64) error {
	res, err := q.db.ExecContext(ctx, addToBalance, deltaCents, userID, accountType)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanAccount(row *sql.Row) (core.Account, error) {
	var a core.Account
	err := row.Scan(&a.UserID, &a.Type, &a.Balance.Cents, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// --- transactions ---

type CreateTransactionParams struct {
	UserID      int64
	Account     core.AccountType
	Kind        core.Kind
	AmountCents int64
	Category    string
	Description string
	OccurredAt  time.Time
}

const createTransaction = `
INSERT INTO transactions (user_id, account_type, kind, amount_cents, category, description, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id, user_id, account_type, kind, amount_cents, category, description, occurred_at, created_at
`

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.UserID, arg.Account, arg.Kind, arg.AmountCents,
		nullableCategory(arg.Category), arg.Description, arg.OccurredAt.UTC())
	return scanTransaction(row)
}

const getTransaction = `
SELECT id, user_id, account_type, kind, amount_cents, category, description, occurred_at, created_at
FROM transactions
WHERE id = ? AND user_id = ?
`

// GetTransaction loads one entry scoped to its owner; a row owned by another
// user is indistinguishable from an absent one.
func (q *Queries) GetTransaction(ctx context.Context, id, userID int64) (core.Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id, userID))
}

type UpdateTransactionParams struct {
	ID          int64
	Account     core.AccountType
	AmountCents int64
	Category    string
	Description string
	OccurredAt  time.Time
}

const updateTransaction = `
UPDATE transactions
SET account_type = ?, amount_cents = ?, category = ?, description = ?, occurred_at = ?, exported = 0
WHERE id = ?
`

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, updateTransaction,
		arg.Account, arg.AmountCents, nullableCategory(arg.Category),
		arg.Description, arg.OccurredAt.UTC(), arg.ID)
	return err
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

type ListTransactionsParams struct {
	UserID          int64
	Limit           int64
	Offset          int64
	CategorizedOnly bool
}

const listTransactions = `
SELECT id, user_id, account_type, kind, amount_cents, category, description, occurred_at, created_at
FROM transactions
WHERE user_id = ? AND (? = 0 OR category IS NOT NULL)
ORDER BY occurred_at DESC, id DESC
LIMIT ? OFFSET ?
`

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]core.Transaction, error) {
	categorized := int64(0)
	if arg.CategorizedOnly {
		categorized = 1
	}
	rows, err := q.db.QueryContext(ctx, listTransactions, arg.UserID, categorized, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// --- reports ---

type SpendingRow struct {
	Account     core.AccountType
	Category    string
	BucketStart time.Time
	TotalCents  int64
}

const aggregateDaily = `
SELECT account_type, category, date(occurred_at) AS bucket_start, SUM(amount_cents) AS total_cents
FROM transactions
WHERE user_id = ? AND category IS NOT NULL AND occurred_at >= ?
GROUP BY account_type, category, bucket_start
ORDER BY bucket_start DESC, account_type, category
`

const aggregateWeekly = `
SELECT account_type, category, date(occurred_at, 'weekday 0', '-6 days') AS bucket_start, SUM(amount_cents) AS total_cents
FROM transactions
WHERE user_id = ? AND category IS NOT NULL AND occurred_at >= ?
GROUP BY account_type, category, bucket_start
ORDER BY bucket_start DESC, account_type, category
`

const aggregateMonthly = `
SELECT account_type, category, date(occurred_at, 'start of month') AS bucket_start, SUM(amount_cents) AS total_cents
FROM transactions
WHERE user_id = ? AND category IS NOT NULL AND occurred_at >= ?
GROUP BY account_type, category, bucket_start
ORDER BY bucket_start DESC, account_type, category
`

func (q *Queries) AggregateSpendingDaily(ctx context.Context, userID int64, since time.Time) ([]SpendingRow, error) {
	return q.aggregateSpending(ctx, aggregateDaily, userID, since)
}

func (q *Queries) AggregateSpendingWeekly(ctx context.Context, userID int64, since time.Time) ([]SpendingRow, error) {
	return q.aggregateSpending(ctx, aggregateWeekly, userID, since)
}

func (q *Queries) AggregateSpendingMonthly(ctx context.Context, userID int64, since time.Time) ([]SpendingRow, error) {
	return q.aggregateSpending(ctx, aggregateMonthly, userID, since)
}

func (q *Queries) aggregateSpending(ctx context.Context, query string, userID int64, since time.Time) ([]SpendingRow, error) {
	rows, err := q.db.QueryContext(ctx, query, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SpendingRow, 0)
	for rows.Next() {
		var (
			r      SpendingRow
			bucket string
		)
		if err := rows.Scan(&r.Account, &r.Category, &bucket, &r.TotalCents); err != nil {
			return nil, err
		}
		r.BucketStart, err = time.Parse("2006-01-02", bucket)
		if err != nil {
			return nil, fmt.Errorf("parse bucket start %q: %w", bucket, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- export bookkeeping ---

const listPendingExport = `
SELECT id, user_id, account_type, kind, amount_cents, category, description, occurred_at, created_at
FROM transactions
WHERE exported = 0 AND export_error = 0
ORDER BY id
LIMIT ?
`

func (q *Queries) ListPendingExport(ctx context.Context, limit int64) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listPendingExport, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (q *Queries) MarkExported(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE transactions SET exported = 1, export_error = 0 WHERE id = ?`, id)
	return err
}

func (q *Queries) MarkExportError(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE transactions SET export_error = 1 WHERE id = ?`, id)
	return err
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionFields(s rowScanner, t *core.Transaction) error {
	var category sql.NullString
	err := s.Scan(&t.ID, &t.UserID, &t.Account, &t.Kind, &t.Amount.Cents,
		&category, &t.Description, &t.OccurredAt, &t.CreatedAt)
	if err != nil {
		return err
	}
	t.Category = category.String
	return nil
}

func scanTransaction(row *sql.Row) (core.Transaction, error) {
	var t core.Transaction
	err := scanTransactionFields(row, &t)
	return t, err
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0)
	for rows.Next() {
		var t core.Transaction
		if err := scanTransactionFields(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableCategory(category string) sql.NullString {
	return sql.NullString{String: category, Valid: category != ""}
}

// IsNoRows reports whether err is the driver's empty-result sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure on the
// named index or column.
func IsUniqueViolation(err error, name string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, name)
}
