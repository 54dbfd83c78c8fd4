package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Cash   AccountType = "cash"
	Debit  AccountType = "debit"
	Credit AccountType = "credit"
)

const (
	KindDeposit     Kind = "deposit"
	KindExpense     Kind = "expense"
	KindTransferOut Kind = "transfer_out"
	KindTransferIn  Kind = "transfer_in"
)

type (
	// AccountType identifies one of the fixed payment-method buckets a user
	// holds a balance in. The set is closed; user-defined accounts do not exist.
	AccountType string

	// Kind tags a ledger entry with the event that produced it. The sign of the
	// balance effect is implied by the kind; amounts are always positive.
	Kind string

	// User is a registered owner of accounts and ledger entries.
	User struct {
		ID           int64
		Username     string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}

	// Account is one (user, account-type) balance bucket.
	Account struct {
		UserID    int64
		Type      AccountType
		Balance   Money
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Transaction is one append-only ledger entry. Category is empty for
	// deposits and transfer legs and required for expenses; the expense feed
	// filters on it.
	Transaction struct {
		ID          int64
		UserID      int64
		Account     AccountType
		Kind        Kind
		Amount      Money
		Category    string
		Description string
		OccurredAt  time.Time
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrSameAccount        = errors.New("source and destination accounts are the same")
	ErrEmptyCategory      = errors.New("empty category")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// AccountTypes returns the closed set of account types in display order.
func AccountTypes() []AccountType {
	return []AccountType{Cash, Debit, Credit}
}

// ParseAccountType maps user input onto the closed enumeration.
func ParseAccountType(s string) (AccountType, error) {
	switch AccountType(strings.ToLower(strings.TrimSpace(s))) {
	case Cash:
		return Cash, nil
	case Debit:
		return Debit, nil
	case Credit:
		return Credit, nil
	}
	return "", ErrInvalidAccountType
}

func (a AccountType) Validate() error {
	switch a {
	case Cash, Debit, Credit:
		return nil
	}
	return ErrInvalidAccountType
}

func (k Kind) Validate() error {
	switch k {
	case KindDeposit, KindExpense, KindTransferOut, KindTransferIn:
		return nil
	}
	return errors.New("invalid transaction kind")
}

// Categorized reports whether the entry belongs in the expense feed.
// Deposits and transfer legs carry no category and are excluded.
func (t Transaction) Categorized() bool {
	return t.Category != ""
}

func (t Transaction) Validate() error {
	if err := t.Account.Validate(); err != nil {
		return err
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Kind == KindExpense && strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}
