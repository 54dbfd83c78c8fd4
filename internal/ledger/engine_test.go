package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

func newTestEngine(t *testing.T, events Publisher) (*Engine, *storage.Repository, int64) {
	t.Helper()
	repo, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	user, err := repo.Queries().CreateUser(context.Background(), storage.CreateUserParams{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewEngine(repo, events), repo, user.ID
}

func mustBalance(t *testing.T, e *Engine, userID int64, account core.AccountType) int64 {
	t.Helper()
	balance, err := e.Balance(context.Background(), userID, account)
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return balance.Cents
}

func TestAddMoneyCreatesAccountLazily(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Balance(ctx, userID, core.Cash); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("balance before first deposit: err = %v, want ErrAccountNotFound", err)
	}

	balance, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, "")
	if err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	if balance.Cents != 10000 {
		t.Errorf("returned balance = %d, want 10000", balance.Cents)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 10000 {
		t.Errorf("stored balance = %d, want 10000", got)
	}

	// A second deposit credits the existing row.
	balance, err = e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 500}, "bonus")
	if err != nil {
		t.Fatalf("second AddMoney: %v", err)
	}
	if balance.Cents != 10500 {
		t.Errorf("balance after second deposit = %d, want 10500", balance.Cents)
	}
}

func TestAddMoneyRejectsBadInput(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 0}, ""); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.AddMoney(ctx, userID, "wallet", core.Money{Cents: 100}, ""); !errors.Is(err, core.ErrInvalidAccountType) {
		t.Errorf("bad account: err = %v, want ErrInvalidAccountType", err)
	}
}

func TestExpenseRoundTrip(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 4000}, "Food", "lunch", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expense entry has no id")
	}
	if entry.Kind != core.KindExpense || entry.Category != "Food" {
		t.Errorf("entry = %+v, want expense/Food", entry)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 6000 {
		t.Errorf("balance = %d, want 6000", got)
	}

	// Reads are idempotent: no mutation between two reads.
	if a, b := mustBalance(t, e, userID, core.Cash), mustBalance(t, e, userID, core.Cash); a != b {
		t.Errorf("consecutive reads differ: %d vs %d", a, b)
	}
}

func TestExpenseRequiresExistingAccount(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)

	_, err := e.RecordExpense(context.Background(), userID, core.Debit, core.Money{Cents: 100}, "Food", "", time.Time{})
	if !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestInsufficientFundsRejectedAtomically(t *testing.T) {
	e, repo, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 1000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}

	_, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 5000}, "Food", "", time.Time{})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	if got := mustBalance(t, e, userID, core.Cash); got != 1000 {
		t.Errorf("balance after rejected expense = %d, want 1000", got)
	}
	all, err := repo.Queries().ListTransactions(ctx, storage.ListTransactionsParams{
		UserID: userID, Limit: 10, Offset: 0,
	})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("log rows = %d, want 1 (only the deposit)", len(all))
	}
}

func TestUpdateExpenseSameAccount(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 4000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	// balance now 6000

	// Raising 4000 -> 7000 needs 3000 more; 6000 available.
	err = e.UpdateExpense(ctx, userID, entry.ID, UpdateExpenseParams{
		Amount: core.Money{Cents: 7000}, Category: "Food", Account: core.Cash,
	})
	if err != nil {
		t.Fatalf("raise amount: %v", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 3000 {
		t.Errorf("balance after raise = %d, want 3000", got)
	}

	// Lowering 7000 -> 2000 refunds 5000.
	err = e.UpdateExpense(ctx, userID, entry.ID, UpdateExpenseParams{
		Amount: core.Money{Cents: 2000}, Category: "Food", Account: core.Cash,
	})
	if err != nil {
		t.Fatalf("lower amount: %v", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 8000 {
		t.Errorf("balance after refund = %d, want 8000", got)
	}
}

func TestUpdateExpenseInsufficientDelta(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 5000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 4000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	// balance 1000; raising to 6000 needs 2000 more.
	err = e.UpdateExpense(ctx, userID, entry.ID, UpdateExpenseParams{
		Amount: core.Money{Cents: 6000}, Category: "Food", Account: core.Cash,
	})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 1000 {
		t.Errorf("balance changed on failed update: %d, want 1000", got)
	}
}

func TestUpdateExpenseAccountChange(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("fund cash: %v", err)
	}
	if _, err := e.AddMoney(ctx, userID, core.Debit, core.Money{Cents: 3000}, ""); err != nil {
		t.Fatalf("fund debit: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 4000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	// cash 6000, debit 3000

	t.Run("insufficient in new account rolls everything back", func(t *testing.T) {
		err := e.UpdateExpense(ctx, userID, entry.ID, UpdateExpenseParams{
			Amount: core.Money{Cents: 5000}, Category: "Food", Account: core.Debit,
		})
		if !errors.Is(err, core.ErrInsufficientFunds) {
			t.Fatalf("err = %v, want ErrInsufficientFunds", err)
		}
		if got := mustBalance(t, e, userID, core.Cash); got != 6000 {
			t.Errorf("cash = %d, want 6000 (refund rolled back)", got)
		}
		if got := mustBalance(t, e, userID, core.Debit); got != 3000 {
			t.Errorf("debit = %d, want 3000", got)
		}
	})

	t.Run("move to funded account", func(t *testing.T) {
		err := e.UpdateExpense(ctx, userID, entry.ID, UpdateExpenseParams{
			Amount: core.Money{Cents: 2500}, Category: "Food", Account: core.Debit,
		})
		if err != nil {
			t.Fatalf("UpdateExpense: %v", err)
		}
		// cash refunded the original 4000; debit pays the new 2500.
		if got := mustBalance(t, e, userID, core.Cash); got != 10000 {
			t.Errorf("cash = %d, want 10000", got)
		}
		if got := mustBalance(t, e, userID, core.Debit); got != 500 {
			t.Errorf("debit = %d, want 500", got)
		}
	})
}

func TestUpdateExpenseNotFound(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)

	err := e.UpdateExpense(context.Background(), userID, 999, UpdateExpenseParams{
		Amount: core.Money{Cents: 100}, Category: "Food", Account: core.Cash,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateExpenseOtherUsersEntry(t *testing.T) {
	e, repo, userID := newTestEngine(t, nil)
	ctx := context.Background()

	other, err := repo.Queries().CreateUser(ctx, storage.CreateUserParams{
		Username: "bob", Email: "bob@example.com", PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}
	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 5000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 1000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}

	err = e.UpdateExpense(ctx, other.ID, entry.ID, UpdateExpenseParams{
		Amount: core.Money{Cents: 100}, Category: "Food", Account: core.Cash,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user update: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteExpenseRefunds(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 2000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 8000 {
		t.Fatalf("balance before delete = %d, want 8000", got)
	}

	if err := e.DeleteExpense(ctx, userID, entry.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 10000 {
		t.Errorf("balance after delete = %d, want 10000", got)
	}
	feed, err := e.ListExpenses(ctx, userID, 10, 0)
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(feed) != 0 {
		t.Errorf("expense feed has %d entries after delete, want 0", len(feed))
	}

	if err := e.DeleteExpense(ctx, userID, entry.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRejectsNonExpenseEntries(t *testing.T) {
	e, repo, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 5000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	all, err := repo.Queries().ListTransactions(ctx, storage.ListTransactionsParams{UserID: userID, Limit: 1})
	if err != nil || len(all) != 1 {
		t.Fatalf("list transactions: %v (%d rows)", err, len(all))
	}

	if err := e.DeleteExpense(ctx, userID, all[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("deleting a deposit entry: err = %v, want ErrNotFound", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 5000 {
		t.Errorf("balance = %d, want 5000", got)
	}
}

func TestTransferMovesMoneyAndWritesTwoLegs(t *testing.T) {
	e, repo, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}

	if err := e.Transfer(ctx, userID, core.Cash, core.Debit, core.Money{Cents: 2500}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	cash := mustBalance(t, e, userID, core.Cash)
	debit := mustBalance(t, e, userID, core.Debit)
	if cash != 7500 || debit != 2500 {
		t.Errorf("balances = (%d, %d), want (7500, 2500)", cash, debit)
	}
	if cash+debit != 10000 {
		t.Errorf("transfer did not conserve total: %d", cash+debit)
	}

	all, err := repo.Queries().ListTransactions(ctx, storage.ListTransactionsParams{UserID: userID, Limit: 10})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var legs []core.Transaction
	for _, tx := range all {
		if tx.Kind == core.KindTransferOut || tx.Kind == core.KindTransferIn {
			legs = append(legs, tx)
		}
	}
	if len(legs) != 2 {
		t.Fatalf("transfer legs = %d, want 2", len(legs))
	}
	for _, leg := range legs {
		if leg.Amount.Cents != 2500 {
			t.Errorf("leg %s amount = %d, want 2500", leg.Kind, leg.Amount.Cents)
		}
		if leg.Categorized() {
			t.Errorf("leg %s has a category; transfer legs must not", leg.Kind)
		}
	}

	// Transfer legs never show up in the expense feed.
	feed, err := e.ListExpenses(ctx, userID, 10, 0)
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(feed) != 0 {
		t.Errorf("expense feed has %d entries, want 0", len(feed))
	}
}

func TestTransferRejections(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 1000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}

	if err := e.Transfer(ctx, userID, core.Cash, core.Cash, core.Money{Cents: 100}); !errors.Is(err, core.ErrSameAccount) {
		t.Errorf("self transfer: err = %v, want ErrSameAccount", err)
	}
	if err := e.Transfer(ctx, userID, core.Debit, core.Cash, core.Money{Cents: 100}); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("missing source: err = %v, want ErrAccountNotFound", err)
	}
	if err := e.Transfer(ctx, userID, core.Cash, core.Debit, core.Money{Cents: 5000}); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("overdraft: err = %v, want ErrInsufficientFunds", err)
	}
	if got := mustBalance(t, e, userID, core.Cash); got != 1000 {
		t.Errorf("balance after rejected transfers = %d, want 1000", got)
	}
	if _, err := e.Balance(ctx, userID, core.Debit); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("debit account should not exist after rejected transfer, err = %v", err)
	}
}

func TestListExpensesOrderingAndPagination(t *testing.T) {
	e, _, userID := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 100000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	categories := []string{"Food", "Travel", "Rent", "Food", "Fun"}
	for i, cat := range categories {
		_, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 100}, cat, "", base.AddDate(0, 0, i))
		if err != nil {
			t.Fatalf("expense %d: %v", i, err)
		}
	}

	page, err := e.ListExpenses(ctx, userID, 3, 0)
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}
	// Most recent first.
	if page[0].Category != "Fun" || page[1].Category != "Food" || page[2].Category != "Rent" {
		t.Errorf("order = [%s %s %s], want [Fun Food Rent]", page[0].Category, page[1].Category, page[2].Category)
	}

	rest, err := e.ListExpenses(ctx, userID, 3, 3)
	if err != nil {
		t.Fatalf("ListExpenses offset: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("second page size = %d, want 2", len(rest))
	}
}

type recordingPublisher struct {
	events []*amqp.LedgerEvent
}

func (r *recordingPublisher) PublishLedgerEvent(_ context.Context, event *amqp.LedgerEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	e, _, userID := newTestEngine(t, pub)
	ctx := context.Background()

	if _, err := e.AddMoney(ctx, userID, core.Cash, core.Money{Cents: 10000}, ""); err != nil {
		t.Fatalf("AddMoney: %v", err)
	}
	entry, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 1000}, "Food", "", time.Time{})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if err := e.Transfer(ctx, userID, core.Cash, core.Debit, core.Money{Cents: 500}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := e.DeleteExpense(ctx, userID, entry.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}

	// deposit + expense + two transfer legs + delete
	if len(pub.events) != 5 {
		t.Fatalf("events = %d, want 5", len(pub.events))
	}
	last := pub.events[len(pub.events)-1]
	if last.Action != amqp.ActionDeleted || last.TransactionID != entry.ID {
		t.Errorf("last event = %+v, want deleted/%d", last, entry.ID)
	}

	// A failed operation publishes nothing.
	before := len(pub.events)
	if _, err := e.RecordExpense(ctx, userID, core.Cash, core.Money{Cents: 10_000_000}, "Food", "", time.Time{}); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(pub.events) != before {
		t.Errorf("failed operation published an event")
	}
}
