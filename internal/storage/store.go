// Package storage persists the ledger, budgets, the spend cache and reports.
//
// Every read and write goes through a Tx obtained from Store.InTx, so a ledger
// mutation and its cache adjustment commit or roll back together.
package storage

import (
	"context"

	"budgetwatch/internal/core"
)

// Ledger is the system of record for individual expenses.
type Ledger interface {
	InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	// DeleteExpense removes the expense and returns it, or core.ErrNotFound
	// when no expense with that id belongs to owner.
	DeleteExpense(ctx context.Context, owner, id string) (core.Expense, error)
	GetExpense(ctx context.Context, owner, id string) (core.Expense, error)
	// ListExpenses returns newest first. An empty month lists across months.
	ListExpenses(ctx context.Context, owner string, month core.MonthKey, limit int) ([]core.Expense, error)
	// SumLedger sums every stored expense for the key.
	SumLedger(ctx context.Context, key core.SpendKey) (core.Money, error)
}

// Budgets holds one limit per (owner, category).
type Budgets interface {
	GetBudget(ctx context.Context, owner, category string) (core.Budget, error)
	UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	DeleteBudget(ctx context.Context, owner, category string) error
	ListBudgets(ctx context.Context, owner string) ([]core.Budget, error)
	ListBudgetOwners(ctx context.Context) ([]string, error)
}

// SpendTotals is the storage side of the spend cache.
type SpendTotals interface {
	// IncrementSpend adds delta to the entry in a single statement and returns
	// the resulting total. An absent entry is seeded with the ledger sum for
	// the key instead, which already includes the write delta belongs to.
	IncrementSpend(ctx context.Context, key core.SpendKey, delta core.Money) (core.Money, error)
	SetSpend(ctx context.Context, key core.SpendKey, total core.Money) error
	DeleteSpend(ctx context.Context, key core.SpendKey) error
	GetSpend(ctx context.Context, key core.SpendKey) (core.Money, bool, error)
	ListSpend(ctx context.Context, owner string, month core.MonthKey) ([]core.SpendEntry, error)
}

// CategoryLocks orders ledger writes against budget changes of the same
// owner and category until the transaction ends. Ledger writers take the
// shared lock, budget writers the exclusive one.
type CategoryLocks interface {
	LockCategoryShared(ctx context.Context, owner, category string) error
	LockCategory(ctx context.Context, owner, category string) error
}

// Reports stores immutable report snapshots.
type Reports interface {
	InsertReport(ctx context.Context, r core.Report) (core.Report, error)
	GetReport(ctx context.Context, owner, id string) (core.Report, error)
	ListReports(ctx context.Context, owner string, limit int) ([]core.Report, error)
}

// Tx is a unit of work spanning all stores.
type Tx interface {
	Ledger
	Budgets
	SpendTotals
	CategoryLocks
	Reports
}

// Store opens units of work. InTx commits when fn returns nil and rolls back
// otherwise; it never retries.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
