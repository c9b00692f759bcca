// Package services holds the state-changing operations of the system: the
// coordinator that keeps the ledger and the spend cache in step, and the
// report snapshotter that reads the cache.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"budgetwatch/internal/alerts"
	"budgetwatch/internal/core"
	"budgetwatch/internal/spendcache"
	"budgetwatch/internal/storage"
)

const DefaultExpenseListLimit = 200

// Coordinator runs every ledger or budget mutation together with its spend
// cache adjustment in a single storage transaction.
type Coordinator struct {
	store     storage.Store
	cache     *spendcache.Cache
	publisher alerts.Publisher
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for the current month and event stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds a coordinator. publisher may be nil, in which case
// alerts are computed but not delivered.
func NewCoordinator(store storage.Store, cache *spendcache.Cache, publisher alerts.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		cache:     cache,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) currentMonth() core.MonthKey {
	return core.MonthOf(c.now())
}

// CreateExpense validates and records an expense. When the category has a
// budget the cache is incremented in the same transaction, and an alert is
// returned if the new total is over the limit.
func (c *Coordinator) CreateExpense(ctx context.Context, owner string, in core.ExpenseInput) (core.Expense, []core.Alert, error) {
	e, err := in.Parse(owner)
	if err != nil {
		return core.Expense{}, nil, err
	}

	var (
		stored core.Expense
		staged []core.Alert
	)
	err = c.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockCategoryShared(ctx, owner, e.Category); err != nil {
			return err
		}
		var err error
		stored, err = tx.InsertExpense(ctx, e)
		if err != nil {
			return err
		}

		budget, err := tx.GetBudget(ctx, owner, stored.Category)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		total, err := c.cache.Increment(ctx, tx, stored.SpendKey(), stored.Amount)
		if err != nil {
			return err
		}
		if budget.Exceeds(total) {
			staged = append(staged, core.Alert{Category: stored.Category, Spent: total, Limit: budget.Limit})
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, nil, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense created",
		"owner_id", owner,
		"expense_id", stored.ID,
		"category", stored.Category,
		"amount", stored.Amount.String(),
		"alerts", len(staged))

	c.publish(ctx, owner, staged)
	return stored, staged, nil
}

func (c *Coordinator) publish(ctx context.Context, owner string, batch []core.Alert) {
	if len(batch) == 0 || c.publisher == nil {
		return
	}
	c.publisher.Publish(ctx, owner, alerts.NewEvent(batch, c.now()))
}

// DeleteExpense removes an expense of owner and takes its amount back out of
// the cache. It returns core.ErrNotFound when owner has no such expense.
func (c *Coordinator) DeleteExpense(ctx context.Context, owner, id string) error {
	if owner == "" {
		return core.ErrMissingOwner
	}

	var removed core.Expense
	err := c.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		removed, err = tx.DeleteExpense(ctx, owner, id)
		if err != nil {
			return err
		}
		if err := tx.LockCategoryShared(ctx, owner, removed.Category); err != nil {
			return err
		}

		_, err = tx.GetBudget(ctx, owner, removed.Category)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = c.cache.Increment(ctx, tx, removed.SpendKey(), removed.Amount.Neg())
		return err
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		"owner_id", owner,
		"expense_id", id,
		"category", removed.Category,
		"amount", removed.Amount.String())
	return nil
}

// ListExpenses returns owner's expenses newest first. An empty month lists
// across all months; limit <= 0 selects the default.
func (c *Coordinator) ListExpenses(ctx context.Context, owner string, month core.MonthKey, limit int) ([]core.Expense, error) {
	if owner == "" {
		return nil, core.ErrMissingOwner
	}
	if limit <= 0 || limit > DefaultExpenseListLimit {
		limit = DefaultExpenseListLimit
	}

	var out []core.Expense
	err := c.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListExpenses(ctx, owner, month, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

// UpsertBudget stores the limit and rebuilds the cache entry for the current
// month from the ledger.
func (c *Coordinator) UpsertBudget(ctx context.Context, owner, category string, limit core.Money) (core.Budget, error) {
	b := core.Budget{OwnerID: owner, Category: strings.TrimSpace(category), Limit: limit}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	key := core.SpendKey{OwnerID: owner, Month: c.currentMonth(), Category: b.Category}
	var (
		stored core.Budget
		total  core.Money
	)
	err := c.store.InTx(ctx, func(tx storage.Tx) error {
		// Waits out in-flight ledger writes so the sum below includes them.
		if err := tx.LockCategory(ctx, owner, b.Category); err != nil {
			return err
		}
		var err error
		if stored, err = tx.UpsertBudget(ctx, b); err != nil {
			return err
		}
		total, err = c.cache.Recompute(ctx, tx, key)
		return err
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget saved",
		"owner_id", owner,
		"category", stored.Category,
		"limit", stored.Limit.String(),
		"month", key.Month,
		"spent", total.String())
	return stored, nil
}

// DeleteBudget removes the budget and its current-month cache entry.
func (c *Coordinator) DeleteBudget(ctx context.Context, owner, category string) error {
	if owner == "" {
		return core.ErrMissingOwner
	}
	category = strings.TrimSpace(category)
	key := core.SpendKey{OwnerID: owner, Month: c.currentMonth(), Category: category}

	err := c.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockCategory(ctx, owner, category); err != nil {
			return err
		}
		if err := tx.DeleteBudget(ctx, owner, category); err != nil {
			return err
		}
		return c.cache.Remove(ctx, tx, key)
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget deleted", "owner_id", owner, "category", category)
	return nil
}

// ListBudgets reports each budget against the cached spend for month. An
// empty month selects the current one. The ledger is not scanned.
func (c *Coordinator) ListBudgets(ctx context.Context, owner string, month core.MonthKey) ([]core.BudgetStatus, error) {
	if owner == "" {
		return nil, core.ErrMissingOwner
	}
	if month == "" {
		month = c.currentMonth()
	}

	var out []core.BudgetStatus
	err := c.store.InTx(ctx, func(tx storage.Tx) error {
		budgets, err := tx.ListBudgets(ctx, owner)
		if err != nil {
			return err
		}
		totals, err := c.cache.Totals(ctx, tx, owner, month)
		if err != nil {
			return err
		}
		out = make([]core.BudgetStatus, 0, len(budgets))
		for _, b := range budgets {
			out = append(out, core.NewBudgetStatus(b, totals[b.Category]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return out, nil
}
