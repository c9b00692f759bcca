// Package spendcache maintains the running spend totals per owner, month and
// category. All operations run inside the caller's storage transaction.
package spendcache

import (
	"context"
	"fmt"

	"budgetwatch/internal/core"
	"budgetwatch/internal/storage"
)

// Tx is the slice of a storage transaction the cache needs.
type Tx interface {
	storage.SpendTotals
	SumLedger(ctx context.Context, key core.SpendKey) (core.Money, error)
}

// Cache is stateless; the totals live in the store.
type Cache struct{}

func New() *Cache {
	return &Cache{}
}

// Increment adds delta to the entry and returns the new total. The ledger
// write delta stems from must already be applied in tx: an absent entry is
// seeded from the ledger sum, which equals delta when the key had no other
// spend and repairs months that were never seeded otherwise.
func (c *Cache) Increment(ctx context.Context, tx Tx, key core.SpendKey, delta core.Money) (core.Money, error) {
	total, err := tx.IncrementSpend(ctx, key, delta)
	if err != nil {
		return core.Money{}, fmt.Errorf("increment %s: %w", key, err)
	}
	return total, nil
}

// Recompute overwrites the entry with a fresh ledger sum.
func (c *Cache) Recompute(ctx context.Context, tx Tx, key core.SpendKey) (core.Money, error) {
	total, err := tx.SumLedger(ctx, key)
	if err != nil {
		return core.Money{}, fmt.Errorf("recompute %s: %w", key, err)
	}
	if err := tx.SetSpend(ctx, key, total); err != nil {
		return core.Money{}, fmt.Errorf("recompute %s: %w", key, err)
	}
	return total, nil
}

func (c *Cache) Remove(ctx context.Context, tx Tx, key core.SpendKey) error {
	if err := tx.DeleteSpend(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Get reports the cached total, with ok false when no entry exists.
func (c *Cache) Get(ctx context.Context, tx Tx, key core.SpendKey) (total core.Money, ok bool, err error) {
	total, ok, err = tx.GetSpend(ctx, key)
	if err != nil {
		return core.Money{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return total, ok, nil
}

// Month returns every entry of owner for month, ordered by category.
func (c *Cache) Month(ctx context.Context, tx Tx, owner string, month core.MonthKey) ([]core.SpendEntry, error) {
	entries, err := tx.ListSpend(ctx, owner, month)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", owner, month, err)
	}
	return entries, nil
}

// Totals indexes Month by category.
func (c *Cache) Totals(ctx context.Context, tx Tx, owner string, month core.MonthKey) (map[string]core.Money, error) {
	entries, err := c.Month(ctx, tx, owner, month)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.Money, len(entries))
	for _, e := range entries {
		out[e.Key.Category] = e.Total
	}
	return out, nil
}
