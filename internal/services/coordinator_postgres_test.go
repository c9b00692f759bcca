package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetwatch/internal/core"
	"budgetwatch/internal/spendcache"
	"budgetwatch/internal/storage"
)

// Set TEST_DATABASE_URL to a disposable Postgres database to run.
func TestPostgres_BudgetUpdatesDoNotLoseExpenses(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	coord := NewCoordinator(store, spendcache.New(), &recordingPublisher{}, WithClock(func() time.Time { return march }))
	owner := "pg-" + uuid.NewString()

	_, err = coord.UpsertBudget(ctx, owner, "Food", core.Money{Cents: 100})
	require.NoError(t, err)

	const (
		writers  = 8
		perWrite = 10
		updates  = 20
	)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWrite; i++ {
				in := core.ExpenseInput{Amount: fmt.Sprintf("%d", 1+i), Date: "2024-03-05", Category: "Food"}
				if _, _, err := coord.CreateExpense(ctx, owner, in); err != nil {
					t.Errorf("create: %v", err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < updates; i++ {
			if _, err := coord.UpsertBudget(ctx, owner, "Food", core.Money{Cents: int64(100 + i)}); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}
	}()
	wg.Wait()

	key := core.SpendKey{OwnerID: owner, Month: "2024-03", Category: "Food"}
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		sum, err := tx.SumLedger(ctx, key)
		require.NoError(t, err)
		total, ok, err := tx.GetSpend(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, sum, total)
		return nil
	}))
}
