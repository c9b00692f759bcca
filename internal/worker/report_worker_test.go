package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetwatch/internal/core"
	"budgetwatch/internal/storage"
)

type stubGenerator struct {
	mu       sync.Mutex
	calls    map[string]core.MonthKey
	empty    map[string]bool
	failing  map[string]bool
	inFlight int
	maxSeen  int
}

func (g *stubGenerator) Generate(_ context.Context, owner string, month core.MonthKey) (*core.Report, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]core.MonthKey)
	}
	g.calls[owner] = month
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--
	switch {
	case g.failing[owner]:
		return nil, errors.New("boom")
	case g.empty[owner]:
		return nil, nil
	}
	return &core.Report{ID: "r-" + owner, OwnerID: owner}, nil
}

type stubSink struct {
	mu      sync.Mutex
	reports []string
	err     error
}

func (s *stubSink) AppendReport(_ context.Context, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r.ID)
	return nil
}

func storeWithOwners(t *testing.T, owners ...string) *storage.SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := storage.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		for _, o := range owners {
			if _, err := tx.UpsertBudget(ctx, core.Budget{OwnerID: o, Category: "Food", Limit: core.Money{Cents: 100}}); err != nil {
				return err
			}
		}
		return nil
	}))
	return s
}

func TestRunMonth_EveryOwnerOnce(t *testing.T) {
	store := storeWithOwners(t, "a", "b", "c", "d", "e", "f")
	gen := &stubGenerator{
		empty:   map[string]bool{"b": true},
		failing: map[string]bool{"c": true},
	}
	sink := &stubSink{}
	w := NewReportWorker(store, gen, sink, 2)

	summary, err := w.RunMonth(context.Background(), "2024-03")
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Owners)
	assert.Equal(t, 4, summary.Generated)
	assert.Equal(t, 1, summary.Empty)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.Exported)
	assert.Len(t, gen.calls, 6)
	for _, m := range gen.calls {
		assert.Equal(t, core.MonthKey("2024-03"), m)
	}
	assert.LessOrEqual(t, gen.maxSeen, 2)
	assert.ElementsMatch(t, []string{"r-a", "r-d", "r-e", "r-f"}, sink.reports)
}

func TestRunMonth_SinkFailureDoesNotFailBatch(t *testing.T) {
	store := storeWithOwners(t, "a")
	w := NewReportWorker(store, &stubGenerator{}, &stubSink{err: errors.New("quota")}, 1)

	summary, err := w.RunMonth(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated)
	assert.Equal(t, 0, summary.Exported)
}

func TestRunMonth_NoOwners(t *testing.T) {
	store := storeWithOwners(t)
	w := NewReportWorker(store, &stubGenerator{}, nil, 4)

	summary, err := w.RunMonth(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Owners)
}

func TestRunMonth_Cancelled(t *testing.T) {
	store := storeWithOwners(t, "a", "b")
	w := NewReportWorker(store, &stubGenerator{}, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.RunMonth(ctx, "2024-03")
	assert.Error(t, err)
}

func TestPreviousMonth(t *testing.T) {
	assert.Equal(t, core.MonthKey("2024-02"), PreviousMonth(time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)))
	assert.Equal(t, core.MonthKey("2023-12"), PreviousMonth(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)))

	rome := time.FixedZone("CEST", 2*60*60)
	assert.Equal(t, core.MonthKey("2024-05"), PreviousMonth(time.Date(2024, 6, 1, 0, 5, 0, 0, rome)))
}
