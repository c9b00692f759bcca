package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/core"
	"budgetwatch/internal/storage"
)

// Generator produces one owner's report for a month. It returns nil when
// there is nothing to report.
type Generator interface {
	Generate(ctx context.Context, owner string, month core.MonthKey) (*core.Report, error)
}

// ReportSink receives every generated report, e.g. a spreadsheet export.
type ReportSink interface {
	AppendReport(ctx context.Context, r core.Report) error
}

// Summary counts the outcome of one batch run.
type Summary struct {
	Month     core.MonthKey
	Owners    int
	Generated int
	Empty     int
	Failed    int
	Exported  int
	Duration  time.Duration
}

// ReportWorker generates reports for every owner that has a budget.
type ReportWorker struct {
	store       storage.Store
	generator   Generator
	sink        ReportSink
	concurrency int
}

// NewReportWorker builds a worker. sink may be nil.
func NewReportWorker(store storage.Store, generator Generator, sink ReportSink, concurrency int) *ReportWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ReportWorker{
		store:       store,
		generator:   generator,
		sink:        sink,
		concurrency: concurrency,
	}
}

// RunMonth generates month's report for each owner with at most
// concurrency owners in flight. A failing owner is logged and counted; it
// does not stop the batch. Only failing to list owners is an error.
func (w *ReportWorker) RunMonth(ctx context.Context, month core.MonthKey) (Summary, error) {
	start := time.Now()
	summary := Summary{Month: month}

	var owners []string
	err := w.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		owners, err = tx.ListBudgetOwners(ctx)
		return err
	})
	if err != nil {
		return summary, fmt.Errorf("list budget owners: %w", err)
	}
	summary.Owners = len(owners)

	slog.InfoContext(ctx, "Report batch started",
		"month", month,
		"owners", len(owners),
		"concurrency", w.concurrency)

	var generated, empty, failed, exported int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			r, err := w.generator.Generate(gctx, owner, month)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				slog.ErrorContext(gctx, "Report generation failed", "owner_id", owner, "month", month, "error", err)
				return nil
			}
			if r == nil {
				atomic.AddInt64(&empty, 1)
				return nil
			}
			atomic.AddInt64(&generated, 1)

			if w.sink == nil {
				return nil
			}
			if err := w.sink.AppendReport(gctx, *r); err != nil {
				slog.WarnContext(gctx, "Report export failed", "owner_id", owner, "report_id", r.ID, "error", err)
				return nil
			}
			atomic.AddInt64(&exported, 1)
			return nil
		})
	}
	// only context cancellation propagates out of the group
	waitErr := g.Wait()

	summary.Generated = int(generated)
	summary.Empty = int(empty)
	summary.Failed = int(failed)
	summary.Exported = int(exported)
	summary.Duration = time.Since(start)

	slog.InfoContext(ctx, "Report batch finished",
		"month", month,
		"owners", summary.Owners,
		"generated", summary.Generated,
		"empty", summary.Empty,
		"failed", summary.Failed,
		"exported", summary.Exported,
		"duration", summary.Duration)

	if waitErr != nil {
		return summary, fmt.Errorf("report batch %s: %w", month, waitErr)
	}
	return summary, nil
}

// PreviousMonth is the month a run at t should close out.
func PreviousMonth(t time.Time) core.MonthKey {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return core.MonthKey(first.AddDate(0, -1, 0).Format("2006-01"))
}
