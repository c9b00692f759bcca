package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budgetwatch/internal/cache"
	"budgetwatch/internal/core"
	"budgetwatch/internal/spendcache"
	"budgetwatch/internal/storage"
)

const (
	DefaultReportListLimit = 12
	maxReportListLimit     = 100

	reportCacheSize = 256
	reportCacheTTL  = 30 * time.Minute
)

// ReportSnapshotter writes immutable monthly summaries from the spend cache.
type ReportSnapshotter struct {
	store storage.Store
	cache *spendcache.Cache
	// reports are immutable, so lookups by id are cached
	byID *cache.LRUCache[core.Report]
	now  func() time.Time
}

func NewReportSnapshotter(store storage.Store, spend *spendcache.Cache, opts ...ReportOption) *ReportSnapshotter {
	s := &ReportSnapshotter{
		store: store,
		cache: spend,
		byID:  cache.NewLRUCache[core.Report](reportCacheSize, reportCacheTTL),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReportOption configures a ReportSnapshotter.
type ReportOption func(*ReportSnapshotter)

func WithReportClock(now func() time.Time) ReportOption {
	return func(s *ReportSnapshotter) { s.now = now }
}

// Cache exposes the report lookup cache for periodic cleanup.
func (s *ReportSnapshotter) Cache() cache.Cleaner {
	return s.byID
}

// CurrentMonth is the month reports default to.
func (s *ReportSnapshotter) CurrentMonth() core.MonthKey {
	return core.MonthOf(s.now())
}

// Generate snapshots owner's cache rows for month against the current budgets.
// It returns nil and no error when there is nothing cached for the month.
// Categories without a budget are reported with a zero limit.
func (s *ReportSnapshotter) Generate(ctx context.Context, owner string, month core.MonthKey) (*core.Report, error) {
	if owner == "" {
		return nil, core.ErrMissingOwner
	}
	if month == "" {
		month = s.CurrentMonth()
	}

	var report *core.Report
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		entries, err := s.cache.Month(ctx, tx, owner, month)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		budgets, err := tx.ListBudgets(ctx, owner)
		if err != nil {
			return err
		}
		limits := make(map[string]core.Money, len(budgets))
		for _, b := range budgets {
			limits[b.Category] = b.Limit
		}

		r := core.Report{
			OwnerID:     owner,
			Year:        month.Year(),
			Month:       month.Month(),
			GeneratedAt: s.now().UTC(),
		}
		for _, e := range entries {
			r.Add(core.NewReportLine(e.Key.Category, limits[e.Key.Category], e.Total))
		}

		stored, err := tx.InsertReport(ctx, r)
		if err != nil {
			return err
		}
		report = &stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}

	if report == nil {
		slog.InfoContext(ctx, "No spend to report", "owner_id", owner, "month", month)
		return nil, nil
	}

	s.byID.Set(reportKey(owner, report.ID), *report)
	slog.InfoContext(ctx, "Report generated",
		"owner_id", owner,
		"report_id", report.ID,
		"month", month,
		"categories", len(report.Lines),
		"total_spent", report.TotalSpent.String())
	return report, nil
}

// ListReports returns owner's most recent reports, newest first.
func (s *ReportSnapshotter) ListReports(ctx context.Context, owner string, limit int) ([]core.Report, error) {
	if owner == "" {
		return nil, core.ErrMissingOwner
	}
	if limit <= 0 {
		limit = DefaultReportListLimit
	}
	if limit > maxReportListLimit {
		limit = maxReportListLimit
	}

	var out []core.Report
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListReports(ctx, owner, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// GetReport returns a stored report of owner, or core.ErrNotFound.
func (s *ReportSnapshotter) GetReport(ctx context.Context, owner, id string) (core.Report, error) {
	if owner == "" {
		return core.Report{}, core.ErrMissingOwner
	}
	key := reportKey(owner, id)
	if r, ok := s.byID.Get(key); ok {
		return r, nil
	}

	var r core.Report
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		r, err = tx.GetReport(ctx, owner, id)
		return err
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.Report{}, core.ErrNotFound
	}
	if err != nil {
		return core.Report{}, fmt.Errorf("get report: %w", err)
	}

	s.byID.Set(key, r)
	return r, nil
}

func reportKey(owner, id string) string {
	return owner + "/" + id
}
