package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"budgetwatch/internal/core"
)

const dateLayout = "2006-01-02"

// Dialect captures the differences between the supported SQL backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites '?' placeholders to the dialect's positional form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an already migrated database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping backs readiness checks.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InTx runs fn inside a database transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr, "component", "storage")
		}
	}()

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

var _ Tx = (*sqlTx)(nil)

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) timestamp() int64 {
	return t.now().UTC().UnixNano()
}

// --- ledger ---

const expenseColumns = `id, owner_id, amount_cents, spent_on, category, vendor, note, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e       core.Expense
		spentOn string
		created int64
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Amount.Cents, &spentOn, &e.Category, &e.Vendor, &e.Note, &created); err != nil {
		return core.Expense{}, err
	}
	d, err := time.Parse(dateLayout, spentOn)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", spentOn, err)
	}
	e.Date = d
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}

func (t *sqlTx) InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Unix(0, t.timestamp()).UTC()
	}
	_, err := t.exec(ctx,
		`INSERT INTO expenses (id, owner_id, amount_cents, spent_on, month_key, category, vendor, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Amount.Cents, e.Date.Format(dateLayout), string(e.Month()),
		e.Category, e.Vendor, e.Note, e.CreatedAt.UnixNano())
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	return e, nil
}

func (t *sqlTx) DeleteExpense(ctx context.Context, owner, id string) (core.Expense, error) {
	row := t.queryRow(ctx,
		`DELETE FROM expenses WHERE id = ? AND owner_id = ? RETURNING `+expenseColumns,
		id, owner)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("delete expense %s: %w", id, err)
	}
	return e, nil
}

func (t *sqlTx) GetExpense(ctx context.Context, owner, id string) (core.Expense, error) {
	row := t.queryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND owner_id = ?`,
		id, owner)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, err)
	}
	return e, nil
}

func (t *sqlTx) ListExpenses(ctx context.Context, owner string, month core.MonthKey, limit int) ([]core.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE owner_id = ?`
	args := []any{owner}
	if month != "" {
		query += ` AND month_key = ?`
		args = append(args, string(month))
	}
	query += ` ORDER BY spent_on DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (t *sqlTx) SumLedger(ctx context.Context, key core.SpendKey) (core.Money, error) {
	var total int64
	err := t.queryRow(ctx,
		`SELECT CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT)
		 FROM expenses WHERE owner_id = ? AND month_key = ? AND category = ?`,
		key.OwnerID, string(key.Month), key.Category).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum ledger %s: %w", key, err)
	}
	return core.Money{Cents: total}, nil
}

// --- budgets ---

func scanBudget(row rowScanner) (core.Budget, error) {
	var (
		b       core.Budget
		updated int64
	)
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Category, &b.Limit.Cents, &updated); err != nil {
		return core.Budget{}, err
	}
	b.UpdatedAt = time.Unix(0, updated).UTC()
	return b, nil
}

func (t *sqlTx) GetBudget(ctx context.Context, owner, category string) (core.Budget, error) {
	row := t.queryRow(ctx,
		`SELECT id, owner_id, category, limit_cents, updated_at
		 FROM budgets WHERE owner_id = ? AND category = ?`,
		owner, category)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %q: %w", category, err)
	}
	return b, nil
}

func (t *sqlTx) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	row := t.queryRow(ctx,
		`INSERT INTO budgets (id, owner_id, category, limit_cents, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, category)
		 DO UPDATE SET limit_cents = excluded.limit_cents, updated_at = excluded.updated_at
		 RETURNING id, owner_id, category, limit_cents, updated_at`,
		b.ID, b.OwnerID, b.Category, b.Limit.Cents, t.timestamp())
	stored, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget %q: %w", b.Category, err)
	}
	return stored, nil
}

func (t *sqlTx) DeleteBudget(ctx context.Context, owner, category string) error {
	res, err := t.exec(ctx, `DELETE FROM budgets WHERE owner_id = ? AND category = ?`, owner, category)
	if err != nil {
		return fmt.Errorf("delete budget %q: %w", category, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete budget %q: rows affected: %w", category, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqlTx) ListBudgets(ctx context.Context, owner string) ([]core.Budget, error) {
	rows, err := t.query(ctx,
		`SELECT id, owner_id, category, limit_cents, updated_at
		 FROM budgets WHERE owner_id = ? ORDER BY category`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}
	return out, nil
}

func (t *sqlTx) ListBudgetOwners(ctx context.Context) ([]string, error) {
	rows, err := t.query(ctx, `SELECT DISTINCT owner_id FROM budgets ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list budget owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

// --- category locks ---

// Postgres runs at READ COMMITTED, so ledger writes and budget changes for
// the same category are ordered with transaction-scoped advisory locks.
// SQLite needs none: _txlock=immediate already serializes writers.

func (t *sqlTx) LockCategoryShared(ctx context.Context, owner, category string) error {
	return t.lockCategory(ctx, "pg_advisory_xact_lock_shared", owner, category)
}

func (t *sqlTx) LockCategory(ctx context.Context, owner, category string) error {
	return t.lockCategory(ctx, "pg_advisory_xact_lock", owner, category)
}

func (t *sqlTx) lockCategory(ctx context.Context, fn, owner, category string) error {
	if t.dialect != DialectPostgres {
		return nil
	}
	if _, err := t.exec(ctx, `SELECT `+fn+`(hashtextextended(?, 0))`, categoryLockKey(owner, category)); err != nil {
		return fmt.Errorf("lock category %s/%s: %w", owner, category, err)
	}
	return nil
}

// categoryLockKey collisions only cost extra serialization.
func categoryLockKey(owner, category string) string {
	return owner + "|" + category
}

// --- spend cache ---

func (t *sqlTx) IncrementSpend(ctx context.Context, key core.SpendKey, delta core.Money) (core.Money, error) {
	var total int64
	err := t.queryRow(ctx,
		`INSERT INTO spend_cache (owner_id, month_key, category, total_cents, updated_at)
		 VALUES (?, ?, ?,
		         (SELECT CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT)
		          FROM expenses WHERE owner_id = ? AND month_key = ? AND category = ?),
		         ?)
		 ON CONFLICT (owner_id, month_key, category)
		 DO UPDATE SET total_cents = spend_cache.total_cents + ?,
		               updated_at = excluded.updated_at
		 RETURNING total_cents`,
		key.OwnerID, string(key.Month), key.Category,
		key.OwnerID, string(key.Month), key.Category,
		t.timestamp(), delta.Cents).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("increment spend %s: %w", key, err)
	}
	return core.Money{Cents: total}, nil
}

func (t *sqlTx) SetSpend(ctx context.Context, key core.SpendKey, total core.Money) error {
	_, err := t.exec(ctx,
		`INSERT INTO spend_cache (owner_id, month_key, category, total_cents, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, month_key, category)
		 DO UPDATE SET total_cents = excluded.total_cents, updated_at = excluded.updated_at`,
		key.OwnerID, string(key.Month), key.Category, total.Cents, t.timestamp())
	if err != nil {
		return fmt.Errorf("set spend %s: %w", key, err)
	}
	return nil
}

func (t *sqlTx) DeleteSpend(ctx context.Context, key core.SpendKey) error {
	_, err := t.exec(ctx,
		`DELETE FROM spend_cache WHERE owner_id = ? AND month_key = ? AND category = ?`,
		key.OwnerID, string(key.Month), key.Category)
	if err != nil {
		return fmt.Errorf("delete spend %s: %w", key, err)
	}
	return nil
}

func (t *sqlTx) GetSpend(ctx context.Context, key core.SpendKey) (core.Money, bool, error) {
	var total int64
	err := t.queryRow(ctx,
		`SELECT total_cents FROM spend_cache WHERE owner_id = ? AND month_key = ? AND category = ?`,
		key.OwnerID, string(key.Month), key.Category).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, false, nil
	}
	if err != nil {
		return core.Money{}, false, fmt.Errorf("get spend %s: %w", key, err)
	}
	return core.Money{Cents: total}, true, nil
}

func (t *sqlTx) ListSpend(ctx context.Context, owner string, month core.MonthKey) ([]core.SpendEntry, error) {
	rows, err := t.query(ctx,
		`SELECT category, total_cents FROM spend_cache
		 WHERE owner_id = ? AND month_key = ? ORDER BY category`,
		owner, string(month))
	if err != nil {
		return nil, fmt.Errorf("list spend: %w", err)
	}
	defer rows.Close()

	var out []core.SpendEntry
	for rows.Next() {
		entry := core.SpendEntry{Key: core.SpendKey{OwnerID: owner, Month: month}}
		if err := rows.Scan(&entry.Key.Category, &entry.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan spend entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spend entries: %w", err)
	}
	return out, nil
}

// --- reports ---

const reportColumns = `id, owner_id, year, month, total_budgeted_cents, total_spent_cents, total_overspent_cents, generated_at`

func scanReport(row rowScanner) (core.Report, error) {
	var (
		r         core.Report
		generated int64
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.Year, &r.Month,
		&r.TotalBudgeted.Cents, &r.TotalSpent.Cents, &r.TotalOverspent.Cents, &generated)
	if err != nil {
		return core.Report{}, err
	}
	r.GeneratedAt = time.Unix(0, generated).UTC()
	return r, nil
}

func (t *sqlTx) InsertReport(ctx context.Context, r core.Report) (core.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Unix(0, t.timestamp()).UTC()
	}
	_, err := t.exec(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Year, r.Month,
		r.TotalBudgeted.Cents, r.TotalSpent.Cents, r.TotalOverspent.Cents, r.GeneratedAt.UnixNano())
	if err != nil {
		return core.Report{}, fmt.Errorf("insert report: %w", err)
	}
	for i, l := range r.Lines {
		_, err := t.exec(ctx,
			`INSERT INTO report_lines (report_id, position, category, budgeted_cents, spent_cents, overspent_cents)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, l.Category, l.Budgeted.Cents, l.Spent.Cents, l.Overspent.Cents)
		if err != nil {
			return core.Report{}, fmt.Errorf("insert report line %q: %w", l.Category, err)
		}
	}
	return r, nil
}

func (t *sqlTx) GetReport(ctx context.Context, owner, id string) (core.Report, error) {
	row := t.queryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ? AND owner_id = ?`,
		id, owner)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Report{}, core.ErrNotFound
	}
	if err != nil {
		return core.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}
	if r.Lines, err = t.reportLines(ctx, r.ID); err != nil {
		return core.Report{}, err
	}
	return r, nil
}

func (t *sqlTx) ListReports(ctx context.Context, owner string, limit int) ([]core.Report, error) {
	rows, err := t.query(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE owner_id = ? ORDER BY generated_at DESC, id DESC LIMIT ?`,
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var out []core.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	rows.Close()

	// Lines are loaded after the outer cursor is closed; a transaction holds a
	// single connection.
	for i := range out {
		if out[i].Lines, err = t.reportLines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *sqlTx) reportLines(ctx context.Context, reportID string) ([]core.ReportLine, error) {
	rows, err := t.query(ctx,
		`SELECT category, budgeted_cents, spent_cents, overspent_cents
		 FROM report_lines WHERE report_id = ? ORDER BY position`,
		reportID)
	if err != nil {
		return nil, fmt.Errorf("list report lines %s: %w", reportID, err)
	}
	defer rows.Close()

	var lines []core.ReportLine
	for rows.Next() {
		var l core.ReportLine
		if err := rows.Scan(&l.Category, &l.Budgeted.Cents, &l.Spent.Cents, &l.Overspent.Cents); err != nil {
			return nil, fmt.Errorf("scan report line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report lines: %w", err)
	}
	return lines, nil
}
