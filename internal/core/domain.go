package core

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCategory is assigned to expenses submitted without a category.
const DefaultCategory = "Uncategorized"

const (
	maxCategoryLen = 100
	maxVendorLen   = 200
	maxNoteLen     = 1000
)

type (
	// MonthKey identifies a calendar month as "YYYY-MM".
	MonthKey string

	// Expense is a single ledger record. It is immutable once stored; the only
	// permitted mutation is deletion.
	Expense struct {
		ID        string
		OwnerID   string
		Amount    Money
		Date      time.Time
		Category  string
		Vendor    string
		Note      string
		CreatedAt time.Time
	}

	// ExpenseInput carries raw client fields before validation.
	ExpenseInput struct {
		Amount   string
		Date     string
		Category string
		Vendor   string
		Note     string
	}

	// Budget is the monthly limit an owner sets for one category.
	Budget struct {
		ID        string
		OwnerID   string
		Category  string
		Limit     Money
		UpdatedAt time.Time
	}

	// SpendKey addresses one spend cache entry.
	SpendKey struct {
		OwnerID  string
		Month    MonthKey
		Category string
	}

	// SpendEntry is the running total stored for a SpendKey.
	SpendEntry struct {
		Key   SpendKey
		Total Money
	}

	// Alert is produced when a category's running total exceeds its limit.
	// It is never persisted.
	Alert struct {
		Category string `json:"category"`
		Spent    Money  `json:"spent"`
		Limit    Money  `json:"limit"`
	}

	// AlertEvent is the payload pushed to live notification channels.
	AlertEvent struct {
		Alerts    []Alert   `json:"alerts"`
		CreatedAt time.Time `json:"created_at"`
	}
)

// MonthOf returns the month key containing t (evaluated in UTC).
func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.UTC().Format("2006-01"))
}

// ParseMonthKey validates a "YYYY-MM" string.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

func (k MonthKey) String() string { return string(k) }

// Year returns the year part of the key, or 0 for a malformed key.
func (k MonthKey) Year() int {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return 0
	}
	return t.Year()
}

// Month returns the month part (1-12) of the key, or 0 for a malformed key.
func (k MonthKey) Month() int {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return 0
	}
	return int(t.Month())
}

// ParseDate accepts "2006-01-02" or an RFC 3339 timestamp and returns the
// calendar date at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingDate
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		ts, tsErr := time.Parse(time.RFC3339, s)
		if tsErr != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		t = ts.UTC()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// NormalizeCategory trims the category and substitutes DefaultCategory when empty.
func NormalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultCategory
	}
	return c
}

// Parse validates the raw input and builds an Expense for owner.
// ID and CreatedAt are left for the store to assign.
func (in ExpenseInput) Parse(owner string) (Expense, error) {
	if strings.TrimSpace(owner) == "" {
		return Expense{}, ErrMissingOwner
	}
	if strings.TrimSpace(in.Amount) == "" {
		return Expense{}, ErrMissingAmount
	}
	if strings.TrimSpace(in.Date) == "" {
		return Expense{}, ErrMissingDate
	}
	amount, err := ParseMoney(in.Amount)
	if err != nil {
		return Expense{}, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return Expense{}, err
	}
	e := Expense{
		OwnerID:  owner,
		Amount:   amount,
		Date:     date,
		Category: NormalizeCategory(in.Category),
		Vendor:   strings.TrimSpace(in.Vendor),
		Note:     strings.TrimSpace(in.Note),
	}
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}

// Validate checks an expense before it is written to the ledger.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrMissingOwner
	}
	if e.Date.IsZero() {
		return ErrMissingDate
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Category) > maxCategoryLen {
		return fmt.Errorf("%w: category (max %d characters)", ErrFieldTooLong, maxCategoryLen)
	}
	if len(e.Vendor) > maxVendorLen {
		return fmt.Errorf("%w: vendor (max %d characters)", ErrFieldTooLong, maxVendorLen)
	}
	if len(e.Note) > maxNoteLen {
		return fmt.Errorf("%w: note (max %d characters)", ErrFieldTooLong, maxNoteLen)
	}
	return nil
}

// Month returns the month the expense counts towards.
func (e Expense) Month() MonthKey {
	return MonthOf(e.Date)
}

// SpendKey returns the cache entry this expense contributes to.
func (e Expense) SpendKey() SpendKey {
	return SpendKey{OwnerID: e.OwnerID, Month: e.Month(), Category: e.Category}
}

// Validate checks a budget before it is stored.
func (b Budget) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return ErrMissingOwner
	}
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if len(b.Category) > maxCategoryLen {
		return fmt.Errorf("%w: category (max %d characters)", ErrFieldTooLong, maxCategoryLen)
	}
	if b.Limit.IsNegative() {
		return ErrNegativeLimit
	}
	return nil
}

// String renders the key for logs and cache lookups.
func (k SpendKey) String() string {
	return k.OwnerID + "/" + string(k.Month) + "/" + k.Category
}
