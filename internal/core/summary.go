package core

const (
	StatusGood    = "good"
	StatusWarning = "warning"
	StatusOver    = "over"
)

// BudgetStatus is one row of the budgets listing: the limit alongside the
// cached running total for the requested month.
type BudgetStatus struct {
	Category     string  `json:"category"`
	BudgetAmount Money   `json:"budget_amount"`
	Spent        Money   `json:"spent"`
	Remaining    Money   `json:"remaining"`
	Percentage   float64 `json:"percentage"`
	Status       string  `json:"status"`
}

// NewBudgetStatus derives remaining, percentage and status for a budget.
func NewBudgetStatus(b Budget, spent Money) BudgetStatus {
	pct := spent.Percentage(b.Limit)
	return BudgetStatus{
		Category:     b.Category,
		BudgetAmount: b.Limit,
		Spent:        spent,
		Remaining:    b.Limit.Sub(spent),
		Percentage:   pct,
		Status:       StatusFor(b.Limit, spent),
	}
}

// StatusFor compares spent with the limit exactly: over above 100%, warning
// above 80%. Percentage is rounded for display only. A zero limit has no
// percentage and reports good.
func StatusFor(limit, spent Money) string {
	switch {
	case limit.Cents <= 0:
		return StatusGood
	case spent.Cents > limit.Cents:
		return StatusOver
	case spent.Cents*5 > limit.Cents*4:
		return StatusWarning
	default:
		return StatusGood
	}
}
