package http

import (
	"strings"
	"time"

	"budgetwatch/internal/core"
)

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

type expenseView struct {
	ID        string     `json:"id"`
	Amount    core.Money `json:"amount"`
	Date      string     `json:"date"`
	Category  string     `json:"category"`
	Vendor    string     `json:"vendor"`
	Note      string     `json:"note"`
	CreatedAt time.Time  `json:"created_at"`
}

func newExpenseView(e core.Expense) expenseView {
	return expenseView{
		ID:        e.ID,
		Amount:    e.Amount,
		Date:      e.Date.Format("2006-01-02"),
		Category:  e.Category,
		Vendor:    e.Vendor,
		Note:      e.Note,
		CreatedAt: e.CreatedAt,
	}
}

type createExpenseResponse struct {
	ID     string       `json:"id"`
	Alerts []core.Alert `json:"alerts"`
}

type generateReportResponse struct {
	ID          string    `json:"id"`
	Month       string    `json:"month"`
	GeneratedAt time.Time `json:"generated_at"`
}
