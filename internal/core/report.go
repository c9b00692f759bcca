package core

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

type (
	// ReportLine is the per-category breakdown of a Report.
	ReportLine struct {
		Category  string `json:"category"`
		Budgeted  Money  `json:"budgeted"`
		Spent     Money  `json:"spent"`
		Overspent Money  `json:"overspent"`
	}

	// Report is an immutable monthly snapshot of the spend cache against budgets.
	Report struct {
		ID             string       `json:"id"`
		OwnerID        string       `json:"-"`
		Year           int          `json:"year"`
		Month          int          `json:"month"`
		TotalBudgeted  Money        `json:"total_budgeted"`
		TotalSpent     Money        `json:"total_spent"`
		TotalOverspent Money        `json:"total_overspent"`
		Lines          []ReportLine `json:"categories"`
		GeneratedAt    time.Time    `json:"generated_at"`
	}
)

var csvHeader = []string{"Category", "Budgeted", "Spent", "Overspent"}

// NewReportLine computes overspent as max(0, spent-budgeted).
func NewReportLine(category string, budgeted, spent Money) ReportLine {
	return ReportLine{
		Category:  category,
		Budgeted:  budgeted,
		Spent:     spent,
		Overspent: spent.Sub(budgeted).MaxZero(),
	}
}

// Add accumulates a line into the report totals and appends it.
func (r *Report) Add(line ReportLine) {
	r.Lines = append(r.Lines, line)
	r.TotalBudgeted = r.TotalBudgeted.Add(line.Budgeted)
	r.TotalSpent = r.TotalSpent.Add(line.Spent)
	r.TotalOverspent = r.TotalOverspent.Add(line.Overspent)
}

// MonthKey returns the month the report covers.
func (r Report) MonthKey() MonthKey {
	return MonthKey(fmt.Sprintf("%04d-%02d", r.Year, r.Month))
}

// WriteCSV writes the header, one row per category, a blank separator line
// and the TOTAL row.
func (r Report) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range r.Lines {
		row := []string{l.Category, l.Budgeted.String(), l.Spent.String(), l.Overspent.String()}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %q: %w", l.Category, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv rows: %w", err)
	}

	if _, err := bw.WriteString("\n"); err != nil {
		return fmt.Errorf("write csv separator: %w", err)
	}

	total := []string{"TOTAL", r.TotalBudgeted.String(), r.TotalSpent.String(), r.TotalOverspent.String()}
	if err := cw.Write(total); err != nil {
		return fmt.Errorf("write csv total: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv total: %w", err)
	}
	return bw.Flush()
}
