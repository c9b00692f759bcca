// Package google appends generated reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgetwatch/internal/core"
)

const defaultSheetName = "Reports"

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// valuesAppender is the subset of the Sheets values API the sink uses.
type valuesAppender interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

type sheetsValues struct {
	svc *gsheet.Service
}

func (v sheetsValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// ReportSink writes one row per report category plus a TOTAL row into a
// year-prefixed sheet, e.g. "2024 Reports".
type ReportSink struct {
	values        valuesAppender
	spreadsheetID string
	sheetBase     string
}

// New creates a sink authenticated with service account credentials.
func New(ctx context.Context, cfg Config) (*ReportSink, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newReportSink(sheetsValues{svc: svc}, cfg), nil
}

func newReportSink(values valuesAppender, cfg Config) *ReportSink {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = defaultSheetName
	}
	return &ReportSink{
		values:        values,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		sheetBase:     base,
	}
}

// newSheetsService resolves credentials from inline JSON, a file, or
// GOOGLE_APPLICATION_CREDENTIALS, in that order.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if cfg.ServiceAccountJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.ServiceAccountJSON != "":
		credentialsJSON = []byte(cfg.ServiceAccountJSON)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return svc, nil
}

// AppendReport writes r to the sheet of the report's year.
func (s *ReportSink) AppendReport(ctx context.Context, r core.Report) error {
	sheet := yearPrefixedName(s.sheetBase, r.Year)
	rng := fmt.Sprintf("%s!A:H", sheet)
	if err := s.values.Append(ctx, s.spreadsheetID, rng, reportRows(r)); err != nil {
		return fmt.Errorf("append report %s to %s: %w", r.ID, sheet, err)
	}
	slog.InfoContext(ctx, "Report exported to sheet",
		"report_id", r.ID,
		"owner_id", r.OwnerID,
		"sheet", sheet,
		"rows", len(r.Lines)+1)
	return nil
}

// reportRows lays out a report as
// generated_at, report id, owner, month, category, budgeted, spent, overspent.
func reportRows(r core.Report) [][]any {
	month := string(r.MonthKey())
	generated := r.GeneratedAt.UTC().Format("2006-01-02 15:04:05")
	rows := make([][]any, 0, len(r.Lines)+1)
	for _, l := range r.Lines {
		rows = append(rows, []any{generated, r.ID, r.OwnerID, month, l.Category,
			l.Budgeted.String(), l.Spent.String(), l.Overspent.String()})
	}
	rows = append(rows, []any{generated, r.ID, r.OwnerID, month, "TOTAL",
		r.TotalBudgeted.String(), r.TotalSpent.String(), r.TotalOverspent.String()})
	return rows
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
