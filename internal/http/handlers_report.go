package http

import (
	"bytes"
	"fmt"
	"net/http"

	"budgetwatch/internal/core"
)

// handleGenerateReport snapshots the requested month on demand.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	report, err := s.reports.Generate(r.Context(), ownerFrom(r.Context()), month)
	if err != nil {
		writeServiceError(w, r, "generate report", err)
		return
	}
	if report == nil {
		MessageResponse("No data to report").Write(w)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/reports/"+report.ID).
		Body(generateReportResponse{
			ID:          report.ID,
			Month:       report.MonthKey().String(),
			GeneratedAt: report.GeneratedAt,
		}).
		Write(w)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimitParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	reports, err := s.reports.ListReports(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		writeServiceError(w, r, "list reports", err)
		return
	}
	if reports == nil {
		reports = []core.Report{}
	}
	NewJSONResponse().Body(reports).Write(w)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.GetReport(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "report", err)
		return
	}
	NewJSONResponse().Body(report).Write(w)
}

// handleExportReport streams the report as CSV.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.GetReport(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "report", err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf); err != nil {
		writeServiceError(w, r, "export report", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.csv"`, report.MonthKey()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
