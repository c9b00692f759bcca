package http

import (
	"net/http"

	"budgetwatch/internal/core"
)

// handleCreateExpense records an expense and returns any budget alerts it raised.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	p, errResp := parseBody(w, r)
	if errResp != nil {
		errResp.Write(w)
		return
	}

	in := core.ExpenseInput{
		Amount:   p.Get("amount"),
		Date:     p.Get("date"),
		Category: p.Get("category"),
		Vendor:   p.Get("vendor"),
		Note:     p.Get("note"),
	}
	exp, batch, err := s.expenses.CreateExpense(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		writeServiceError(w, r, "create expense", err)
		return
	}

	if batch == nil {
		batch = []core.Alert{}
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+exp.ID).
		Body(createExpenseResponse{ID: exp.ID, Alerts: batch}).
		Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	limit, err := ParseLimitParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	items, err := s.expenses.ListExpenses(r.Context(), ownerFrom(r.Context()), month, limit)
	if err != nil {
		writeServiceError(w, r, "list expenses", err)
		return
	}

	out := make([]expenseView, 0, len(items))
	for _, e := range items {
		out = append(out, newExpenseView(e))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.expenses.DeleteExpense(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeServiceError(w, r, "expense", err)
		return
	}
	OKResponse().Write(w)
}
