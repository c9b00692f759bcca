package http

import (
	"net/http"

	"budgetwatch/internal/core"
)

// handleUpsertBudget accepts {category, amount}; the budget_category and
// budget_amount spellings are accepted too.
func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	p, errResp := parseBody(w, r)
	if errResp != nil {
		errResp.Write(w)
		return
	}

	category := p.First("category", "budget_category")
	if category == "" {
		BadRequestError(core.ErrEmptyCategory.Error()).Write(w)
		return
	}
	limit, err := core.ParseMoney(p.First("amount", "budget_amount"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if _, err := s.budgets.UpsertBudget(r.Context(), ownerFrom(r.Context()), category, limit); err != nil {
		writeServiceError(w, r, "upsert budget", err)
		return
	}
	OKResponse().Write(w)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	statuses, err := s.budgets.ListBudgets(r.Context(), ownerFrom(r.Context()), month)
	if err != nil {
		writeServiceError(w, r, "list budgets", err)
		return
	}
	if statuses == nil {
		statuses = []core.BudgetStatus{}
	}
	NewJSONResponse().Body(statuses).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	category := sanitizeInput(r.PathValue("category"))
	if err := s.budgets.DeleteBudget(r.Context(), ownerFrom(r.Context()), category); err != nil {
		writeServiceError(w, r, "budget", err)
		return
	}
	OKResponse().Write(w)
}
