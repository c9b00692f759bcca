package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"budgetwatch/internal/core"
	applog "budgetwatch/internal/log"
)

// writeServiceError maps a service error onto the response. Validation is a
// client error, a missing resource is 404, everything else is reported to
// Sentry and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case core.IsValidation(err):
		BadRequestError(err.Error()).Write(w)
	case errors.Is(err, core.ErrNotFound):
		NotFoundError(op + ": not found").Write(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.WarnContext(ctx, "Request aborted", applog.FieldOperation, op, applog.FieldError, err)
		ServiceUnavailableError("request cancelled").Write(w)
	default:
		slog.ErrorContext(ctx, "Request failed", applog.FieldOperation, op, applog.FieldError, err)
		captureError(ctx, op, err)
		InternalServerError("internal error").Write(w)
	}
}

func captureError(ctx context.Context, op string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", op)
		if owner := ownerFrom(ctx); owner != "" {
			scope.SetUser(sentry.User{ID: owner})
		}
		if id := applog.RequestID(ctx); id != "" {
			scope.SetTag(applog.FieldRequestID, id)
		}
		hub.CaptureException(err)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	OKResponse().Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			ServiceUnavailableError("not ready").Write(w)
			return
		}
	}
	OKResponse().Write(w)
}
