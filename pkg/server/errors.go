package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/relayforge/relayforge/pkg/domain"
)

// writeError maps a domain error onto the stable JSON error model. The
// message is the sentinel's text unless a DomainError carries a more
// specific one; internals never leak raw error strings.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := domain.ErrorResponse{Code: domain.CodeInternal, Message: "internal error"}

	switch {
	case errors.Is(err, domain.ErrSecurityRejected):
		status = http.StatusBadRequest
		resp.Code = domain.CodeSecurityRejected
		resp.Message = err.Error()
	case errors.Is(err, domain.ErrInvalidPlan):
		status = http.StatusBadRequest
		resp.Code = domain.CodeInvalidPlan
		resp.Message = err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		resp.Code = domain.CodeUnauthorized
		resp.Message = domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		resp.Code = domain.CodeRateLimited
		resp.Message = domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
		resp.Code = domain.CodeNotFound
		resp.Message = err.Error()
	case errors.Is(err, domain.ErrCorruptedSecret):
		status = http.StatusInternalServerError
		resp.Code = domain.CodeCorruptedSecret
		resp.Message = domain.ErrCorruptedSecret.Error()
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
