package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/lifecycle"
	"github.com/moogar0880/problems"
)

const problemMediaType = "application/problem+json"

func (s *Server) writeProblem(w http.ResponseWriter, status int, problem *problems.Problem) {
	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		s.logger.Error("Failed to encode problem", "err", err)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail)
	s.writeProblem(w, http.StatusBadRequest, problem)
}

// writeError maps domain errors to RFC 7807 problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "err", err)
		problem := problems.NewStatusProblem(status).
			WithInstance(r.URL.Path).
			WithType(kind).
			WithError(err)
		s.writeProblem(w, status, problem)
		return
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(kind).
		WithDetail(err.Error())
	s.writeProblem(w, status, problem)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrFlowNotFound):
		return http.StatusNotFound, "flow_not_found"
	case errors.Is(err, domain.ErrNoActiveFlow):
		return http.StatusNotFound, "no_active_flow"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, domain.ErrFlowInUse):
		return http.StatusConflict, "flow_in_use"
	case errors.Is(err, domain.ErrMalformedFlow):
		return http.StatusUnprocessableEntity, "malformed_flow"
	case errors.Is(err, domain.ErrFlowCycleOverflow):
		return http.StatusUnprocessableEntity, "flow_cycle_overflow"
	case errors.Is(err, lifecycle.ErrInvalidFlow):
		return http.StatusBadRequest, "validation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
