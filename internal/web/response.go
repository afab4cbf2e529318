package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/domain"
)

// apiError is the body of every failed request.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// errorEnvelope wraps an apiError as {"error": {...}}.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

// respondError writes err under the given status and machine-readable code.
func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// respondOK writes payload with status 200.
func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// statusOf maps a domain error to an HTTP status and error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidResponse):
		return http.StatusBadRequest, "invalid_response"
	case errors.Is(err, domain.ErrInvalidAssessment):
		return http.StatusBadRequest, "invalid_assessment"
	case errors.Is(err, domain.ErrPastDueAssessment):
		return http.StatusBadRequest, "past_due_assessment"
	case errors.Is(err, domain.ErrNoDecksSelected):
		return http.StatusUnprocessableEntity, "no_decks_selected"
	case errors.Is(err, domain.ErrConcurrentRebalance):
		return http.StatusConflict, "concurrent_rebalance"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail responds with the status matching err, logging server-side failures.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(op+" failed", "error", err, "path", c.FullPath())
	}
	respondError(c, status, code, err)
}

func badRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "invalid_request", err)
}
