package surveyapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/resilience"
)

// classifyError feeds the breaker but never asks for a retry: a status check or a detection
// request is issued exactly once per caller action, whatever executor is injected.
func classifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if isTemporary(err) {
		return resilience.ErrorClassification{RecordFailure: true}
	}
	return resilience.ErrorClassification{}
}

func isTemporary(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return isRetryableHTTPStatus(statusErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrapKind attaches the domain error kind matching the failure.
func wrapKind(operation string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{domain.ErrTemporary, domain.ErrSurveyNotFound, domain.ErrConflict, domain.ErrInvalidInput, domain.ErrUnauthorized} {
		if domain.IsKind(err, kind) {
			return err
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			return domain.WrapError(domain.ErrSurveyNotFound, operation, err)
		case http.StatusConflict:
			return domain.WrapError(domain.ErrConflict, operation, err)
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, operation, err)
		}
	}
	if isTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
