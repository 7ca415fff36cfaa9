package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRecordNotFound   = errors.New("record not found")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrUpstream         = errors.New("upstream provider failure")
)

const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeRecordNotFound   = "RECORD_NOT_FOUND"
	CodeServerError      = "SERVER_ERROR"
	CodeUpstreamError    = "UPSTREAM_ERROR"
)

// Code maps an error chain onto the public error taxonomy. Anything not
// recognised is a retryable server error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, ErrRecordNotFound):
		return CodeRecordNotFound
	case errors.Is(err, ErrUpstream):
		return CodeUpstreamError
	}
	return CodeServerError
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotAuthenticated:
		return http.StatusUnauthorized
	case CodeRecordNotFound:
		return http.StatusNotFound
	case CodeUpstreamError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	switch Code(err) {
	case CodeServerError, CodeUpstreamError:
		return true
	}
	return false
}
