package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/kvcache"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeNotFound       = "not_found_error"
	errTypeWindow         = "context_window_exceeded"
	errTypeServer         = "server_error"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, errTypeInvalidRequest, msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, errTypeNotFound, msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, ErrorResponse{
		Error: ResponseError{Type: errType, Message: msg},
	})
}

// writeEvalError maps an evaluation failure to its HTTP status.
func writeEvalError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, kvcache.ErrContextWindowExceeded):
		return writeError(c, http.StatusConflict, errTypeWindow, err.Error())
	case errors.Is(err, gptj.ErrEmptyInput), errors.Is(err, gptj.ErrTokenOutOfRange):
		return writeBadRequest(c, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, errTypeServer, err.Error())
	}
}
