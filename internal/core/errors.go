// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf creates a new error with the code of base and a formatted message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{
		Code:    base.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Code extracts the error code, or "" when err is not a *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Predefined errors
var (
	// Lifecycle errors
	ErrStrategyNotFound      = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}
	ErrStrategyAlreadyExists = &Error{Code: "STRATEGY_EXISTS", Message: "strategy already exists"}
	ErrInitializationFailed  = &Error{Code: "INIT_FAILED", Message: "strategy initialization failed"}
	ErrNotRunning            = &Error{Code: "NOT_RUNNING", Message: "strategy is not running"}
	ErrAlreadyRunning        = &Error{Code: "ALREADY_RUNNING", Message: "strategy is already running"}
	ErrChannel               = &Error{Code: "CHANNEL_ERROR", Message: "internal dispatch failed"}
	ErrInternal              = &Error{Code: "INTERNAL_ERROR", Message: "internal error"}

	// Backtest errors
	ErrEmptyInput       = &Error{Code: "EMPTY_INPUT", Message: "no candles supplied"}
	ErrInvalidInput     = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
	ErrNotInitialized   = &Error{Code: "NOT_INITIALIZED", Message: "strategy is not initialized"}
	ErrContextMismatch  = &Error{Code: "CONTEXT_MISMATCH", Message: "strategy context was not attached before initialization"}
	ErrSimulationFailed = &Error{Code: "SIMULATION_FAILED", Message: "simulation failed"}
	ErrFillRejected     = &Error{Code: "FILL_REJECTED", Message: "order fill rejected"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Storage errors
	ErrStorageFailed = &Error{Code: "STORAGE_FAILED", Message: "storage operation failed"}
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "record not found"}

	// API errors
	ErrUnauthorized = &Error{Code: "UNAUTHORIZED", Message: "missing or invalid api key"}
)

var httpStatus = map[string]int{
	ErrStrategyNotFound.Code:      http.StatusNotFound,
	ErrStrategyAlreadyExists.Code: http.StatusConflict,
	ErrInitializationFailed.Code:  http.StatusInternalServerError,
	ErrNotRunning.Code:            http.StatusBadRequest,
	ErrAlreadyRunning.Code:        http.StatusBadRequest,
	ErrChannel.Code:               http.StatusInternalServerError,
	ErrInternal.Code:              http.StatusInternalServerError,
	ErrEmptyInput.Code:            http.StatusBadRequest,
	ErrInvalidInput.Code:          http.StatusBadRequest,
	ErrNotInitialized.Code:        http.StatusConflict,
	ErrContextMismatch.Code:       http.StatusConflict,
	ErrSimulationFailed.Code:      http.StatusUnprocessableEntity,
	ErrFillRejected.Code:          http.StatusUnprocessableEntity,
	ErrConfigInvalid.Code:         http.StatusBadRequest,
	ErrConfigMissing.Code:         http.StatusBadRequest,
	ErrStorageFailed.Code:         http.StatusInternalServerError,
	ErrNotFound.Code:              http.StatusNotFound,
	ErrUnauthorized.Code:          http.StatusUnauthorized,
}

// HTTPStatus maps an error to the status a boundary layer should answer with.
func HTTPStatus(err error) int {
	if s, ok := httpStatus[Code(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
