// Package response writes the JSON envelopes used by every API endpoint.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/newthinker/tradecore/internal/core"
)

// Meta accompanies every envelope. RequestID echoes the X-Request-ID the
// logging middleware assigned.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// SuccessResponse wraps a successful payload.
type SuccessResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorDetail describes a failure by its stable error code. Fields lists
// the offending fields when validation failed.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Cause   string       `json:"cause,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ErrorResponse wraps a failure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
	Meta  Meta        `json:"meta"`
}

func meta(w http.ResponseWriter) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get("X-Request-ID"),
	}
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// JSON writes data in a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, SuccessResponse{Data: data, Meta: meta(w)})
}

// Error writes err in an error envelope with an explicit status. Errors
// outside the core taxonomy are reported as INTERNAL_ERROR without detail.
func Error(w http.ResponseWriter, status int, err error) {
	detail := ErrorDetail{
		Code:    core.ErrInternal.Code,
		Message: "an internal error occurred",
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		detail.Code = coreErr.Code
		detail.Message = coreErr.Message
		if coreErr.Cause != nil {
			detail.Cause = coreErr.Cause.Error()
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			detail.Fields = append(detail.Fields, FieldError{
				Field: fe.Namespace(),
				Rule:  fe.Tag(),
				Param: fe.Param(),
			})
		}
	}

	write(w, status, ErrorResponse{Error: detail, Meta: meta(w)})
}

// Fail writes err with the status its error code maps to.
func Fail(w http.ResponseWriter, err error) {
	Error(w, core.HTTPStatus(err), err)
}
