package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/newthinker/tradecore/internal/core"
)

func TestJSON_EchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-7")

	JSON(w, http.StatusCreated, map[string]string{"id": "sma_crossover_1a2b3c4d"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected application/json content type")
	}

	var resp struct {
		Data map[string]string `json:"data"`
		Meta Meta              `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data["id"] != "sma_crossover_1a2b3c4d" {
		t.Errorf("unexpected data %v", resp.Data)
	}
	if resp.Meta.Timestamp.IsZero() || resp.Meta.RequestID != "req-7" {
		t.Errorf("unexpected meta %+v", resp.Meta)
	}
}

func TestError_ListsValidationFields(t *testing.T) {
	type params struct {
		FastPeriod int `validate:"min=1"`
		SlowPeriod int `validate:"gtfield=FastPeriod"`
	}
	verr := validator.New().Struct(params{FastPeriod: 0, SlowPeriod: 0})
	w := httptest.NewRecorder()

	Fail(w, core.WrapError(core.ErrConfigInvalid, verr))

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusBadRequest || resp.Error.Code != "CONFIG_INVALID" {
		t.Fatalf("unexpected %d %+v", w.Code, resp.Error)
	}
	if len(resp.Error.Fields) != 2 {
		t.Fatalf("expected two field errors, got %+v", resp.Error.Fields)
	}
	if resp.Error.Fields[0] != (FieldError{Field: "params.FastPeriod", Rule: "min", Param: "1"}) {
		t.Errorf("unexpected first field error %+v", resp.Error.Fields[0])
	}
}

func TestError_WithCoreError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigInvalid, "fast_period must be positive"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != "CONFIG_INVALID" {
		t.Errorf("expected CONFIG_INVALID, got %s", resp.Error.Code)
	}
	if resp.Error.Message != "fast_period must be positive" {
		t.Errorf("expected message, got %q", resp.Error.Message)
	}
}

func TestError_WithStandardError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusInternalServerError, errors.New("disk on fire"))

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("expected INTERNAL_ERROR, got %s", resp.Error.Code)
	}
	if resp.Error.Cause != "" {
		t.Errorf("plain errors must not leak their text, got %q", resp.Error.Cause)
	}
}

func TestFail_MapsStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.Errorf(core.ErrStrategyNotFound, "strategy %q not found", "x"), http.StatusNotFound},
		{core.ErrStrategyAlreadyExists, http.StatusConflict},
		{core.ErrAlreadyRunning, http.StatusBadRequest},
		{core.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		Fail(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}
