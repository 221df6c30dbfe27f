package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/app"
	"github.com/newthinker/tradecore/internal/config"
)

const candleCSV = `time,open,high,low,close,volume
2024-01-02,10,10,10,10,100
2024-01-03,9,9,9,9,100
2024-01-04,8,8,8,8,100
2024-01-05,7,7,7,7,100
2024-01-08,8,8,8,8,100
2024-01-09,12,12,12,12,100
`

func newApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "005930.csv"), []byte(candleCSV), 0o644))

	cfg := config.Defaults()
	cfg.Data.Dir = dir
	cfg.Storage.Archive.Type = "localfs"
	cfg.Storage.Archive.Path = t.TempDir()

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// call runs fn against a request whose path values come from pathValues
func call(fn http.HandlerFunc, method, url string, body any, pathValues map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, url, &buf)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	fn(w, req)

	var resp struct {
		Data  map[string]any       `json:"data"`
		Error response.ErrorDetail `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != "" {
		return w, map[string]any{"code": resp.Error.Code}
	}
	return w, resp.Data
}

func TestStrategiesHandler_Lifecycle(t *testing.T) {
	a := newApp(t)
	h := NewStrategiesHandler(a.Manager(), a.Engine())

	w, data := call(h.Create, "POST", "/strategies", CreateStrategyRequest{
		ID:     "sma_main",
		Type:   "sma_crossover",
		Name:   "Main",
		Params: map[string]any{"fast_period": 2, "slow_period": 3},
		Start:  true,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "sma_main", data["id"])
	assert.Equal(t, true, data["running"])

	id := map[string]string{"id": "sma_main"}

	w, data = call(h.Get, "GET", "/strategies/sma_main", nil, id)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := data["config"].(map[string]any)
	assert.Equal(t, 2.0, cfg["fast_period"])
	assert.NotNil(t, data["exit"])

	w, data = call(h.Stop, "POST", "/strategies/sma_main/stop", nil, id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data["running"])

	w, data = call(h.Stop, "POST", "/strategies/sma_main/stop", nil, id)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NOT_RUNNING", data["code"])

	w, _ = call(h.Start, "POST", "/strategies/sma_main/start", nil, id)
	assert.Equal(t, http.StatusOK, w.Code)

	w, data = call(h.List, "GET", "/strategies", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data["strategies"], 1)

	w, _ = call(h.Delete, "DELETE", "/strategies/sma_main", nil, id)
	assert.Equal(t, http.StatusOK, w.Code)

	w, data = call(h.Get, "GET", "/strategies/sma_main", nil, id)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STRATEGY_NOT_FOUND", data["code"])
}

func TestStrategiesHandler_CreateErrors(t *testing.T) {
	a := newApp(t)
	h := NewStrategiesHandler(a.Manager(), a.Engine())

	tests := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"missing type", CreateStrategyRequest{Name: "x"}, http.StatusBadRequest, "CONFIG_MISSING"},
		{"unknown type", CreateStrategyRequest{Type: "martingale"}, http.StatusNotFound, "STRATEGY_NOT_FOUND"},
		{"bad params", CreateStrategyRequest{Type: "sma_crossover", Params: map[string]any{"fast_period": 9, "slow_period": 3}}, http.StatusInternalServerError, "INIT_FAILED"},
		{"malformed body", "not an object", http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, data := call(h.Create, "POST", "/strategies", tt.body, nil)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.err, data["code"])
		})
	}

	_, err := a.Manager().Create(context.Background(), "dup", "rsi", "", nil)
	require.NoError(t, err)
	w, data := call(h.Create, "POST", "/strategies", CreateStrategyRequest{ID: "dup", Type: "rsi"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "STRATEGY_EXISTS", data["code"])
}

func TestStrategiesHandler_CloneAndConfig(t *testing.T) {
	a := newApp(t)
	h := NewStrategiesHandler(a.Manager(), a.Engine())
	_, err := a.Manager().Create(context.Background(), "src", "sma_crossover", "Source", nil)
	require.NoError(t, err)

	w, data := call(h.Clone, "POST", "/strategies/src/clone", CloneStrategyRequest{
		Overrides: map[string]any{"slow_period": 30},
	}, map[string]string{"id": "src"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Source (copy)", data["name"])
	cloneID := data["id"].(string)

	cfg, err := a.Engine().GetStrategyConfig(cloneID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg["slow_period"])

	w, data = call(h.UpdateConfig, "PUT", "/strategies/src/config",
		map[string]any{"fast_period": 4, "slow_period": 8}, map[string]string{"id": "src"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4.0, data["config"].(map[string]any)["fast_period"])

	w, data = call(h.UpdateConfig, "PUT", "/strategies/src/config", nil, map[string]string{"id": "src"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", data["code"])
}

func TestStrategiesHandler_Risk(t *testing.T) {
	a := newApp(t)
	h := NewStrategiesHandler(a.Manager(), a.Engine())
	_, err := a.Manager().Create(context.Background(), "r", "sma_crossover", "", nil)
	require.NoError(t, err)
	id := map[string]string{"id": "r"}

	w, data := call(h.UpdateRisk, "PUT", "/strategies/r/risk", map[string]any{
		"stop_loss_enabled": true,
		"stop_loss_pct":     4.5,
	}, id)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4.5, data["stop_loss_pct"])

	w, data = call(h.UpdateRisk, "PUT", "/strategies/r/risk", map[string]any{"stop_loss_pct": 150}, id)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFIG_INVALID", data["code"])

	w, data = call(h.UpdateRisk, "PUT", "/strategies/r/risk", map[string]any{"bogus": 1}, id)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFIG_INVALID", data["code"])

	w, data = call(h.GetRisk, "GET", "/strategies/r/risk", nil, id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4.5, data["stop_loss_pct"])
}
