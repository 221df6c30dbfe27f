package api

import (
	"net/http"
	"time"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/app"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/job"
	"github.com/newthinker/tradecore/internal/strategy"
)

// BacktestRequest is the request body for starting a backtest.
type BacktestRequest struct {
	Strategy   string          `json:"strategy"`
	Symbols    []string        `json:"symbols,omitempty"`
	Start      string          `json:"start,omitempty"`
	End        string          `json:"end,omitempty"`
	Params     strategy.Config `json:"params,omitempty"`
	Collector  string          `json:"collector,omitempty"`
	UseContext bool            `json:"use_context,omitempty"`
	Label      string          `json:"label,omitempty"`
	Timeout    string          `json:"timeout,omitempty"`
}

// BacktestHandler handles backtest API requests.
type BacktestHandler struct {
	app *app.App
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(a *app.App) *BacktestHandler {
	return &BacktestHandler{app: a}
}

// Create queues a new backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Strategy == "" {
		response.Fail(w, core.Errorf(core.ErrConfigMissing, "strategy is required"))
		return
	}

	start, err := parseTime(req.Start)
	if err != nil {
		response.Fail(w, err)
		return
	}
	end, err := parseTime(req.End)
	if err != nil {
		response.Fail(w, err)
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		if timeout, err = time.ParseDuration(req.Timeout); err != nil {
			response.Fail(w, core.WrapError(core.ErrInvalidInput, err))
			return
		}
	}

	id, err := h.app.SubmitBacktest(r.Context(), app.BacktestRequest{
		Type:       req.Strategy,
		Params:     req.Params,
		Symbols:    req.Symbols,
		Start:      start,
		End:        end,
		Collector:  req.Collector,
		UseContext: req.UseContext,
		Label:      req.Label,
		Timeout:    timeout,
	})
	if err != nil {
		response.Fail(w, err)
		return
	}

	j, err := h.app.Backtests().Get(id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// List returns every tracked backtest job without results.
func (h *BacktestHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.app.Jobs().List()
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, summary(j))
	}
	response.JSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// GetStatus returns the status of a backtest job and, once complete, its
// report.
func (h *BacktestHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.app.Backtests().Get(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}

	resp := summary(j)
	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetReport loads an archived report. It answers 404 when archiving is
// disabled.
func (h *BacktestHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	reports := h.app.Reports()
	if reports == nil {
		response.Fail(w, core.Errorf(core.ErrNotFound, "report archive is disabled"))
		return
	}
	report, err := reports.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, report)
}

func summary(j job.Job) map[string]any {
	resp := map[string]any{
		"job_id":     j.ID,
		"label":      j.Label,
		"status":     j.Status,
		"progress":   j.Progress,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		resp["error"] = map[string]string{
			"code":    j.Error.Code,
			"message": j.Error.Message,
		}
	}
	return resp
}
