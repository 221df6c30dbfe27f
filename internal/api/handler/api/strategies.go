package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/app"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

// CreateStrategyRequest is the body of POST /strategies.
type CreateStrategyRequest struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Params strategy.Config `json:"params,omitempty"`
	Start  bool            `json:"start,omitempty"`
}

// CloneStrategyRequest is the body of POST /strategies/{id}/clone.
type CloneStrategyRequest struct {
	Name      string          `json:"name,omitempty"`
	Overrides strategy.Config `json:"overrides,omitempty"`
}

// StrategyDetail is a strategy status with its configuration.
type StrategyDetail struct {
	strategy.StrategyStatus
	Config strategy.Config `json:"config"`
	Exit   risk.ExitConfig `json:"exit"`
}

// StrategiesHandler manages strategy instances.
type StrategiesHandler struct {
	manager *app.Manager
	engine  *strategy.Engine
}

// NewStrategiesHandler creates a new strategies handler.
func NewStrategiesHandler(manager *app.Manager, engine *strategy.Engine) *StrategiesHandler {
	return &StrategiesHandler{manager: manager, engine: engine}
}

// List returns every registered strategy ordered by id.
func (h *StrategiesHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.engine.GetAllStatuses()
	out := make([]strategy.StrategyStatus, 0, len(all))
	for _, st := range all {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b strategy.StrategyStatus) int { return strings.Compare(a.ID, b.ID) })

	response.JSON(w, http.StatusOK, map[string]any{
		"strategies": out,
		"stats":      h.engine.GetEngineStats(),
	})
}

// Create registers a new strategy instance.
func (h *StrategiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateStrategyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		response.Fail(w, core.Errorf(core.ErrConfigMissing, "type is required"))
		return
	}

	st, err := h.manager.Create(r.Context(), req.ID, req.Type, req.Name, req.Params)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if req.Start {
		if err := h.manager.Start(r.Context(), st.ID); err != nil {
			response.Fail(w, err)
			return
		}
		st, _ = h.engine.GetStrategyStatus(st.ID)
	}
	response.JSON(w, http.StatusCreated, st)
}

// Get returns one strategy with its configuration and exit rules.
func (h *StrategiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.detail(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, detail)
}

func (h *StrategiesHandler) detail(id string) (StrategyDetail, error) {
	st, err := h.engine.GetStrategyStatus(id)
	if err != nil {
		return StrategyDetail{}, err
	}
	cfg, err := h.engine.GetStrategyConfig(id)
	if err != nil {
		return StrategyDetail{}, err
	}
	exit, err := h.engine.GetStrategyExitConfig(id)
	if err != nil {
		return StrategyDetail{}, err
	}
	return StrategyDetail{StrategyStatus: st, Config: cfg, Exit: exit}, nil
}

// Delete stops and removes a strategy.
func (h *StrategiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.manager.Delete(r.Context(), id); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// Start starts a strategy.
func (h *StrategiesHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Start)
}

// Stop stops a strategy.
func (h *StrategiesHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Stop)
}

func (h *StrategiesHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := fn(r.Context(), id); err != nil {
		response.Fail(w, err)
		return
	}
	st, err := h.engine.GetStrategyStatus(id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, st)
}

// Clone copies a strategy into a new stopped instance.
func (h *StrategiesHandler) Clone(w http.ResponseWriter, r *http.Request) {
	var req CloneStrategyRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.manager.Clone(r.Context(), r.PathValue("id"), req.Name, req.Overrides)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, st)
}

// UpdateConfig replaces a strategy's configuration document.
func (h *StrategiesHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg strategy.Config
	if !decode(w, r, &cfg) {
		return
	}
	if cfg == nil {
		response.Fail(w, core.Errorf(core.ErrInvalidInput, "configuration body is required"))
		return
	}
	id := r.PathValue("id")
	if err := h.manager.UpdateConfig(r.Context(), id, cfg); err != nil {
		response.Fail(w, err)
		return
	}
	h.Get(w, r)
}

// GetRisk returns a strategy's exit rules.
func (h *StrategiesHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	exit, err := h.engine.GetStrategyExitConfig(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, exit)
}

// UpdateRisk overlays the body on a strategy's exit rules.
func (h *StrategiesHandler) UpdateRisk(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if !decode(w, r, &overrides) {
		return
	}
	id := r.PathValue("id")
	if err := h.manager.UpdateRisk(r.Context(), id, overrides); err != nil {
		response.Fail(w, err)
		return
	}
	h.GetRisk(w, r)
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Fail(w, core.WrapError(core.ErrInvalidInput, err))
		return false
	}
	return true
}
