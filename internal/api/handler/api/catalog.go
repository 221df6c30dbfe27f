package api

import (
	"net/http"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy"
)

// CatalogHandler describes the available strategy types.
type CatalogHandler struct {
	registry *strategy.Registry
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(registry *strategy.Registry) *CatalogHandler {
	return &CatalogHandler{registry: registry}
}

// List returns the metadata of every strategy type.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"strategies": h.registry.All(),
	})
}

// Get returns one strategy type with its default params and JSON schema.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("type")
	meta, ok := h.registry.Find(kind)
	if !ok {
		response.Fail(w, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", kind))
		return
	}
	defaults, err := h.registry.DefaultConfig(meta.ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	schema, err := h.registry.Schema(meta.ID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"meta":     meta,
		"defaults": defaults,
		"schema":   schema,
	})
}
