package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/storage/signal"
)

const defaultSignalLimit = 50

// SignalsHandler serves the journal of routed signals.
type SignalsHandler struct {
	store signal.Store
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(store signal.Store) *SignalsHandler {
	return &SignalsHandler{store: store}
}

// List returns signals matching query parameters.
func (h *SignalsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := signal.ListFilter{
		StrategyID: q.Get("strategy_id"),
		Symbol:     q.Get("symbol"),
		Kind:       core.SignalKind(q.Get("kind")),
		Action:     core.Action(q.Get("action")),
		Limit:      defaultSignalLimit,
	}

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		response.Fail(w, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		response.Fail(w, err)
		return
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n >= 0 {
			filter.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}

	count, _ := h.store.Count(r.Context(), filter)

	response.JSON(w, http.StatusOK, map[string]any{
		"signals": entries,
		"total":   count,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetByID returns a single journaled signal.
func (h *SignalsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, entry)
}

// parseTime accepts RFC3339 or a bare date. Empty input is the zero time.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, core.Errorf(core.ErrInvalidInput, "invalid time %q", raw)
	}
	return t, nil
}
