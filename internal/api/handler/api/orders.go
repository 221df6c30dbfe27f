package api

import (
	"net/http"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
)

// AccountResponse is the body of GET /account.
type AccountResponse struct {
	Broker     string                    `json:"broker"`
	Balance    *broker.Balance           `json:"balance"`
	Positions  []broker.Position         `json:"positions"`
	Strategies []broker.StrategyPosition `json:"strategies"`
	Stats      broker.Stats              `json:"stats"`
}

// OrdersHandler exposes the paper account and its order flow. Every route
// answers 404 when execution is disabled.
type OrdersHandler struct {
	executor *broker.Executor
}

// NewOrdersHandler creates a new orders handler; executor may be nil.
func NewOrdersHandler(executor *broker.Executor) *OrdersHandler {
	return &OrdersHandler{executor: executor}
}

func (h *OrdersHandler) enabled(w http.ResponseWriter) bool {
	if h.executor == nil {
		response.Fail(w, core.Errorf(core.ErrNotFound, "execution is disabled"))
		return false
	}
	return true
}

// Account returns the balance, broker positions and per-strategy positions.
func (h *OrdersHandler) Account(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	b := h.executor.Broker()
	balance, err := b.GetBalance(r.Context())
	if err != nil {
		response.Fail(w, err)
		return
	}
	positions, err := b.GetPositions(r.Context())
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, AccountResponse{
		Broker:     b.Name(),
		Balance:    balance,
		Positions:  positions,
		Strategies: h.executor.Positions(),
		Stats:      h.executor.GetStats(),
	})
}

// List returns every order in placement order, optionally filtered by
// ?strategy_id= and ?status=.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	orders, err := h.executor.Broker().GetOrders(r.Context())
	if err != nil {
		response.Fail(w, err)
		return
	}
	q := r.URL.Query()
	strategyID, status := q.Get("strategy_id"), broker.OrderStatus(q.Get("status"))
	out := make([]broker.Order, 0, len(orders))
	for _, o := range orders {
		if strategyID != "" && o.StrategyID != strategyID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"orders": out,
		"count":  len(out),
	})
}

// Get returns one order.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	o, err := h.executor.Broker().GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, o)
}

// Cancel cancels a resting order.
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := h.executor.Broker().CancelOrder(r.Context(), id); err != nil {
		response.Fail(w, err)
		return
	}
	h.Get(w, r)
}

// Pending lists orders awaiting confirmation.
func (h *OrdersHandler) Pending(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	pending := h.executor.GetPendingOrders()
	response.JSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// Confirm places a pending order.
func (h *OrdersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	res, err := h.executor.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// Reject drops a pending order.
func (h *OrdersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := h.executor.Reject(id); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"rejected": id})
}
