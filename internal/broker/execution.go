package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

// ErrPendingOrderNotFound indicates the pending order was not found.
var ErrPendingOrderNotFound = errors.New("execution: pending order not found")

// PendingState represents the state of a pending order.
type PendingState string

const (
	// PendingStateQueued indicates order is waiting for confirmation.
	PendingStateQueued PendingState = "queued"
	// PendingStateProcessing indicates order is being executed.
	PendingStateProcessing PendingState = "processing"
)

// PendingOrder represents an order awaiting confirmation.
type PendingOrder struct {
	ID        string          `json:"id"`
	Request   OrderRequest    `json:"request"`
	Price     decimal.Decimal `json:"price"`
	Signal    core.Signal     `json:"signal"`
	CreatedAt time.Time       `json:"created_at"`
	State     PendingState    `json:"state"`
}

// ExecuteResult represents the outcome of an execution attempt.
type ExecuteResult struct {
	Success   bool   `json:"success"`
	Order     *Order `json:"order,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	Message   string `json:"message"`
}

// FillRecorder receives the fills of orders a strategy produced.
type FillRecorder interface {
	RecordOrderFilled(id string, fill strategy.Fill) error
}

// ExitChecker evaluates a strategy's exit rules against one of its open
// positions.
type ExitChecker interface {
	CheckExit(id string, pos *core.Position, candle core.OHLCV) (risk.Decision, error)
}

// Stats are the executor counters
type Stats struct {
	Received     uint64 `json:"received"`
	Placed       uint64 `json:"placed"`
	Queued       uint64 `json:"queued"`
	RiskRejected uint64 `json:"risk_rejected"`
	Failed       uint64 `json:"failed"`
	Filled       uint64 `json:"filled"`
	ForcedExits  uint64 `json:"forced_exits"`
	Pending      int    `json:"pending"`
	Positions    int    `json:"positions"`
}

// Executor turns routed signals into orders: it sizes them, checks new
// exposure against the risk limits and either places them or queues them
// for confirmation.
type Executor struct {
	config Config
	broker Broker
	risk   *RiskChecker
	fills  FillRecorder
	exits  ExitChecker
	logger *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	pending    map[string]*PendingOrder
	orderIDSeq int
	live       map[string]*StrategyPosition // strategy|symbol

	received, placed, queued, riskRejected, failed, filled, forced atomic.Uint64
}

// StrategyPosition is the live exposure one strategy built in one symbol
// from its own fills.
type StrategyPosition struct {
	StrategyID string `json:"strategy_id"`
	core.Position
}

// NewExecutor creates an Executor. fills may be nil.
func NewExecutor(config Config, broker Broker, fills FillRecorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mode == "" {
		config.Mode = ExecutionAuto
	}
	return &Executor{
		config:  config,
		broker:  broker,
		risk:    NewRiskChecker(config.Risk, broker),
		fills:   fills,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*PendingOrder),
		live:    make(map[string]*StrategyPosition),
	}
}

// SetExitChecker enables exit rules on live positions.
func (em *Executor) SetExitChecker(c ExitChecker) {
	em.exits = c
}

// Broker returns the account orders are placed on.
func (em *Executor) Broker() Broker {
	return em.broker
}

// ExecuteSignal executes sig and logs the outcome. It is the hook the
// signal router calls for every routed signal.
func (em *Executor) ExecuteSignal(ctx context.Context, strategyID string, sig core.Signal) error {
	res, err := em.Execute(ctx, strategyID, sig)
	if err != nil {
		return err
	}
	em.logger.Info("signal executed",
		zap.String("strategy_id", strategyID),
		zap.String("signal", sig.String()),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message),
	)
	return nil
}

// Execute processes a trading signal and places or queues an order. Exit
// signals without a quantity close the strategy's own position and skip
// the risk check.
func (em *Executor) Execute(ctx context.Context, strategyID string, sig core.Signal) (*ExecuteResult, error) {
	em.received.Add(1)

	side, ok := SideOf(sig.Action)
	if !ok {
		return &ExecuteResult{Message: fmt.Sprintf("signal action %s does not require execution", sig.Action)}, nil
	}

	price := sig.Price
	if !price.IsPositive() {
		q, err := em.broker.Quote(ctx, sig.Symbol)
		if err != nil {
			em.failed.Add(1)
			return nil, fmt.Errorf("execution: %w", err)
		}
		price = q
	}

	quantity, err := em.size(ctx, strategyID, sig, side, price)
	if err != nil {
		em.failed.Add(1)
		return nil, err
	}
	if !quantity.IsPositive() {
		return &ExecuteResult{Message: "calculated order quantity is zero"}, nil
	}

	request := OrderRequest{
		StrategyID:    strategyID,
		Kind:          sig.Kind,
		Symbol:        sig.Symbol,
		Side:          side,
		Type:          OrderTypeMarket,
		Quantity:      quantity,
		ClientOrderID: sig.ID,
	}

	if sig.Kind != core.SignalExit {
		if check := em.risk.Check(ctx, request, price); !check.Allowed {
			em.riskRejected.Add(1)
			return &ExecuteResult{Message: fmt.Sprintf("risk check failed: %s", check.Reason)}, nil
		}
	}

	switch em.config.Mode {
	case ExecutionConfirm:
		return em.queueForConfirmation(request, sig, price), nil
	default:
		return em.executeImmediate(ctx, request)
	}
}

func (em *Executor) size(ctx context.Context, strategyID string, sig core.Signal, side OrderSide, price decimal.Decimal) (decimal.Decimal, error) {
	if sig.Quantity.IsPositive() {
		return sig.Quantity, nil
	}

	if sig.Kind == core.SignalExit {
		return em.exitSize(ctx, strategyID, sig.Symbol, side)
	}

	balance, err := em.broker.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: failed to get balance: %w", err)
	}
	qty := balance.TotalValue.Mul(pct(em.config.SizePct)).Div(price)
	if em.config.FractionalQuantity {
		return qty.RoundDown(8), nil
	}
	return qty.Floor(), nil
}

// exitSize returns the quantity that closes the strategy's own position in
// symbol, capped by what the account holds on that side. Orders without a
// strategy close the whole account position.
func (em *Executor) exitSize(ctx context.Context, strategyID, symbol string, side OrderSide) (decimal.Decimal, error) {
	pos, err := em.broker.GetPosition(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: failed to get position: %w", err)
	}
	held := decimal.Zero
	if (side == OrderSideSell && pos.IsLong()) || (side == OrderSideBuy && pos.IsShort()) {
		held = pos.Quantity.Abs()
	}
	if strategyID == "" {
		return held, nil
	}

	closing := core.SideLong
	if side == OrderSideBuy {
		closing = core.SideShort
	}
	em.mu.RLock()
	defer em.mu.RUnlock()
	sp, ok := em.live[liveKey(strategyID, symbol)]
	if !ok || sp.Side != closing {
		return decimal.Zero, nil
	}
	return decimal.Min(sp.Quantity, held), nil
}

// executeImmediate places an order immediately.
func (em *Executor) executeImmediate(ctx context.Context, request OrderRequest) (*ExecuteResult, error) {
	order, err := em.broker.PlaceOrder(ctx, request)
	if err != nil {
		em.failed.Add(1)
		if order != nil && order.Status == OrderStatusRejected {
			return &ExecuteResult{Order: order, Message: fmt.Sprintf("order rejected: %s", order.RejectionReason)}, nil
		}
		return nil, fmt.Errorf("execution: failed to place order: %w", err)
	}
	em.placed.Add(1)

	return &ExecuteResult{
		Success: true,
		Order:   order,
		Message: fmt.Sprintf("order placed: %s %s %s @ market", request.Side, request.Quantity, request.Symbol),
	}, nil
}

// queueForConfirmation adds an order to the pending queue.
func (em *Executor) queueForConfirmation(request OrderRequest, sig core.Signal, price decimal.Decimal) *ExecuteResult {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.orderIDSeq++
	pendingID := fmt.Sprintf("pending-%d", em.orderIDSeq)
	em.pending[pendingID] = &PendingOrder{
		ID:        pendingID,
		Request:   request,
		Price:     price,
		Signal:    sig,
		CreatedAt: em.now(),
		State:     PendingStateQueued,
	}
	em.queued.Add(1)

	return &ExecuteResult{
		Success:   true,
		PendingID: pendingID,
		Message:   fmt.Sprintf("order queued for confirmation: %s %s %s", request.Side, request.Quantity, request.Symbol),
	}
}

// Confirm executes a pending order.
func (em *Executor) Confirm(ctx context.Context, pendingID string) (*ExecuteResult, error) {
	em.mu.Lock()
	pending, exists := em.pending[pendingID]
	if !exists {
		em.mu.Unlock()
		return nil, core.WrapError(core.ErrNotFound, ErrPendingOrderNotFound)
	}
	if pending.State == PendingStateProcessing {
		em.mu.Unlock()
		return nil, core.Errorf(core.ErrInvalidInput, "order already being processed: %s", pendingID)
	}
	pending.State = PendingStateProcessing
	em.mu.Unlock()

	res, err := em.executeImmediate(ctx, pending.Request)

	em.mu.Lock()
	defer em.mu.Unlock()
	if err != nil {
		pending.State = PendingStateQueued
		return nil, err
	}
	delete(em.pending, pendingID)
	res.PendingID = pendingID
	return res, nil
}

// Reject removes a pending order without executing it.
func (em *Executor) Reject(pendingID string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if _, exists := em.pending[pendingID]; !exists {
		return core.WrapError(core.ErrNotFound, ErrPendingOrderNotFound)
	}
	delete(em.pending, pendingID)
	return nil
}

// GetPendingOrders returns the pending orders, oldest first.
func (em *Executor) GetPendingOrders() []PendingOrder {
	em.mu.RLock()
	defer em.mu.RUnlock()

	orders := make([]PendingOrder, 0, len(em.pending))
	for _, pending := range em.pending {
		orders = append(orders, *pending)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders
}

// OnFill books a broker fill against the strategy that produced the order
// and forwards it to the engine.
func (em *Executor) OnFill(order Order) {
	em.filled.Add(1)
	if order.StrategyID == "" {
		return
	}
	at := em.now()
	if order.FilledAt != nil {
		at = *order.FilledAt
	}
	em.track(order, at)

	if em.fills == nil {
		return
	}
	action := core.ActionBuy
	if order.Side == OrderSideSell {
		action = core.ActionSell
	}
	err := em.fills.RecordOrderFilled(order.StrategyID, strategy.Fill{
		Symbol:   order.Symbol,
		Action:   action,
		Kind:     order.Kind,
		Price:    order.AverageFillPrice,
		Quantity: order.FilledQuantity,
		Time:     at,
	})
	if err != nil {
		em.logger.Warn("fill not recorded",
			zap.String("strategy_id", order.StrategyID),
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}
}

func liveKey(strategyID, symbol string) string {
	return strategyID + "|" + symbol
}

// track applies a fill to the strategy's live position. A fill against the
// position reduces it; the excess of a larger fill opens the other side.
func (em *Executor) track(order Order, at time.Time) {
	qty := order.FilledQuantity
	price := order.AverageFillPrice
	side := core.SideLong
	if order.Side == OrderSideSell {
		side = core.SideShort
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	key := liveKey(order.StrategyID, order.Symbol)
	sp, ok := em.live[key]
	switch {
	case !ok:
	case sp.Side == side:
		total := sp.Quantity.Add(qty)
		sp.EntryPrice = sp.Quantity.Mul(sp.EntryPrice).Add(qty.Mul(price)).Div(total)
		sp.Quantity = total
		sp.MarkToMarket(price)
		return
	case qty.LessThan(sp.Quantity):
		sp.Quantity = sp.Quantity.Sub(qty)
		sp.MarkToMarket(price)
		return
	default:
		qty = qty.Sub(sp.Quantity)
		delete(em.live, key)
	}
	if !qty.IsPositive() {
		return
	}
	em.live[key] = &StrategyPosition{
		StrategyID: order.StrategyID,
		Position: core.Position{
			Symbol:       order.Symbol,
			Side:         side,
			Quantity:     qty,
			EntryPrice:   price,
			CurrentPrice: price,
			OpenedAt:     at,
		},
	}
}

// OnCandle runs the exit rules of every strategy holding candle's symbol
// and closes the positions they trigger at market. Forced exits skip the
// confirmation queue and the risk check.
func (em *Executor) OnCandle(ctx context.Context, candle core.OHLCV) {
	if em.exits == nil {
		return
	}

	type exit struct {
		sp       StrategyPosition
		decision risk.Decision
	}
	var exits []exit

	em.mu.Lock()
	for _, sp := range em.live {
		if sp.Symbol != candle.Symbol {
			continue
		}
		d, err := em.exits.CheckExit(sp.StrategyID, &sp.Position, candle)
		if err != nil {
			em.logger.Debug("exit check skipped",
				zap.String("strategy_id", sp.StrategyID),
				zap.Error(err),
			)
			continue
		}
		sp.MarkToMarket(candle.Close)
		if d.ShouldExit() {
			exits = append(exits, exit{sp: *sp, decision: d})
		}
	}
	em.mu.Unlock()

	for _, x := range exits {
		side := OrderSideSell
		if x.sp.Side == core.SideShort {
			side = OrderSideBuy
		}
		em.forced.Add(1)
		res, err := em.executeImmediate(ctx, OrderRequest{
			StrategyID: x.sp.StrategyID,
			Kind:       core.SignalExit,
			Symbol:     x.sp.Symbol,
			Side:       side,
			Type:       OrderTypeMarket,
			Quantity:   x.sp.Quantity,
		})
		if err != nil {
			em.logger.Error("forced exit failed",
				zap.String("strategy_id", x.sp.StrategyID),
				zap.String("symbol", x.sp.Symbol),
				zap.Error(err),
			)
			continue
		}
		em.logger.Info("forced exit",
			zap.String("strategy_id", x.sp.StrategyID),
			zap.String("symbol", x.sp.Symbol),
			zap.String("rule", string(x.decision.Action)),
			zap.String("reason", x.decision.Reason),
			zap.String("message", res.Message),
		)
	}
}

// Positions returns the live positions of every strategy, ordered by
// strategy then symbol.
func (em *Executor) Positions() []StrategyPosition {
	em.mu.RLock()
	defer em.mu.RUnlock()

	out := make([]StrategyPosition, 0, len(em.live))
	for _, sp := range em.live {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// GetStats returns the executor counters.
func (em *Executor) GetStats() Stats {
	em.mu.RLock()
	pending := len(em.pending)
	positions := len(em.live)
	em.mu.RUnlock()
	return Stats{
		Received:     em.received.Load(),
		Placed:       em.placed.Load(),
		Queued:       em.queued.Load(),
		RiskRejected: em.riskRejected.Load(),
		Failed:       em.failed.Load(),
		Filled:       em.filled.Load(),
		ForcedExits:  em.forced.Load(),
		Pending:      pending,
		Positions:    positions,
	}
}
