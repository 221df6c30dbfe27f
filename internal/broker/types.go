// Package broker executes routed live signals as orders against a broker
// account and reports the fills back to the strategy engine.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// Broker-specific errors.
var (
	// ErrOrderNotFound indicates the order was not found.
	ErrOrderNotFound = errors.New("broker: order not found")
	// ErrInvalidSymbol indicates an invalid or empty symbol.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")
	// ErrInvalidQuantity indicates an invalid quantity.
	ErrInvalidQuantity = errors.New("broker: invalid quantity")
	// ErrInvalidPrice indicates an invalid price for limit orders.
	ErrInvalidPrice = errors.New("broker: invalid price for limit order")
	// ErrInvalidOrderType indicates an unsupported order type.
	ErrInvalidOrderType = errors.New("broker: invalid order type")
	// ErrInsufficientFunds indicates insufficient cash for the order.
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	// ErrInsufficientPosition indicates a sell larger than the holding
	// while shorting is disabled.
	ErrInsufficientPosition = errors.New("broker: insufficient position")
	// ErrNoQuote indicates no price has been seen for the symbol.
	ErrNoQuote = errors.New("broker: no quote for symbol")
	// ErrOrderNotCancellable indicates the order is already final.
	ErrOrderNotCancellable = errors.New("broker: order cannot be cancelled")
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// SideOf maps a signal action to an order side.
func SideOf(a core.Action) (OrderSide, bool) {
	switch a {
	case core.ActionBuy:
		return OrderSideBuy, true
	case core.ActionSell:
		return OrderSideSell, true
	}
	return "", false
}

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeMarket executes at the current market price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes at the specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// OrderRequest represents a request to place a new order.
type OrderRequest struct {
	// StrategyID tags the order with the strategy that produced it.
	StrategyID string          `json:"strategy_id,omitempty"`
	Kind       core.SignalKind `json:"kind,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	// Price is the limit price (required for LIMIT orders).
	Price         decimal.Decimal `json:"price,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

// Validate checks if the order request has valid required fields.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if !r.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !r.Price.IsPositive() {
			return ErrInvalidPrice
		}
	default:
		return ErrInvalidOrderType
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return ErrInvalidOrderType
	}
	return nil
}

// Order represents an order in the broker system.
type Order struct {
	OrderID          string          `json:"order_id"`
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	StrategyID       string          `json:"strategy_id,omitempty"`
	Kind             core.SignalKind `json:"kind,omitempty"`
	Symbol           string          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	Type             OrderType       `json:"type"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price,omitempty"`
	Status           OrderStatus     `json:"status"`
	FilledQuantity   decimal.Decimal `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	Commission       decimal.Decimal `json:"commission"`
	CreatedAt        time.Time       `json:"created_at"`
	FilledAt         *time.Time      `json:"filled_at,omitempty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
}

// IsFilled returns true if the order is completely filled.
func (o Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsTerminal returns true if the order is in a final state.
func (o Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled ||
		o.Status == OrderStatusCancelled ||
		o.Status == OrderStatusRejected
}

// Position represents a holding in a security. Quantity is negative for
// shorts.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsLong returns true if this is a long position.
func (p Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort returns true if this is a short position.
func (p Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// Balance represents account balance information.
type Balance struct {
	Cash decimal.Decimal `json:"cash"`
	// TotalValue is cash plus the market value of every position.
	TotalValue decimal.Decimal `json:"total_value"`
	// DailyPL is the realized profit or loss of the current trading day.
	DailyPL   decimal.Decimal `json:"daily_pl"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Broker defines the interface for broker integrations.
type Broker interface {
	// Name returns the broker identifier.
	Name() string

	PlaceOrder(ctx context.Context, request OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrders(ctx context.Context) ([]Order, error)

	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	GetBalance(ctx context.Context) (*Balance, error)

	// Quote returns the latest known price of symbol.
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}
