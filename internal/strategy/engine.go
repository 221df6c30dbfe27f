package strategy

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

// State is the lifecycle state of a registered strategy
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// StrategyStatus is the engine's view of one registered strategy
type StrategyStatus struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Strategy  Status    `json:"strategy"`
}

// EngineStats are process-wide counters
type EngineStats struct {
	TotalStrategies   int    `json:"total_strategies"`
	RunningStrategies int    `json:"running_strategies"`
	SignalsGenerated  uint64 `json:"total_signals_generated"`
	OrdersFilled      uint64 `json:"total_orders_filled"`
	MarketDataEvents  uint64 `json:"market_data_events"`
}

// SignalHandler receives the signals a running strategy produced for a candle
type SignalHandler interface {
	HandleSignals(ctx context.Context, strategyID string, signals []core.Signal)
}

// SignalHandlerFunc adapts a function to SignalHandler
type SignalHandlerFunc func(ctx context.Context, strategyID string, signals []core.Signal)

// HandleSignals calls f
func (f SignalHandlerFunc) HandleSignals(ctx context.Context, strategyID string, signals []core.Signal) {
	f(ctx, strategyID, signals)
}

// handle owns one registered instance.
//
// run serializes every call into the instance. mu guards the bookkeeping
// fields and is never held across an instance call, so status reads do not
// wait for a slow strategy.
type handle struct {
	id        string
	kind      string
	name      string
	instance  Strategy
	createdAt time.Time
	running   atomic.Bool

	run sync.Mutex

	mu        sync.Mutex
	state     State
	lastErr   string
	updatedAt time.Time
	cfg       Config
	exit      risk.ExitConfig
	status    Status
}

func (h *handle) snapshot() StrategyStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return StrategyStatus{
		ID:        h.id,
		Type:      h.kind,
		Name:      h.name,
		State:     h.state,
		Running:   h.running.Load(),
		LastError: h.lastErr,
		CreatedAt: h.createdAt,
		UpdatedAt: h.updatedAt,
		Strategy:  h.status,
	}
}

// Engine manages the lifecycle of registered strategy instances.
//
// The handle map has its own RWMutex; each handle has its own locks, so work
// on one strategy never blocks another.
type Engine struct {
	mu      sync.RWMutex
	handles map[string]*handle

	ctx       *stratctx.Context
	evaluator *risk.Evaluator
	logger    *zap.Logger
	events    core.EventSink
	signals   SignalHandler
	workers   int

	signalsGenerated atomic.Uint64
	ordersFilled     atomic.Uint64
	marketEvents     atomic.Uint64

	now func() time.Time
}

// NewEngine creates a strategy engine sharing sc with every registered
// strategy. A nil sc gets a fresh empty context.
func NewEngine(sc *stratctx.Context, logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	if sc == nil {
		sc = stratctx.New()
	}
	return &Engine{
		handles:   make(map[string]*handle),
		ctx:       sc,
		evaluator: risk.NewEvaluator(),
		logger:    l,
		events:    core.NopSink{},
		workers:   runtime.GOMAXPROCS(0),
		now:       time.Now,
	}
}

// SetEventSink sets where lifecycle events go. Call before use.
func (e *Engine) SetEventSink(sink core.EventSink) {
	if sink == nil {
		sink = core.NopSink{}
	}
	e.events = sink
}

// SetSignalHandler sets the consumer of live signals. Call before use.
func (e *Engine) SetSignalHandler(h SignalHandler) {
	e.signals = h
}

// SetWorkers bounds how many strategies process a candle concurrently.
func (e *Engine) SetWorkers(n int) {
	if n > 0 {
		e.workers = n
	}
}

// Context returns the shared strategy context
func (e *Engine) Context() *stratctx.Context {
	return e.ctx
}

func (e *Engine) get(id string) (*handle, error) {
	e.mu.RLock()
	h, ok := e.handles[id]
	e.mu.RUnlock()
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "strategy %q not found", id)
	}
	return h, nil
}

func (e *Engine) emit(t core.EventType, st StrategyStatus, data map[string]any) {
	e.events.Publish(core.Event{
		ID:         uuid.NewString(),
		Type:       t,
		StrategyID: st.ID,
		Name:       st.Name,
		Running:    st.Running,
		Data:       data,
		Timestamp:  e.now(),
	})
}

// Register attaches the shared context to instance, initializes it with cfg
// and stores it stopped. Nothing is stored when initialization fails.
func (e *Engine) Register(id string, instance Strategy, cfg Config, displayName string) error {
	if id == "" || instance == nil {
		return core.Errorf(core.ErrInvalidInput, "strategy id and instance are required")
	}

	e.mu.RLock()
	_, exists := e.handles[id]
	e.mu.RUnlock()
	if exists {
		return core.Errorf(core.ErrStrategyAlreadyExists, "strategy %q already exists", id)
	}

	instance.SetContext(e.ctx)
	if err := instance.Initialize(cfg); err != nil {
		return core.WrapError(core.ErrInitializationFailed, err)
	}

	if displayName == "" {
		displayName = id
	}
	now := e.now()
	h := &handle{
		id:        id,
		kind:      instance.Name(),
		name:      displayName,
		instance:  instance,
		createdAt: now,
		state:     StateInitialized,
		updatedAt: now,
		cfg:       cfg.Clone(),
		exit:      instance.ExitConfig(),
		status:    instance.Status(),
	}

	e.mu.Lock()
	if _, exists := e.handles[id]; exists {
		e.mu.Unlock()
		return core.Errorf(core.ErrStrategyAlreadyExists, "strategy %q already exists", id)
	}
	e.handles[id] = h
	e.mu.Unlock()

	e.logger.Info("strategy registered",
		zap.String("strategy_id", id),
		zap.String("type", h.kind),
	)
	return nil
}

// Unregister stops and removes a strategy. It returns once any candle the
// strategy was processing has finished.
func (e *Engine) Unregister(id string) error {
	e.mu.Lock()
	h, ok := e.handles[id]
	if ok {
		delete(e.handles, id)
	}
	e.mu.Unlock()
	if !ok {
		return core.Errorf(core.ErrStrategyNotFound, "strategy %q not found", id)
	}

	h.running.Store(false)
	h.mu.Lock()
	h.state = StateStopped
	h.updatedAt = e.now()
	h.mu.Unlock()

	// wait for an in-flight candle
	h.run.Lock()
	h.run.Unlock()

	e.logger.Info("strategy unregistered", zap.String("strategy_id", id))
	e.emit(core.EventDeleted, h.snapshot(), nil)
	return nil
}

// Start marks a strategy running. Starting from the error state re-arms it.
func (e *Engine) Start(id string) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.running.Load() {
		h.mu.Unlock()
		return core.Errorf(core.ErrAlreadyRunning, "strategy %q is already running", id)
	}
	h.running.Store(true)
	h.state = StateRunning
	h.lastErr = ""
	h.updatedAt = e.now()
	h.mu.Unlock()

	e.logger.Info("strategy started", zap.String("strategy_id", id))
	e.emit(core.EventStarted, h.snapshot(), nil)
	return nil
}

// Stop clears the running flag. A candle already being processed completes;
// no further candle is dispatched.
func (e *Engine) Stop(id string) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if !h.running.CompareAndSwap(true, false) {
		h.mu.Unlock()
		return core.Errorf(core.ErrNotRunning, "strategy %q is not running", id)
	}
	h.state = StateStopped
	h.updatedAt = e.now()
	h.mu.Unlock()

	e.logger.Info("strategy stopped", zap.String("strategy_id", id))
	e.emit(core.EventStopped, h.snapshot(), nil)
	return nil
}

// UpdateConfig re-initializes the instance with cfg once any in-flight candle
// has finished. The running flag is preserved. On failure the previous
// configuration is restored.
func (e *Engine) UpdateConfig(id string, cfg Config) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}
	if err := e.reconfigure(h, cfg); err != nil {
		return err
	}
	e.emit(core.EventConfigUpdated, h.snapshot(), map[string]any{"config": cfg.Clone()})
	return nil
}

// UpdateExitConfig replaces the exit rules of a strategy
func (e *Engine) UpdateExitConfig(id string, exit risk.ExitConfig) error {
	if err := exit.Validate(); err != nil {
		return err
	}
	h, err := e.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	cfg := h.cfg.Clone()
	h.mu.Unlock()
	cfg[KeyExit] = exit.ToMap()

	if err := e.reconfigure(h, cfg); err != nil {
		return err
	}
	e.emit(core.EventRiskUpdated, h.snapshot(), map[string]any{"exit": exit.ToMap()})
	return nil
}

func (e *Engine) reconfigure(h *handle, cfg Config) error {
	h.run.Lock()
	defer h.run.Unlock()

	h.mu.Lock()
	prev := h.cfg.Clone()
	h.mu.Unlock()

	if err := h.instance.Initialize(cfg); err != nil {
		if rerr := h.instance.Initialize(prev); rerr != nil {
			e.logger.Error("failed to restore previous strategy config",
				zap.String("strategy_id", h.id),
				zap.Error(rerr),
			)
			h.running.Store(false)
			h.mu.Lock()
			h.state = StateError
			h.lastErr = rerr.Error()
			h.mu.Unlock()
		}
		return core.WrapError(core.ErrInitializationFailed, err)
	}

	st := h.instance.Status()
	exit := h.instance.ExitConfig()
	h.mu.Lock()
	h.cfg = cfg.Clone()
	h.exit = exit
	h.status = st
	h.updatedAt = e.now()
	h.mu.Unlock()

	e.logger.Info("strategy reconfigured", zap.String("strategy_id", h.id))
	return nil
}

// GetStrategyStatus returns the status of one strategy
func (e *Engine) GetStrategyStatus(id string) (StrategyStatus, error) {
	h, err := e.get(id)
	if err != nil {
		return StrategyStatus{}, err
	}
	return h.snapshot(), nil
}

// GetStrategyConfig returns the configuration the strategy was last
// initialized with
func (e *Engine) GetStrategyConfig(id string) (Config, error) {
	h, err := e.get(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.Clone(), nil
}

// GetStrategyExitConfig returns the exit rules in effect for a strategy
func (e *Engine) GetStrategyExitConfig(id string) (risk.ExitConfig, error) {
	h, err := e.get(id)
	if err != nil {
		return risk.ExitConfig{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit, nil
}

// GetStrategyType returns the strategy kind of a registered id
func (e *Engine) GetStrategyType(id string) (string, error) {
	h, err := e.get(id)
	if err != nil {
		return "", err
	}
	return h.kind, nil
}

// GetAllStatuses returns a snapshot of every registered strategy
func (e *Engine) GetAllStatuses() map[string]StrategyStatus {
	handles := e.list()
	out := make(map[string]StrategyStatus, len(handles))
	for _, h := range handles {
		out[h.id] = h.snapshot()
	}
	return out
}

// IDs returns the registered ids, sorted
func (e *Engine) IDs() []string {
	handles := e.list()
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.id
	}
	return ids
}

// GetEngineStats returns the process-wide counters
func (e *Engine) GetEngineStats() EngineStats {
	handles := e.list()
	stats := EngineStats{
		TotalStrategies:  len(handles),
		SignalsGenerated: e.signalsGenerated.Load(),
		OrdersFilled:     e.ordersFilled.Load(),
		MarketDataEvents: e.marketEvents.Load(),
	}
	for _, h := range handles {
		if h.running.Load() {
			stats.RunningStrategies++
		}
	}
	return stats
}

// list returns handles sorted by id
func (e *Engine) list() []*handle {
	e.mu.RLock()
	out := make([]*handle, 0, len(e.handles))
	for _, h := range e.handles {
		out = append(out, h)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// OnCandle dispatches a live candle to every running strategy. Strategies
// run concurrently, each under its own lock. A strategy that returns an
// error moves to the error state and stops receiving candles. Signals are
// returned ordered by strategy id and forwarded to the signal handler.
func (e *Engine) OnCandle(ctx context.Context, candle core.OHLCV) ([]core.Signal, error) {
	e.marketEvents.Add(1)

	handles := e.list()
	results := make([][]core.Signal, len(handles))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, h := range handles {
		if !h.running.Load() {
			continue
		}
		g.Go(func() error {
			results[i] = e.dispatch(ctx, h, candle)
			if len(results[i]) > 0 && e.signals != nil {
				e.signals.HandleSignals(ctx, h.id, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var all []core.Signal
	for _, sigs := range results {
		all = append(all, sigs...)
	}
	return all, ctx.Err()
}

func (e *Engine) dispatch(ctx context.Context, h *handle, candle core.OHLCV) []core.Signal {
	h.run.Lock()
	defer h.run.Unlock()

	if !h.running.Load() || ctx.Err() != nil {
		return nil
	}

	signals, err := h.instance.OnCandle(candle)
	st := h.instance.Status()
	if err != nil {
		h.running.Store(false)
		h.mu.Lock()
		h.state = StateError
		h.lastErr = err.Error()
		h.status = st
		h.updatedAt = e.now()
		h.mu.Unlock()

		e.logger.Warn("strategy failed on candle",
			zap.String("strategy_id", h.id),
			zap.String("symbol", candle.Symbol),
			zap.Error(err),
		)
		e.emit(core.EventStopped, h.snapshot(), map[string]any{"error": err.Error()})
		return nil
	}

	h.mu.Lock()
	h.status = st
	h.mu.Unlock()

	if len(signals) > 0 {
		e.signalsGenerated.Add(uint64(len(signals)))
	}
	return signals
}

// CheckExit runs the strategy's exit rules against an open live position
func (e *Engine) CheckExit(id string, pos *core.Position, candle core.OHLCV) (risk.Decision, error) {
	h, err := e.get(id)
	if err != nil {
		return risk.Decision{}, err
	}
	h.mu.Lock()
	exit := h.exit
	h.mu.Unlock()
	return e.evaluator.Evaluate(pos, candle, exit), nil
}

// RecordOrderFilled counts a live fill and forwards it to the strategy when
// it tracks fills.
func (e *Engine) RecordOrderFilled(id string, fill Fill) error {
	h, err := e.get(id)
	if err != nil {
		return err
	}
	e.ordersFilled.Add(1)
	if l, ok := h.instance.(FillListener); ok {
		h.run.Lock()
		l.OnOrderFilled(fill)
		h.run.Unlock()
	}
	return nil
}
