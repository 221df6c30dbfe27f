// Package app wires the engine, notifiers, storage and backtest runner
// from configuration and drives the live candle loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/collector"
	"github.com/newthinker/tradecore/internal/collector/csvfile"
	"github.com/newthinker/tradecore/internal/config"
	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/job"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/notifier/telegram"
	"github.com/newthinker/tradecore/internal/notifier/webhook"
	"github.com/newthinker/tradecore/internal/notifier/websocket"
	"github.com/newthinker/tradecore/internal/router"
	"github.com/newthinker/tradecore/internal/storage/archive"
	"github.com/newthinker/tradecore/internal/storage/definition"
	"github.com/newthinker/tradecore/internal/storage/signal"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/catalog"
)

const maintenanceInterval = time.Minute

// App is the main application orchestrator
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	engine      *strategy.Engine
	catalog     *strategy.Registry
	manager     *Manager
	notifiers   *notifier.Registry
	hub         *websocket.Hub
	router      *router.Router
	signals     signal.Store
	definitions definition.Store
	collectors  *collector.Registry
	jobs        *job.Store
	backtests   *backtest.Runner
	reports     *archive.ReportArchive
	metrics     *metrics.Registry
	paper       *broker.Paper
	executor    *broker.Executor
	alerts      *alert.Evaluator

	closers []func() error

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	fed     int
}

// New builds every component named in cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		catalog:    catalog.Registry(),
		notifiers:  notifier.NewRegistry(logger),
		signals:    signal.NewMemoryStore(cfg.Storage.Signals.MaxSize),
		collectors: collector.NewRegistry(),
		jobs:       job.NewStore(cfg.Jobs.MaxJobs, cfg.Jobs.TTL),
		metrics:    metrics.NewRegistry(),
	}

	var sc *stratctx.Context
	if cfg.Engine.ContextFile != "" {
		loaded, err := stratctx.LoadFile(cfg.Engine.ContextFile)
		if err != nil {
			return nil, fmt.Errorf("loading strategy context: %w", err)
		}
		sc = loaded
	}
	a.engine = strategy.NewEngine(sc, logger)
	if cfg.Engine.Workers > 0 {
		a.engine.SetWorkers(cfg.Engine.Workers)
	}

	if err := a.setupNotifiers(); err != nil {
		a.Close()
		return nil, err
	}
	a.router = router.New(cfg.Router, a.notifiers, logger)
	a.router.SetSignalStore(a.signals)
	a.router.SetRecorder(a.metrics)
	a.engine.SetEventSink(a.notifiers)
	a.engine.SetSignalHandler(a.router)
	if cfg.Execution.Enabled {
		a.setupExecution()
	}
	a.metrics.WatchEngine(a.engine)

	if len(cfg.Alerts.Rules) > 0 {
		ev, err := alert.NewEvaluator(cfg.Alerts.Rules, a.notifiers, cfg.Alerts.Cooldown)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.alerts = ev
	}

	if err := a.setupDefinitions(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.manager = NewManager(a.engine, a.catalog, a.definitions, a.notifiers, logger)

	a.collectors.Register(csvfile.NewSource(cfg.Data.Dir))

	if err := a.setupBacktests(); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("app initialized",
		zap.Int("notifiers", len(a.notifiers.GetAll())),
		zap.Bool("execution", a.executor != nil),
		zap.String("definitions", cfg.Storage.Definitions.Driver),
		zap.String("archive", cfg.Storage.Archive.Type),
	)
	return a, nil
}

// setupExecution opens the paper account and routes live signals to it.
// Fills flow back to the engine so strategies see their own exposure.
func (a *App) setupExecution() {
	a.paper = broker.NewPaper(a.cfg.Execution)
	a.executor = broker.NewExecutor(a.cfg.Execution, a.paper, a.engine, a.logger)
	a.executor.SetExitChecker(a.engine)
	a.paper.SetFillHandler(a.executor.OnFill)
	a.router.SetExecutor(a.executor)
}

func (a *App) setupNotifiers() error {
	for _, nc := range a.cfg.NotifierConfigs() {
		var n notifier.Notifier
		switch nc.Type {
		case "webhook":
			n = webhook.New("", nil)
		case "telegram":
			n = telegram.New("", "")
		case "websocket":
			a.hub = websocket.New(a.logger)
			a.closers = append(a.closers, a.hub.Close)
			n = a.hub
		default:
			return core.Errorf(core.ErrConfigInvalid, "unknown notifier %q", nc.Type)
		}
		if err := n.Init(nc); err != nil {
			return fmt.Errorf("initializing notifier %s: %w", nc.Type, err)
		}
		if err := a.notifiers.Register(n); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) setupDefinitions(ctx context.Context) error {
	switch a.cfg.Storage.Definitions.Driver {
	case "", "memory":
		a.definitions = definition.NewMemoryStore()
	case "duckdb":
		store, err := definition.OpenDuckDB(ctx, a.cfg.Storage.Definitions.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.definitions = store
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown definitions driver %q", a.cfg.Storage.Definitions.Driver)
	}
	return nil
}

func (a *App) setupBacktests() error {
	engine, err := backtest.NewEngine(a.cfg.Backtest, a.logger)
	if err != nil {
		return err
	}

	opts := []backtest.RunnerOption{
		backtest.WithRecorder(a.metrics),
		backtest.WithLogger(a.logger),
		backtest.WithConcurrency(a.cfg.Jobs.Concurrency),
	}
	var store archive.Storage
	switch a.cfg.Storage.Archive.Type {
	case "localfs":
		store, err = archive.NewLocalFS(a.cfg.Storage.Archive.Path)
	case "s3":
		store, err = archive.NewS3(a.cfg.Storage.Archive.S3)
	}
	if err != nil {
		return err
	}
	if store != nil {
		a.reports = archive.NewReportArchive(store)
		opts = append(opts, backtest.WithArchive(a.reports))
	}

	a.backtests = backtest.NewRunner(engine, a.jobs, opts...)
	return nil
}

// Bootstrap restores persisted strategies, then creates the enabled
// strategies declared in config that are not registered yet.
func (a *App) Bootstrap(ctx context.Context) error {
	if _, err := a.manager.Restore(ctx); err != nil {
		return err
	}
	for _, sc := range a.cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		if sc.ID != "" {
			if _, err := a.engine.GetStrategyStatus(sc.ID); err == nil {
				continue
			}
		}
		st, err := a.manager.Create(ctx, sc.ID, sc.Type, sc.Name, sc.Params)
		if err != nil {
			return fmt.Errorf("creating strategy %s: %w", sc.Type, err)
		}
		if sc.Autostart {
			if err := a.manager.Start(ctx, st.ID); err != nil {
				return fmt.Errorf("starting strategy %s: %w", st.ID, err)
			}
		}
	}
	return nil
}

// Start runs the live loop until ctx is cancelled or Stop is called. When
// a feed file is configured its candles are replayed into the engine one
// timestamp per interval.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return core.Errorf(core.ErrAlreadyRunning, "app already running")
	}
	a.running = true
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	var batches [][]core.OHLCV
	if a.cfg.Feed.Path != "" {
		candles, err := csvfile.Load(a.cfg.Feed.Path)
		if err != nil {
			cancel()
			return err
		}
		batches = groupByTime(candles)
	}

	a.logger.Info("tradecore starting",
		zap.Int("strategies", len(a.engine.IDs())),
		zap.Int("feed_batches", len(batches)),
		zap.Duration("interval", a.cfg.Feed.Interval),
	)

	if a.cfg.Router.Cooldown > 0 {
		a.router.StartCleanupRoutine(ctx, a.cfg.Router.Cooldown)
	}
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	var feed <-chan time.Time
	if len(batches) > 0 {
		interval := a.cfg.Feed.Interval
		if interval <= 0 {
			interval = time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		feed = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("tradecore shutting down")
			return ctx.Err()
		case <-maintenance.C:
			a.maintain()
		case <-feed:
			a.mu.Lock()
			i := a.fed
			a.fed++
			a.mu.Unlock()
			if i >= len(batches) {
				a.logger.Info("feed exhausted", zap.Int("batches", len(batches)))
				feed = nil
				continue
			}
			a.feedBatch(ctx, batches[i])
		}
	}
}

// Stop stops the live loop
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Feed pushes candles into the engine in order
func (a *App) Feed(ctx context.Context, candles []core.OHLCV) int {
	total := 0
	for _, batch := range groupByTime(candles) {
		total += a.feedBatch(ctx, batch)
	}
	return total
}

func (a *App) feedBatch(ctx context.Context, batch []core.OHLCV) int {
	total := 0
	for _, c := range batch {
		if ctx.Err() != nil {
			return total
		}
		if a.paper != nil {
			a.paper.UpdatePrice(c)
			a.executor.OnCandle(ctx, c)
		}
		signals, err := a.engine.OnCandle(ctx, c)
		if err != nil {
			a.logger.Error("candle dispatch failed",
				zap.String("symbol", c.Symbol),
				zap.Error(err),
			)
			continue
		}
		total += len(signals)
	}
	return total
}

func groupByTime(candles []core.OHLCV) [][]core.OHLCV {
	sorted := slices.Clone(candles)
	slices.SortStableFunc(sorted, func(x, y core.OHLCV) int { return x.Time.Compare(y.Time) })

	var out [][]core.OHLCV
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Time.Equal(sorted[i].Time) {
			j++
		}
		out = append(out, sorted[i:j])
		i = j
	}
	return out
}

func (a *App) maintain() {
	if n := a.jobs.Prune(); n > 0 {
		a.logger.Debug("pruned finished jobs", zap.Int("count", n))
	}
	active := 0
	for _, j := range a.jobs.List() {
		if !j.Status.Finished() {
			active++
		}
	}
	a.metrics.SetJobsActive("backtest", active)
	a.CheckAlerts()
}

// CheckAlerts evaluates the configured alert rules against AlertMetrics and
// returns the alerts that fired.
func (a *App) CheckAlerts() []core.Event {
	if a.alerts == nil {
		return nil
	}
	fired := a.alerts.Evaluate(a.AlertMetrics())
	for _, ev := range fired {
		a.logger.Warn("alert fired",
			zap.String("rule", ev.Name),
			zap.Any("value", ev.Data["value"]),
		)
	}
	return fired
}

// AlertMetrics is the flat snapshot alert rules are written against.
func (a *App) AlertMetrics() map[string]float64 {
	st := a.GetStats()
	m := map[string]float64{
		"strategies_total":      float64(st.Engine.TotalStrategies),
		"strategies_running":    float64(st.Engine.RunningStrategies),
		"signals_generated":     float64(st.Engine.SignalsGenerated),
		"orders_filled":         float64(st.Engine.OrdersFilled),
		"market_data_events":    float64(st.Engine.MarketDataEvents),
		"router_filtered":       float64(st.Router.Filtered),
		"router_notify_errors":  float64(st.Router.NotifyErrors),
		"router_execute_errors": float64(st.Router.ExecuteErrors),
		"jobs":                  float64(st.Jobs),
		"ws_clients":            float64(st.Clients),
	}
	if st.Execution == nil {
		return m
	}
	m["execution_failed"] = float64(st.Execution.Failed)
	m["execution_risk_rejected"] = float64(st.Execution.RiskRejected)
	m["execution_forced_exits"] = float64(st.Execution.ForcedExits)
	m["execution_pending"] = float64(st.Execution.Pending)
	m["execution_positions"] = float64(st.Execution.Positions)

	if b, err := a.paper.GetBalance(context.Background()); err == nil && b.TotalValue.IsPositive() {
		m["account_total_value"] = b.TotalValue.InexactFloat64()
		m["account_daily_pl_pct"] = b.DailyPL.Div(b.TotalValue).InexactFloat64() * 100
	}
	return m
}

// BacktestRequest describes a backtest of a catalog strategy over history
// fetched from a collector.
type BacktestRequest struct {
	Type       string          `json:"type"`
	Params     strategy.Config `json:"params"`
	Symbols    []string        `json:"symbols"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Collector  string          `json:"collector"`
	UseContext bool            `json:"use_context"`
	Label      string          `json:"label"`
	Timeout    time.Duration   `json:"timeout"`
}

// SubmitBacktest prepares a fresh strategy instance, loads its candles and
// queues the run. It returns the job id.
func (a *App) SubmitBacktest(ctx context.Context, req BacktestRequest) (string, error) {
	meta, ok := a.catalog.Find(req.Type)
	if !ok {
		return "", core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", req.Type)
	}
	defaults, err := a.catalog.DefaultConfig(meta.ID)
	if err != nil {
		return "", err
	}
	params := defaults.Merge(req.Params)

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = params.Symbols()
	}
	if len(symbols) == 0 {
		return "", core.Errorf(core.ErrInvalidInput, "backtest needs at least one symbol")
	}
	if len(req.Symbols) > 0 {
		params[strategy.KeySymbols] = symbols
	}

	candles, err := a.History(ctx, req.Collector, symbols, req.Start, req.End)
	if err != nil {
		return "", err
	}

	var sc *stratctx.Context
	if req.UseContext {
		sc = stratctx.New()
		sc.Apply(a.engine.Context().Snapshot())
	}
	inst := meta.Factory()
	if _, err := backtest.Prepare(inst, sc, params); err != nil {
		return "", err
	}

	label := req.Label
	if label == "" {
		label = meta.ID
	}
	return a.backtests.Submit(backtest.Request{
		Label:    label,
		Strategy: inst,
		Candles:  candles,
		Context:  sc,
		Timeout:  req.Timeout,
	})
}

// History fetches candles for symbols from the named collector ("csv" when
// empty), merged in time order.
func (a *App) History(ctx context.Context, source string, symbols []string, start, end time.Time) ([]core.OHLCV, error) {
	if source == "" {
		source = "csv"
	}
	c, err := a.collectors.Get(source)
	if err != nil {
		return nil, err
	}
	var candles []core.OHLCV
	for _, sym := range symbols {
		bars, err := c.FetchHistory(ctx, sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", sym, err)
		}
		candles = append(candles, bars...)
	}
	if len(candles) == 0 {
		return nil, core.Errorf(core.ErrEmptyInput, "no candles for %v", symbols)
	}
	slices.SortStableFunc(candles, func(x, y core.OHLCV) int { return x.Time.Compare(y.Time) })
	return candles, nil
}

// Stats is a point-in-time summary of the application
type Stats struct {
	Running   bool                 `json:"running"`
	Engine    strategy.EngineStats `json:"engine"`
	Router    router.Stats         `json:"router"`
	Notifiers int                  `json:"notifiers"`
	Jobs      int                  `json:"jobs"`
	Clients   int                  `json:"ws_clients"`
	Execution *broker.Stats        `json:"execution,omitempty"`
}

// GetStats returns application statistics
func (a *App) GetStats() Stats {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()

	st := Stats{
		Running:   running,
		Engine:    a.engine.GetEngineStats(),
		Router:    a.router.GetStats(),
		Notifiers: len(a.notifiers.GetAll()),
		Jobs:      len(a.jobs.List()),
	}
	if a.hub != nil {
		st.Clients = a.hub.Clients()
	}
	if a.executor != nil {
		es := a.executor.GetStats()
		st.Execution = &es
	}
	return st
}

// Close cancels backtests, drains pending events and releases storage
func (a *App) Close() error {
	a.Stop()
	if a.backtests != nil {
		a.backtests.Close()
	}
	a.notifiers.Flush()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) Engine() *strategy.Engine        { return a.engine }
func (a *App) Catalog() *strategy.Registry     { return a.catalog }
func (a *App) Manager() *Manager               { return a.manager }
func (a *App) Signals() signal.Store           { return a.signals }
func (a *App) Backtests() *backtest.Runner     { return a.backtests }
func (a *App) Reports() *archive.ReportArchive { return a.reports }
func (a *App) Metrics() *metrics.Registry      { return a.metrics }
func (a *App) Hub() *websocket.Hub             { return a.hub }
func (a *App) Collectors() *collector.Registry { return a.collectors }
func (a *App) Definitions() definition.Store   { return a.definitions }
func (a *App) Router() *router.Router          { return a.router }
func (a *App) Notifiers() *notifier.Registry   { return a.notifiers }
func (a *App) Jobs() *job.Store                { return a.jobs }

// Executor returns the live order executor, nil when execution is disabled.
func (a *App) Executor() *broker.Executor { return a.executor }
