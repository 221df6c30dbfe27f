package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Publish(e core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []core.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func testCandle(symbol string) core.OHLCV {
	p := decimal.NewFromInt(100)
	return core.OHLCV{Symbol: symbol, Open: p, High: p, Low: p, Close: p, Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
}

func TestEngine_RegisterStartStop(t *testing.T) {
	engine := NewEngine(nil)
	events := &eventLog{}
	engine.SetEventSink(events)

	m := &mockStrategy{}
	require.NoError(t, engine.Register("mock_1", m, Config{"threshold": 2}, "Mock One"))

	st, err := engine.GetStrategyStatus("mock_1")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, StateInitialized, st.State)
	assert.Equal(t, "Mock One", st.Name)
	assert.True(t, st.Strategy.Initialized)
	assert.True(t, st.Strategy.ContextBound, "context must be attached before Initialize")
	assert.Same(t, engine.Context(), m.Context())

	require.NoError(t, engine.Start("mock_1"))
	st, _ = engine.GetStrategyStatus("mock_1")
	assert.True(t, st.Running)
	assert.Equal(t, StateRunning, st.State)

	err = engine.Start("mock_1")
	assert.True(t, errors.Is(err, core.ErrAlreadyRunning))

	require.NoError(t, engine.Stop("mock_1"))
	err = engine.Stop("mock_1")
	assert.True(t, errors.Is(err, core.ErrNotRunning))

	assert.Equal(t, []core.EventType{core.EventStarted, core.EventStopped}, events.types())

	typ, err := engine.GetStrategyType("mock_1")
	require.NoError(t, err)
	assert.Equal(t, "mock", typ)

	cfg, err := engine.GetStrategyConfig("mock_1")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg["threshold"])
}

func TestEngine_RegisterDuplicate(t *testing.T) {
	engine := NewEngine(nil)
	require.NoError(t, engine.Register("dup", &mockStrategy{}, Config{"threshold": 1}, ""))
	require.NoError(t, engine.Start("dup"))

	err := engine.Register("dup", &mockStrategy{}, Config{"threshold": 9}, "other")
	assert.True(t, errors.Is(err, core.ErrStrategyAlreadyExists))

	st, _ := engine.GetStrategyStatus("dup")
	assert.True(t, st.Running, "existing instance must be untouched")
	assert.Equal(t, "dup", st.Name)
	cfg, _ := engine.GetStrategyConfig("dup")
	assert.Equal(t, 1, cfg["threshold"])
}

func TestEngine_RegisterInitFailure(t *testing.T) {
	engine := NewEngine(nil)

	err := engine.Register("bad", &mockStrategy{}, Config{"fail": true}, "")
	assert.True(t, errors.Is(err, core.ErrInitializationFailed))

	err = engine.Register("bad2", &mockStrategy{}, Config{"threshold": -1}, "")
	assert.True(t, errors.Is(err, core.ErrInitializationFailed))

	assert.Empty(t, engine.IDs())
	_, err = engine.GetStrategyStatus("bad")
	assert.True(t, errors.Is(err, core.ErrStrategyNotFound))
}

func TestEngine_NotFound(t *testing.T) {
	engine := NewEngine(nil)
	ops := map[string]func() error{
		"start":      func() error { return engine.Start("x") },
		"stop":       func() error { return engine.Stop("x") },
		"unregister": func() error { return engine.Unregister("x") },
		"update":     func() error { return engine.UpdateConfig("x", Config{}) },
		"status":     func() error { _, err := engine.GetStrategyStatus("x"); return err },
		"config":     func() error { _, err := engine.GetStrategyConfig("x"); return err },
		"type":       func() error { _, err := engine.GetStrategyType("x"); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(op(), core.ErrStrategyNotFound))
		})
	}
}

func TestEngine_Unregister(t *testing.T) {
	engine := NewEngine(nil)
	events := &eventLog{}
	engine.SetEventSink(events)

	require.NoError(t, engine.Register("a", &mockStrategy{}, nil, ""))
	require.NoError(t, engine.Start("a"))
	require.NoError(t, engine.Unregister("a"))

	assert.Empty(t, engine.IDs())
	assert.Equal(t, []core.EventType{core.EventStarted, core.EventDeleted}, events.types())
	assert.Equal(t, 0, engine.GetEngineStats().TotalStrategies)
}

func TestEngine_UpdateConfig(t *testing.T) {
	engine := NewEngine(nil)
	events := &eventLog{}
	engine.SetEventSink(events)

	m := &mockStrategy{}
	require.NoError(t, engine.Register("a", m, Config{"threshold": 1}, ""))
	require.NoError(t, engine.Start("a"))

	require.NoError(t, engine.UpdateConfig("a", Config{"threshold": 5}))
	st, _ := engine.GetStrategyStatus("a")
	assert.True(t, st.Running, "running flag survives reconfiguration")
	assert.Equal(t, 5.0, st.Strategy.Details["threshold"])

	err := engine.UpdateConfig("a", Config{"fail": true})
	assert.True(t, errors.Is(err, core.ErrInitializationFailed))
	cfg, _ := engine.GetStrategyConfig("a")
	assert.Equal(t, 5, cfg["threshold"], "failed update keeps the previous config")
	assert.Equal(t, 5.0, m.params.Threshold)

	assert.Contains(t, events.types(), core.EventConfigUpdated)
}

func TestEngine_UpdateExitConfig(t *testing.T) {
	engine := NewEngine(nil)
	events := &eventLog{}
	engine.SetEventSink(events)
	require.NoError(t, engine.Register("a", &mockStrategy{}, nil, ""))

	exit, err := engine.GetStrategyExitConfig("a")
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultExitConfig(), exit)

	updated := risk.PresetFor(risk.ProfileMomentum)
	require.NoError(t, engine.UpdateExitConfig("a", updated))
	exit, _ = engine.GetStrategyExitConfig("a")
	assert.Equal(t, updated, exit)
	assert.Equal(t, []core.EventType{core.EventRiskUpdated}, events.types())

	bad := updated
	bad.StopLossPct = -3
	assert.True(t, errors.Is(engine.UpdateExitConfig("a", bad), core.ErrConfigInvalid))
}

func TestEngine_OnCandleDispatch(t *testing.T) {
	engine := NewEngine(nil)
	sig := core.Signal{Symbol: "AAPL", Kind: core.SignalEntry, Action: core.ActionBuy}

	var (
		mu      sync.Mutex
		handled = map[string]int{}
	)
	engine.SetSignalHandler(SignalHandlerFunc(func(_ context.Context, id string, s []core.Signal) {
		mu.Lock()
		handled[id] += len(s)
		mu.Unlock()
	}))

	running := &mockStrategy{signals: []core.Signal{sig}}
	idle := &mockStrategy{signals: []core.Signal{sig}}
	require.NoError(t, engine.Register("b_running", running, nil, ""))
	require.NoError(t, engine.Register("a_idle", idle, nil, ""))
	require.NoError(t, engine.Start("b_running"))

	signals, err := engine.OnCandle(context.Background(), testCandle("AAPL"))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "mock", signals[0].Strategy)
	assert.Equal(t, int64(0), idle.calls.Load(), "stopped strategies receive no candles")
	assert.Equal(t, 1, handled["b_running"])

	require.NoError(t, engine.RecordOrderFilled("b_running", Fill{Symbol: "AAPL", Action: core.ActionBuy}))
	assert.Len(t, running.fills, 1)

	stats := engine.GetEngineStats()
	assert.Equal(t, EngineStats{
		TotalStrategies:   2,
		RunningStrategies: 1,
		SignalsGenerated:  1,
		OrdersFilled:      1,
		MarketDataEvents:  1,
	}, stats)
}

func TestEngine_ErrorState(t *testing.T) {
	engine := NewEngine(nil)
	events := &eventLog{}
	engine.SetEventSink(events)

	m := &mockStrategy{err: errors.New("boom")}
	require.NoError(t, engine.Register("a", m, nil, ""))
	require.NoError(t, engine.Start("a"))

	_, err := engine.OnCandle(context.Background(), testCandle("AAPL"))
	require.NoError(t, err)

	st, _ := engine.GetStrategyStatus("a")
	assert.Equal(t, StateError, st.State)
	assert.False(t, st.Running)
	assert.Equal(t, "boom", st.LastError)

	_, _ = engine.OnCandle(context.Background(), testCandle("AAPL"))
	assert.Equal(t, int64(1), m.calls.Load(), "failed strategy is not dispatched again")

	m.err = nil
	require.NoError(t, engine.Start("a"))
	st, _ = engine.GetStrategyStatus("a")
	assert.Equal(t, StateRunning, st.State)
	assert.Empty(t, st.LastError)
}

func TestEngine_StopTakesEffectBeforeNextCandle(t *testing.T) {
	engine := NewEngine(nil)
	slow := &mockStrategy{block: make(chan struct{}), entered: make(chan struct{})}
	other := &mockStrategy{}
	require.NoError(t, engine.Register("slow", slow, nil, ""))
	require.NoError(t, engine.Register("other", other, nil, ""))
	require.NoError(t, engine.Start("slow"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.OnCandle(context.Background(), testCandle("AAPL"))
	}()
	<-slow.entered

	// Lifecycle and reads on other strategies, and stop on the busy one,
	// complete while a candle is in flight.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		assert.NoError(t, engine.Start("other"))
		assert.NoError(t, engine.Stop("other"))
		assert.NoError(t, engine.Stop("slow"))
		_ = engine.GetAllStatuses()
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("operations blocked by an in-flight candle")
	}

	close(slow.block)
	<-done

	slow.block = nil
	_, _ = engine.OnCandle(context.Background(), testCandle("AAPL"))
	assert.Equal(t, int64(1), slow.calls.Load(), "stopped strategy must not get the next candle")
}

func TestEngine_ConcurrentLifecycle(t *testing.T) {
	engine := NewEngine(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%02d", i)
			if err := engine.Register(id, &mockStrategy{}, nil, ""); err != nil {
				t.Errorf("register %s: %v", id, err)
				return
			}
			_ = engine.Start(id)
			_, _ = engine.GetStrategyStatus(id)
			_ = engine.GetAllStatuses()
			if i%2 == 0 {
				_ = engine.Stop(id)
			}
		}(i)
	}
	wg.Wait()

	stats := engine.GetEngineStats()
	assert.Equal(t, 20, stats.TotalStrategies)
	assert.Equal(t, 10, stats.RunningStrategies)
	assert.Len(t, engine.GetAllStatuses(), 20)
}

func TestEngine_CheckExit(t *testing.T) {
	engine := NewEngine(nil)
	require.NoError(t, engine.Register("a", &mockStrategy{}, nil, ""))

	pos := &core.Position{Symbol: "AAPL", Side: core.SideLong, Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	c := testCandle("AAPL")
	c.Low = decimal.NewFromInt(97)

	dec, err := engine.CheckExit("a", pos, c)
	require.NoError(t, err)
	assert.Equal(t, risk.ExitAtStop, dec.Action)
}
