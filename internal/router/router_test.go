package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/storage/signal"
)

type mockNotifier struct {
	name       string
	shouldFail bool

	mu       sync.Mutex
	received []core.Signal
	batches  int
}

func (m *mockNotifier) Name() string                   { return m.name }
func (m *mockNotifier) Init(cfg notifier.Config) error { return nil }
func (m *mockNotifier) Send(ctx context.Context, s core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, s)
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}
func (m *mockNotifier) SendBatch(ctx context.Context, signals []core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.received = append(m.received, signals...)
	return nil
}
func (m *mockNotifier) SendEvent(ctx context.Context, e core.Event) error { return nil }

type countingRecorder struct {
	routed, filtered int
}

func (c *countingRecorder) ObserveSignal(strategyID string, kind core.SignalKind, routed bool) {
	if routed {
		c.routed++
	} else {
		c.filtered++
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, cfg Config) (*Router, *mockNotifier, *clock) {
	t.Helper()
	registry := notifier.NewRegistry()
	mock := &mockNotifier{name: "mock"}
	if err := registry.Register(mock); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := &clock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	r := New(cfg, registry, nil)
	r.now = c.now
	return r, mock, c
}

func buy(symbol string, strength float64) core.Signal {
	return core.Signal{Symbol: symbol, Kind: core.SignalEntry, Action: core.ActionBuy, Strength: strength}
}

func TestRouter_Filters(t *testing.T) {
	cfg := Config{
		MinStrength:    0.6,
		Cooldown:       time.Minute,
		EnabledKinds:   []core.SignalKind{core.SignalEntry, core.SignalExit},
		EnabledActions: []core.Action{core.ActionBuy},
	}
	tests := []struct {
		name   string
		signal core.Signal
		want   int
	}{
		{"passes", buy("AAPL", 0.8), 1},
		{"weak", buy("AAPL", 0.5), 0},
		{"disabled action", core.Signal{Symbol: "AAPL", Kind: core.SignalEntry, Action: core.ActionSell, Strength: 0.9}, 0},
		{"disabled kind", core.Signal{Symbol: "AAPL", Kind: core.SignalAdjust, Action: core.ActionBuy, Strength: 0.9}, 0},
		{"weak exit still routed", core.Signal{Symbol: "AAPL", Kind: core.SignalExit, Action: core.ActionBuy}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock, _ := setup(t, cfg)
			r.HandleSignals(context.Background(), "sma_1", []core.Signal{tt.signal})
			r.registry.Flush()
			if len(mock.received) != tt.want {
				t.Errorf("expected %d routed, got %d", tt.want, len(mock.received))
			}
		})
	}
}

func TestRouter_Cooldown(t *testing.T) {
	r, mock, c := setup(t, Config{Cooldown: time.Minute})
	ctx := context.Background()

	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	if len(mock.received) != 1 {
		t.Fatalf("second signal should be in cooldown, got %d", len(mock.received))
	}

	// Other symbols, other strategies and exits are not affected.
	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("MSFT", 1)})
	r.registry.Flush()
	r.HandleSignals(ctx, "rsi_2", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	r.HandleSignals(ctx, "sma_1", []core.Signal{{Symbol: "AAPL", Kind: core.SignalExit, Action: core.ActionSell}})
	r.registry.Flush()
	if len(mock.received) != 4 {
		t.Fatalf("expected 4 routed, got %d", len(mock.received))
	}

	c.advance(time.Minute)
	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	if len(mock.received) != 5 {
		t.Errorf("cooldown should have expired, got %d", len(mock.received))
	}
}

func TestRouter_ClearCooldowns(t *testing.T) {
	r, mock, _ := setup(t, Config{Cooldown: time.Hour})
	ctx := context.Background()

	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	r.HandleSignals(ctx, "sma_10", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	r.ClearCooldowns("sma_1")

	if got := r.GetStats().CooldownsActive; got != 1 {
		t.Fatalf("expected only sma_10 cooldown left, got %d", got)
	}
	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	if len(mock.received) != 3 {
		t.Errorf("expected 3 routed, got %d", len(mock.received))
	}

	r.ClearAllCooldowns()
	if got := r.GetStats().CooldownsActive; got != 0 {
		t.Errorf("expected no cooldowns, got %d", got)
	}
}

func TestRouter_BatchesSeveralSignals(t *testing.T) {
	r, mock, _ := setup(t, Config{})
	r.HandleSignals(context.Background(), "rotation_1", []core.Signal{
		{Symbol: "A", Kind: core.SignalExit, Action: core.ActionSell},
		buy("B", 1),
	})
	r.registry.Flush()
	if mock.batches != 1 || len(mock.received) != 2 {
		t.Errorf("expected one batch of 2, got %d batches, %d signals", mock.batches, len(mock.received))
	}
}

func TestRouter_JournalsRoutedSignals(t *testing.T) {
	r, mock, c := setup(t, Config{MinStrength: 0.5})
	store := signal.NewMemoryStore(10)
	r.SetSignalStore(store)
	ctx := context.Background()

	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 0.9), buy("MSFT", 0.1)})
	r.registry.Flush()

	entries, _ := store.List(ctx, signal.ListFilter{StrategyID: "sma_1"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 journaled signal, got %d", len(entries))
	}
	if !entries[0].RoutedAt.Equal(c.t) {
		t.Errorf("unexpected routed time %v", entries[0].RoutedAt)
	}
	if mock.received[0].ID != entries[0].ID {
		t.Errorf("notifier should receive the journal id, got %q", mock.received[0].ID)
	}
}

func TestRouter_NotifierFailureCounted(t *testing.T) {
	registry := notifier.NewRegistry()
	registry.Register(&mockNotifier{name: "bad", shouldFail: true})
	r := New(Config{}, registry, nil)
	rec := &countingRecorder{}
	r.SetRecorder(rec)

	r.HandleSignals(context.Background(), "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()

	stats := r.GetStats()
	if stats.NotifyErrors != 1 || stats.Routed != 1 || stats.Received != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if rec.routed != 1 || rec.filtered != 0 {
		t.Errorf("unexpected recorder counts %+v", rec)
	}
}

func TestRouter_NilRegistry(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	r.HandleSignals(context.Background(), "sma_1", []core.Signal{buy("AAPL", 1)})
	if r.GetStats().Routed != 1 {
		t.Error("signal should be routed without notifiers")
	}
}

func TestRouter_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MinStrength != 0.5 {
		t.Errorf("expected MinStrength 0.5, got %f", cfg.MinStrength)
	}
	if cfg.Cooldown != time.Hour {
		t.Errorf("expected Cooldown 1h, got %v", cfg.Cooldown)
	}
	if len(cfg.EnabledKinds) != 3 || len(cfg.EnabledActions) != 2 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestRouter_CleanupExpiredCooldowns(t *testing.T) {
	r, _, c := setup(t, Config{Cooldown: time.Minute})
	ctx := context.Background()

	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()
	c.advance(30 * time.Second)
	r.HandleSignals(ctx, "sma_1", []core.Signal{buy("MSFT", 1)})
	r.registry.Flush()
	c.advance(30 * time.Second)

	if removed := r.CleanupExpiredCooldowns(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if got := r.GetStats().CooldownsActive; got != 1 {
		t.Errorf("expected 1 cooldown left, got %d", got)
	}
}

type recordingExecutor struct {
	fail     bool
	executed []core.Signal
}

func (e *recordingExecutor) ExecuteSignal(ctx context.Context, strategyID string, sig core.Signal) error {
	e.executed = append(e.executed, sig)
	if e.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestRouter_ExecutesRoutedSignals(t *testing.T) {
	r, mock, _ := setup(t, Config{MinStrength: 0.6})
	ex := &recordingExecutor{}
	r.SetExecutor(ex)

	r.HandleSignals(context.Background(), "sma_1", []core.Signal{buy("AAPL", 0.9), buy("MSFT", 0.1)})
	r.registry.Flush()

	if len(ex.executed) != 1 || ex.executed[0].Symbol != "AAPL" {
		t.Errorf("only routed signals should be executed, got %v", ex.executed)
	}
	if len(mock.received) != 1 {
		t.Errorf("notifier should still receive the routed signal, got %d", len(mock.received))
	}
}

func TestRouter_ExecutionFailureCounted(t *testing.T) {
	r, mock, _ := setup(t, Config{})
	r.SetExecutor(&recordingExecutor{fail: true})

	r.HandleSignals(context.Background(), "sma_1", []core.Signal{buy("AAPL", 1)})
	r.registry.Flush()

	if r.GetStats().ExecuteErrors != 1 {
		t.Errorf("unexpected stats %+v", r.GetStats())
	}
	if len(mock.received) != 1 {
		t.Error("execution failures must not block notifications")
	}
}

type blockingNotifier struct {
	mockNotifier
	release chan struct{}
}

func (b *blockingNotifier) Send(ctx context.Context, s core.Signal) error {
	<-b.release
	return b.mockNotifier.Send(ctx, s)
}

func TestRouter_SlowNotifierDoesNotBlock(t *testing.T) {
	registry := notifier.NewRegistry()
	slow := &blockingNotifier{mockNotifier: mockNotifier{name: "slow"}, release: make(chan struct{})}
	registry.Register(slow)
	r := New(Config{}, registry, nil)

	done := make(chan struct{})
	go func() {
		r.HandleSignals(context.Background(), "sma_1", []core.Signal{buy("AAPL", 1)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSignals waited for the notifier")
	}

	close(slow.release)
	registry.Flush()
	if len(slow.received) != 1 {
		t.Errorf("signal should be delivered once released, got %d", len(slow.received))
	}
}
