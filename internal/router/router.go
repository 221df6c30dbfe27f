// Package router filters live strategy signals, journals the ones that pass
// and forwards them to the notifiers.
package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/storage/signal"
)

// Config holds router configuration
type Config struct {
	MinStrength    float64           `mapstructure:"min_strength" validate:"gte=0,lte=1"`
	Cooldown       time.Duration     `mapstructure:"cooldown" validate:"gte=0"`
	EnabledKinds   []core.SignalKind `mapstructure:"enabled_kinds"`
	EnabledActions []core.Action     `mapstructure:"enabled_actions"`
}

// DefaultConfig returns default router configuration
func DefaultConfig() Config {
	return Config{
		MinStrength:    0.5,
		Cooldown:       1 * time.Hour,
		EnabledKinds:   []core.SignalKind{core.SignalEntry, core.SignalExit, core.SignalAdjust},
		EnabledActions: []core.Action{core.ActionBuy, core.ActionSell},
	}
}

// Recorder observes routing outcomes
type Recorder interface {
	ObserveSignal(strategyID string, kind core.SignalKind, routed bool)
}

// Executor turns a routed signal into an order
type Executor interface {
	ExecuteSignal(ctx context.Context, strategyID string, sig core.Signal) error
}

// Stats are the router counters
type Stats struct {
	Received        uint64  `json:"received"`
	Routed          uint64  `json:"routed"`
	Filtered        uint64  `json:"filtered"`
	NotifyErrors    uint64  `json:"notify_errors"`
	ExecuteErrors   uint64  `json:"execute_errors"`
	CooldownsActive int     `json:"cooldowns_active"`
	MinStrength     float64 `json:"min_strength"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

// Router routes signals to notifiers with filtering. It implements
// strategy.SignalHandler.
type Router struct {
	cfg         Config
	registry    *notifier.Registry
	logger      *zap.Logger
	signalStore signal.Store
	recorder    Recorder
	executor    Executor
	now         func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time // strategy|symbol|action -> last routed
	stats     Stats
}

// New creates a new signal router. A nil registry routes to the journal only.
func New(cfg Config, registry *notifier.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
	}
}

// SetSignalStore sets the signal journal
func (r *Router) SetSignalStore(store signal.Store) {
	r.signalStore = store
}

// SetRecorder sets the metrics recorder
func (r *Router) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetExecutor sets the order executor. Routed signals are executed after
// they are journaled and before notifiers are called.
func (r *Router) SetExecutor(ex Executor) {
	r.executor = ex
}

// HandleSignals filters the signals one strategy produced for a candle and
// forwards the survivors. Execution runs inline; notifiers are reached through
// the registry's background queue, a single survivor alone, several as a batch.
func (r *Router) HandleSignals(ctx context.Context, strategyID string, signals []core.Signal) {
	var routed []core.Signal
	for _, sig := range signals {
		ok := r.admit(strategyID, sig)
		if r.recorder != nil {
			r.recorder.ObserveSignal(strategyID, sig.Kind, ok)
		}
		if !ok {
			r.logger.Debug("signal filtered out",
				zap.String("strategy_id", strategyID),
				zap.String("symbol", sig.Symbol),
				zap.String("kind", string(sig.Kind)),
				zap.String("action", string(sig.Action)),
				zap.Float64("strength", sig.Strength),
			)
			continue
		}
		routed = append(routed, r.journal(ctx, strategyID, sig))
	}
	if len(routed) == 0 {
		return
	}

	if r.executor != nil {
		var failed uint64
		for _, sig := range routed {
			if err := r.executor.ExecuteSignal(ctx, strategyID, sig); err != nil {
				failed++
				r.logger.Error("signal execution failed",
					zap.String("strategy_id", strategyID),
					zap.String("signal", sig.String()),
					zap.Error(err),
				)
			}
		}
		r.mu.Lock()
		r.stats.ExecuteErrors += failed
		r.mu.Unlock()
	}

	if r.registry != nil {
		queued := r.registry.Deliver(routed, func(name string, err error) {
			r.logger.Error("notifier failed",
				zap.String("notifier", name),
				zap.String("strategy_id", strategyID),
				zap.Error(err),
			)
			r.mu.Lock()
			r.stats.NotifyErrors++
			r.mu.Unlock()
		})
		if !queued {
			r.logger.Warn("delivery queue full, signals not notified",
				zap.String("strategy_id", strategyID),
				zap.Int("signals", len(routed)),
			)
			r.mu.Lock()
			r.stats.NotifyErrors++
			r.mu.Unlock()
		}
	}

	r.logger.Info("signals routed",
		zap.String("strategy_id", strategyID),
		zap.Int("received", len(signals)),
		zap.Int("routed", len(routed)),
	)
}

func (r *Router) journal(ctx context.Context, strategyID string, sig core.Signal) core.Signal {
	if r.signalStore == nil {
		return sig
	}
	id, err := r.signalStore.Save(ctx, signal.Entry{
		ID:         sig.ID,
		StrategyID: strategyID,
		Signal:     sig,
		RoutedAt:   r.now(),
	})
	if err != nil {
		r.logger.Error("failed to persist signal", zap.Error(err))
		return sig
	}
	if sig.ID == "" {
		sig.ID = id
	}
	return sig
}

// admit applies the filters and, when the signal passes, starts its
// cooldown. Exit signals skip the strength and cooldown checks so that
// protective closes are never suppressed.
func (r *Router) admit(strategyID string, sig core.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Received++

	pass := r.allowed(sig)
	if pass && sig.Kind != core.SignalExit {
		if sig.Strength < r.cfg.MinStrength {
			pass = false
		} else {
			key := cooldownKey(strategyID, sig)
			now := r.now()
			if last, ok := r.cooldowns[key]; ok && now.Sub(last) < r.cfg.Cooldown {
				pass = false
			} else {
				r.cooldowns[key] = now
			}
		}
	}

	if pass {
		r.stats.Routed++
	} else {
		r.stats.Filtered++
	}
	return pass
}

func (r *Router) allowed(sig core.Signal) bool {
	if len(r.cfg.EnabledKinds) > 0 && !slices.Contains(r.cfg.EnabledKinds, sig.Kind) {
		return false
	}
	if len(r.cfg.EnabledActions) > 0 && !slices.Contains(r.cfg.EnabledActions, sig.Action) {
		return false
	}
	return true
}

func cooldownKey(strategyID string, sig core.Signal) string {
	return strategyID + "|" + sig.Symbol + "|" + string(sig.Action)
}

// ClearCooldowns removes every cooldown held by a strategy. It is called
// when a strategy is stopped or reconfigured.
func (r *Router) ClearCooldowns(strategyID string) {
	prefix := strategyID + "|"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cooldowns {
		if strings.HasPrefix(key, prefix) {
			delete(r.cooldowns, key)
		}
	}
}

// ClearAllCooldowns removes all cooldowns
func (r *Router) ClearAllCooldowns() {
	r.mu.Lock()
	r.cooldowns = make(map[string]time.Time)
	r.mu.Unlock()
}

// CleanupExpiredCooldowns removes cooldown entries that have already expired.
func (r *Router) CleanupExpiredCooldowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, last := range r.cooldowns {
		if now.Sub(last) >= r.cfg.Cooldown {
			delete(r.cooldowns, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops expired cooldowns until ctx is done.
func (r *Router) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.CleanupExpiredCooldowns(); removed > 0 {
					r.logger.Debug("cleaned up expired cooldowns", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// GetStats returns router statistics
func (r *Router) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.CooldownsActive = len(r.cooldowns)
	s.MinStrength = r.cfg.MinStrength
	s.CooldownSeconds = r.cfg.Cooldown.Seconds()
	return s
}
