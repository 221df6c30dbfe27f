package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/storage/definition"
	"github.com/newthinker/tradecore/internal/strategy"
)

// Manager is the application-facing lifecycle API. The engine is
// authoritative: every operation mutates the engine first and then mirrors
// the result into the definition store. A failed mirror write is logged and
// never rolls the engine back.
type Manager struct {
	engine  *strategy.Engine
	catalog *strategy.Registry
	store   definition.Store
	events  core.EventSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager wires a manager. store and events may be nil.
func NewManager(engine *strategy.Engine, catalog *strategy.Registry, store definition.Store, events core.EventSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = core.NopSink{}
	}
	return &Manager{
		engine:  engine,
		catalog: catalog,
		store:   store,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// NewStrategyID returns "<type>_<first 8 chars of a uuid>"
func NewStrategyID(kind string) string {
	return kind + "_" + uuid.NewString()[:8]
}

// Create registers a new instance of a strategy type. params are laid over
// the type's defaults. An empty id gets a generated one.
func (m *Manager) Create(ctx context.Context, id, kind, name string, params strategy.Config) (strategy.StrategyStatus, error) {
	meta, ok := m.catalog.Find(kind)
	if !ok {
		return strategy.StrategyStatus{}, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", kind)
	}
	defaults, err := m.catalog.DefaultConfig(meta.ID)
	if err != nil {
		return strategy.StrategyStatus{}, err
	}
	if id == "" {
		id = NewStrategyID(meta.ID)
	}

	st, err := m.register(id, meta, name, defaults.Merge(params))
	if err != nil {
		return st, err
	}
	m.publish(core.EventCreated, st, map[string]any{"type": meta.ID})
	m.persist(ctx, st)
	return st, nil
}

// Clone copies a registered strategy's configuration into a new stopped
// instance of the same type. overrides replace top-level keys, so an exit
// override replaces the whole exit block.
func (m *Manager) Clone(ctx context.Context, sourceID, name string, overrides strategy.Config) (strategy.StrategyStatus, error) {
	src, err := m.engine.GetStrategyStatus(sourceID)
	if err != nil {
		return strategy.StrategyStatus{}, err
	}
	cfg, err := m.engine.GetStrategyConfig(sourceID)
	if err != nil {
		return strategy.StrategyStatus{}, err
	}
	meta, ok := m.catalog.Find(src.Type)
	if !ok {
		return strategy.StrategyStatus{}, core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", src.Type)
	}
	if name == "" {
		name = src.Name + " (copy)"
	}

	st, err := m.register(NewStrategyID(meta.ID), meta, name, cfg.Merge(overrides))
	if err != nil {
		return st, err
	}
	m.publish(core.EventCloned, st, map[string]any{"source_id": sourceID})
	m.persist(ctx, st)
	return st, nil
}

func (m *Manager) register(id string, meta strategy.Meta, name string, cfg strategy.Config) (strategy.StrategyStatus, error) {
	if err := m.engine.Register(id, meta.Factory(), cfg, name); err != nil {
		return strategy.StrategyStatus{}, err
	}
	return m.engine.GetStrategyStatus(id)
}

// Delete stops and removes a strategy
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.engine.Unregister(id); err != nil {
		return err
	}
	if m.store == nil {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		m.logger.Warn("failed to delete strategy definition", zap.String("strategy_id", id), zap.Error(err))
	}
	return nil
}

// Start starts a strategy
func (m *Manager) Start(ctx context.Context, id string) error {
	if err := m.engine.Start(id); err != nil {
		return err
	}
	m.mirror(ctx, id)
	return nil
}

// Stop stops a strategy
func (m *Manager) Stop(ctx context.Context, id string) error {
	if err := m.engine.Stop(id); err != nil {
		return err
	}
	m.mirror(ctx, id)
	return nil
}

// UpdateConfig replaces a strategy's configuration
func (m *Manager) UpdateConfig(ctx context.Context, id string, cfg strategy.Config) error {
	if err := m.engine.UpdateConfig(id, cfg); err != nil {
		return err
	}
	m.mirror(ctx, id)
	return nil
}

// UpdateRisk overlays overrides on the strategy's current exit rules
func (m *Manager) UpdateRisk(ctx context.Context, id string, overrides map[string]any) error {
	current, err := m.engine.GetStrategyExitConfig(id)
	if err != nil {
		return err
	}
	exit, err := current.Merge(overrides)
	if err != nil {
		return err
	}
	if err := m.engine.UpdateExitConfig(id, exit); err != nil {
		return err
	}
	m.mirror(ctx, id)
	return nil
}

// Restore re-registers every stored definition that the engine does not
// hold yet and restarts the ones saved as running. A definition that fails
// to restore is logged and skipped. It returns how many were restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range records {
		if _, err := m.engine.GetStrategyStatus(rec.ID); err == nil {
			continue
		}
		meta, ok := m.catalog.Find(rec.Type)
		if !ok {
			m.logger.Warn("skipping stored strategy of unknown type",
				zap.String("strategy_id", rec.ID), zap.String("type", rec.Type))
			continue
		}
		cfg, err := m.catalog.DefaultConfig(meta.ID)
		if err != nil {
			m.logger.Warn("failed to restore strategy", zap.String("strategy_id", rec.ID), zap.Error(err))
			continue
		}
		if err := m.engine.Register(rec.ID, meta.Factory(), cfg.Merge(rec.Params), rec.Name); err != nil {
			m.logger.Warn("failed to restore strategy", zap.String("strategy_id", rec.ID), zap.Error(err))
			continue
		}
		if rec.Running {
			if err := m.engine.Start(rec.ID); err != nil {
				m.logger.Warn("failed to restart strategy", zap.String("strategy_id", rec.ID), zap.Error(err))
			}
		}
		restored++
	}
	m.logger.Info("strategies restored", zap.Int("count", restored), zap.Int("stored", len(records)))
	return restored, nil
}

func (m *Manager) publish(t core.EventType, st strategy.StrategyStatus, data map[string]any) {
	m.events.Publish(core.Event{
		ID:         uuid.NewString(),
		Type:       t,
		StrategyID: st.ID,
		Name:       st.Name,
		Running:    st.Running,
		Data:       data,
		Timestamp:  m.now(),
	})
}

func (m *Manager) mirror(ctx context.Context, id string) {
	st, err := m.engine.GetStrategyStatus(id)
	if err != nil {
		return
	}
	m.persist(ctx, st)
}

func (m *Manager) persist(ctx context.Context, st strategy.StrategyStatus) {
	if m.store == nil {
		return
	}
	cfg, err := m.engine.GetStrategyConfig(st.ID)
	if err != nil {
		return
	}
	rec := definition.Record{
		ID:        st.ID,
		Type:      st.Type,
		Name:      st.Name,
		Params:    cfg,
		Running:   st.Running,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("failed to persist strategy definition",
			zap.String("strategy_id", st.ID),
			zap.Error(err),
		)
	}
}
