package strategy

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
)

type mockParams struct {
	Threshold float64 `mapstructure:"threshold" json:"threshold" validate:"gte=0"`
	Fail      bool    `mapstructure:"fail" json:"fail"`
}

type mockStrategy struct {
	Base
	params  mockParams
	signals []core.Signal
	err     error

	// block, when set, holds OnCandle until closed
	block   chan struct{}
	entered chan struct{}
	calls   atomic.Int64
	fills   []Fill
	once    sync.Once
}

func (m *mockStrategy) Name() string        { return "mock" }
func (m *mockStrategy) Version() string     { return "1.0.0" }
func (m *mockStrategy) Description() string { return "mock strategy" }

func (m *mockStrategy) Initialize(cfg Config) error {
	p := mockParams{Threshold: 1}
	if err := m.Setup(cfg, risk.ProfileDefault, &p); err != nil {
		return err
	}
	if p.Fail {
		return errors.New("mock init failure")
	}
	m.params = p
	return nil
}

func (m *mockStrategy) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	m.calls.Add(1)
	if m.entered != nil {
		m.once.Do(func() { close(m.entered) })
	}
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]core.Signal, len(m.signals))
	copy(out, m.signals)
	return m.Emit(m.Name(), c.Time, out...), nil
}

func (m *mockStrategy) Status() Status {
	st := m.BaseStatus(m.Name(), m.Version())
	st.Details = map[string]any{"threshold": m.params.Threshold}
	return st
}

func (m *mockStrategy) OnOrderFilled(f Fill) {
	m.fills = append(m.fills, f)
}
