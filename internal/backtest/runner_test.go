package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/job"
)

type memArchive struct {
	mu      sync.Mutex
	reports map[string]*Report
	err     error
}

func (a *memArchive) Save(_ context.Context, id string, r *Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.reports == nil {
		a.reports = make(map[string]*Report)
	}
	a.reports[id] = r
	return nil
}

type observed struct {
	strategy string
	state    State
	trades   int
}

type memRecorder struct {
	mu   sync.Mutex
	runs []observed
}

func (r *memRecorder) ObserveBacktest(strategy string, state State, _ time.Duration, trades int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, observed{strategy, state, trades})
}

func roundTrip(t *testing.T) Request {
	t.Helper()
	s := newScripted(map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}, 10: {exit(0)}})
	prepared(t, s, noExitRules)
	return Request{Strategy: s, Candles: series("TEST", append(flat(10, 100), 110)...)}
}

func TestRunner_Complete(t *testing.T) {
	archive := &memArchive{}
	recorder := &memRecorder{}
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour),
		WithArchive(archive), WithRecorder(recorder), WithConcurrency(2))

	id, err := r.Submit(roundTrip(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := r.Wait(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Metrics.TotalTrades)

	j, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusComplete, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "scripted", j.Label)

	r.Close()
	assert.Same(t, report, archive.reports[id])
	require.Len(t, recorder.runs, 1)
	assert.Equal(t, observed{"scripted", StateCompleted, 1}, recorder.runs[0])
}

func TestRunner_ArchiveFailureKeepsResult(t *testing.T) {
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour),
		WithArchive(&memArchive{err: errors.New("bucket unavailable")}))
	defer r.Close()

	id, err := r.Submit(roundTrip(t))
	require.NoError(t, err)
	report, err := r.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, report)
}

func TestRunner_TimeoutFails(t *testing.T) {
	recorder := &memRecorder{}
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour), WithRecorder(recorder))

	s := newScripted(nil)
	s.delay = 5 * time.Millisecond
	prepared(t, s, nil)

	id, err := r.Submit(Request{
		Label:    "slow",
		Strategy: s,
		Candles:  series("TEST", flat(200, 100)...),
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := r.Wait(context.Background(), id)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, core.ErrSimulationFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	j, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Nil(t, j.Result)
	require.NotNil(t, j.Error)
	assert.Equal(t, "SIMULATION_FAILED", j.Error.Code)

	r.Close()
	require.Len(t, recorder.runs, 1)
	assert.Equal(t, StateFailed, recorder.runs[0].state)
}

func TestRunner_ConcurrentRunsAreIsolated(t *testing.T) {
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour), WithConcurrency(3))
	defer r.Close()

	ids := make([]string, 6)
	for i := range ids {
		id, err := r.Submit(roundTrip(t))
		require.NoError(t, err)
		ids[i] = id
	}
	for _, id := range ids {
		report, err := r.Wait(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, report.Trades, 1)
		assert.Equal(t, "98.6350075", report.Trades[0].PnL.String())
	}
}

func TestRunner_SubmitValidation(t *testing.T) {
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour))

	_, err := r.Submit(Request{})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = r.Submit(Request{Strategy: newScripted(nil)})
	assert.True(t, errors.Is(err, core.ErrEmptyInput))

	r.Close()
	_, err = r.Submit(roundTrip(t))
	assert.True(t, errors.Is(err, core.ErrChannel))
}

func TestRunner_WaitUnknownJob(t *testing.T) {
	r := NewRunner(newEngine(t), job.NewStore(10, time.Hour))
	defer r.Close()

	_, err := r.Wait(context.Background(), "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
