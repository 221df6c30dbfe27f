package backtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/job"
	"github.com/newthinker/tradecore/internal/strategy"
)

const jobType = "backtest"

// Recorder observes finished runs
type Recorder interface {
	ObserveBacktest(strategy string, state State, elapsed time.Duration, trades int)
}

// Archive stores completed reports
type Archive interface {
	Save(ctx context.Context, id string, r *Report) error
}

// Request is one backtest submitted to the Runner. Strategy must already
// be prepared; Context, when set, selects a context-aware run.
type Request struct {
	Label    string
	Strategy strategy.Strategy
	Candles  []core.OHLCV
	Context  *stratctx.Context
	Timeout  time.Duration // overrides Config.Timeout when positive
}

// Runner executes backtests asynchronously, each with its own simulation
// state, and tracks them in a job store. A run that times out is Failed
// and its partial results are discarded.
type Runner struct {
	engine   *Engine
	jobs     *job.Store
	slots    chan struct{}
	recorder Recorder
	archive  Archive
	logger   *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRecorder reports finished runs to r
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithArchive saves completed reports to a
func WithArchive(a Archive) RunnerOption {
	return func(rn *Runner) { rn.archive = a }
}

// WithLogger sets the runner's logger
func WithLogger(l *zap.Logger) RunnerOption {
	return func(rn *Runner) {
		if l != nil {
			rn.logger = l
		}
	}
}

// WithConcurrency bounds how many runs execute at once
func WithConcurrency(n int) RunnerOption {
	return func(rn *Runner) { rn.slots = make(chan struct{}, max(n, 1)) }
}

// NewRunner creates a runner backed by store
func NewRunner(engine *Engine, store *job.Store, opts ...RunnerOption) *Runner {
	base, cancel := context.WithCancel(context.Background())
	r := &Runner{
		engine: engine,
		jobs:   store,
		slots:  make(chan struct{}, 4),
		logger: zap.NewNop(),
		base:   base,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues a run and returns its job id
func (r *Runner) Submit(req Request) (string, error) {
	if req.Strategy == nil {
		return "", core.Errorf(core.ErrInvalidInput, "request has no strategy")
	}
	if len(req.Candles) == 0 {
		return "", core.ErrEmptyInput
	}
	if err := r.base.Err(); err != nil {
		return "", core.WrapError(core.ErrChannel, err)
	}
	label := req.Label
	if label == "" {
		label = req.Strategy.Name()
	}
	j := r.jobs.Create(jobType, label)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(j.ID, req)
	}()
	return j.ID, nil
}

func (r *Runner) execute(id string, req Request) {
	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-r.base.Done():
		r.fail(id, req, 0, core.WrapError(core.ErrSimulationFailed, r.base.Err()))
		return
	}

	timeout := r.engine.Config().Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := r.base, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(r.base, timeout)
	}
	defer cancel()

	_ = r.jobs.Update(id, func(j *job.Job) { j.Status = job.StatusRunning })
	started := time.Now()

	total := len(req.Candles)
	step := max(total/20, 1)
	eng := r.engine.WithProgress(func(done, n int) {
		if done%step == 0 || done == n {
			_ = r.jobs.Update(id, func(j *job.Job) { j.Progress = done * 100 / n })
		}
	})

	var (
		report *Report
		err    error
	)
	if req.Context != nil {
		report, err = eng.RunWithContext(ctx, req.Strategy, req.Candles, req.Context)
	} else {
		report, err = eng.Run(ctx, req.Strategy, req.Candles)
	}
	elapsed := time.Since(started)
	if err != nil {
		r.fail(id, req, elapsed, err)
		return
	}

	if r.archive != nil {
		if aerr := r.archive.Save(ctx, id, report); aerr != nil {
			r.logger.Warn("failed to archive backtest report", zap.String("job_id", id), zap.Error(aerr))
		}
	}
	_ = r.jobs.Update(id, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = report
	})
	if r.recorder != nil {
		r.recorder.ObserveBacktest(req.Strategy.Name(), StateCompleted, elapsed, report.Metrics.TotalTrades)
	}
	r.logger.Info("backtest complete",
		zap.String("job_id", id),
		zap.String("strategy", req.Strategy.Name()),
		zap.Duration("elapsed", elapsed))
}

func (r *Runner) fail(id string, req Request, elapsed time.Duration, err error) {
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		cerr = core.WrapError(core.ErrInternal, err)
	}
	_ = r.jobs.Update(id, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.Error = cerr
		j.Result = nil
	})
	if r.recorder != nil {
		r.recorder.ObserveBacktest(req.Strategy.Name(), StateFailed, elapsed, 0)
	}
	r.logger.Warn("backtest failed", zap.String("job_id", id), zap.Error(err))
}

// Get returns the job tracking a run
func (r *Runner) Get(id string) (job.Job, error) {
	return r.jobs.Get(id)
}

// Wait blocks until the run finishes or ctx is done. A failed run returns
// its error and no report.
func (r *Runner) Wait(ctx context.Context, id string) (*Report, error) {
	done, err := r.jobs.Done(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j, err := r.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusFailed {
		if j.Error != nil {
			return nil, j.Error
		}
		return nil, core.ErrSimulationFailed
	}
	report, _ := j.Result.(*Report)
	return report, nil
}

// Close cancels queued and running jobs and waits for them to finish
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
