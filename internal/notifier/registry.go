package notifier

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
)

const (
	deliveryTimeout = 10 * time.Second
	// maxQueued bounds the background delivery queue
	maxQueued = 1024
)

// delivery is one queued hand-off to the notifiers
type delivery func(ctx context.Context)

// Registry manages notifier instances. It is also the engine's event sink.
// Deliver and Publish share one background queue, so signals and events
// reach every notifier in the order they were handed over.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	logger    *zap.Logger
	pending   sync.WaitGroup

	qmu      sync.Mutex
	queue    []delivery
	draining bool
}

// NewRegistry creates a new notifier registry
func NewRegistry(logger ...*zap.Logger) *Registry {
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Registry{
		notifiers: make(map[string]Notifier),
		logger:    l,
	}
}

// Register adds a notifier to the registry
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.notifiers[name]; exists {
		return core.Errorf(core.ErrInvalidInput, "notifier %s already registered", name)
	}

	r.notifiers[name] = n
	return nil
}

// Get retrieves a notifier by name
func (r *Registry) Get(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.notifiers[name]
	if !exists {
		return nil, core.Errorf(core.ErrNotFound, "notifier %s not found", name)
	}
	return n, nil
}

// GetAll returns all registered notifiers sorted by name
func (r *Registry) GetAll() []Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// NotifyAll sends a signal to all registered notifiers
func (r *Registry) NotifyAll(ctx context.Context, signal core.Signal) map[string]error {
	errs := make(map[string]error)
	for _, n := range r.GetAll() {
		if err := n.Send(ctx, signal); err != nil {
			errs[n.Name()] = err
		}
	}
	return errs
}

// NotifyAllBatch sends multiple signals to all registered notifiers
func (r *Registry) NotifyAllBatch(ctx context.Context, signals []core.Signal) map[string]error {
	errs := make(map[string]error)
	for _, n := range r.GetAll() {
		if err := n.SendBatch(ctx, signals); err != nil {
			errs[n.Name()] = err
		}
	}
	return errs
}

// Deliver queues signals for every notifier: a single signal goes through
// Send, several through SendBatch. Failures are passed to report from the
// delivery goroutine. It returns false when the queue is full and the
// signals were dropped.
func (r *Registry) Deliver(signals []core.Signal, report func(name string, err error)) bool {
	if len(signals) == 0 || len(r.GetAll()) == 0 {
		return true
	}
	signals = append([]core.Signal(nil), signals...)
	return r.enqueue(func(ctx context.Context) {
		var errs map[string]error
		if len(signals) == 1 {
			errs = r.NotifyAll(ctx, signals[0])
		} else {
			errs = r.NotifyAllBatch(ctx, signals)
		}
		if report == nil {
			return
		}
		for _, n := range r.GetAll() {
			if err, ok := errs[n.Name()]; ok {
				report(n.Name(), err)
			}
		}
	})
}

// Publish implements core.EventSink. Delivery is asynchronous and best
// effort; failures are logged.
func (r *Registry) Publish(event core.Event) {
	if len(r.GetAll()) == 0 {
		return
	}
	queued := r.enqueue(func(ctx context.Context) {
		for _, n := range r.GetAll() {
			if err := n.SendEvent(ctx, event); err != nil {
				r.logger.Warn("failed to deliver strategy event",
					zap.String("notifier", n.Name()),
					zap.String("event", string(event.Type)),
					zap.String("strategy_id", event.StrategyID),
					zap.Error(err))
			}
		}
	})
	if !queued {
		r.logger.Warn("delivery queue full, event dropped",
			zap.String("event", string(event.Type)),
			zap.String("strategy_id", event.StrategyID))
	}
}

func (r *Registry) enqueue(d delivery) bool {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if len(r.queue) >= maxQueued {
		return false
	}
	r.pending.Add(1)
	r.queue = append(r.queue, d)
	if !r.draining {
		r.draining = true
		go r.drain()
	}
	return true
}

// drain runs queued deliveries one at a time until the queue is empty
func (r *Registry) drain() {
	for {
		r.qmu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			r.qmu.Unlock()
			return
		}
		d := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.qmu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		d(ctx)
		cancel()
		r.pending.Done()
	}
}

// Flush waits until every queued signal and event has been delivered
func (r *Registry) Flush() {
	r.pending.Wait()
}
