package flume

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Iterator lifecycle states.
const (
	StateUnbound       = "unbound"
	StateUninitialized = "uninitialized"
	StateRunning       = "running"
	StateExhausted     = "exhausted"
)

// Metric keys for Iterator observability.
const (
	IteratorNextTotal     = metricz.Key("iterator.next.total")
	IteratorElementsTotal = metricz.Key("iterator.elements.total")
	IteratorErrorsTotal   = metricz.Key("iterator.errors.total")
	IteratorInitsTotal    = metricz.Key("iterator.initializations.total")
	IteratorNextLatencyMs = metricz.Key("iterator.next.latency.ms")
)

// Span names for Iterator tracing.
const (
	IteratorNextSpan = tracez.Key("iterator.next")
	IteratorInitSpan = tracez.Key("iterator.initialize")
)

// Tag keys for Iterator span metadata.
const (
	IteratorTagDataset = tracez.Tag("iterator.dataset")
	IteratorTagState   = tracez.Tag("iterator.state")
	IteratorTagError   = tracez.Tag("iterator.error")
)

// Hook event keys for Iterator lifecycle.
const (
	IteratorEventInitialized = hookz.Key("iterator.initialized")
	IteratorEventExhausted   = hookz.Key("iterator.exhausted")
)

// IteratorEvent represents an iterator lifecycle event. It is emitted
// via hookz when an iterator initializes or exhausts, providing
// visibility into epoch boundaries without polling.
type IteratorEvent struct {
	Name      Name      // Iterator name
	Dataset   Name      // Bound dataset's terminal node name
	Elements  int64     // Elements produced this epoch (for exhausted)
	Timestamp time.Time // When the event occurred
}

// Iterator is a single-consumer cursor over a dataset. It moves through
// four states: unbound (no dataset yet), uninitialized (bound, no open
// cursor), running, and exhausted.
//
// CRITICAL: an Iterator is a STATEFUL handle over shared pipeline state.
// Each consumer must create its own; a single Iterator is not safe for
// concurrent Next calls.
//
// A fresh epoch over the same dataset needs only Initialize again, even
// after exhaustion:
//
//	it := flume.NewIterator("train", ds)
//	for epoch := 0; epoch < 3; epoch++ {
//	    if err := it.Initialize(ctx); err != nil {
//	        return err
//	    }
//	    for {
//	        elem, err := it.Next(ctx)
//	        if flume.IsOutOfRange(err) {
//	            break
//	        }
//	        if err != nil {
//	            return err
//	        }
//	        consume(elem)
//	    }
//	}
//
// # Observability
//
// Iterator provides comprehensive observability through metrics,
// tracing, and events:
//
// Metrics:
//   - iterator.next.total: Counter of Next calls
//   - iterator.elements.total: Counter of elements produced
//   - iterator.errors.total: Counter of failed Next calls
//   - iterator.initializations.total: Counter of Initialize calls
//   - iterator.next.latency.ms: Gauge of the last Next duration
//
// Traces:
//   - iterator.initialize: Span for pipeline materialization
//   - iterator.next: Span for each element pull
//
// Events (via hooks):
//   - iterator.initialized: Fired when an epoch begins
//   - iterator.exhausted: Fired when the pipeline runs dry
//
// Example with hooks:
//
//	it.OnExhausted(func(ctx context.Context, event flume.IteratorEvent) error {
//	    log.Printf("epoch over after %d elements", event.Elements)
//	    return nil
//	})
type Iterator struct {
	name     Name
	dataset  *Dataset
	declared *Schema // Bind-time compatibility contract, set for unbound iterators
	source   Source
	state    string
	elements int64
	mu       sync.Mutex
	clock    clockz.Clock
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[IteratorEvent]
	oneShot  bool
}

func newIterator(name Name, oneShot bool) *Iterator {
	metrics := metricz.New()
	metrics.Counter(IteratorNextTotal)
	metrics.Counter(IteratorElementsTotal)
	metrics.Counter(IteratorErrorsTotal)
	metrics.Counter(IteratorInitsTotal)
	metrics.Gauge(IteratorNextLatencyMs)

	return &Iterator{
		name:    name,
		state:   StateUnbound,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[IteratorEvent](),
		oneShot: oneShot,
	}
}

// NewIterator creates an iterator bound to ds. The iterator starts
// uninitialized; call Initialize before the first Next. A poisoned
// dataset chain surfaces here through Initialize.
func NewIterator(name Name, ds *Dataset) *Iterator {
	it := newIterator(name, false)
	it.dataset = ds
	it.state = StateUninitialized
	return it
}

// NewOneShotIterator creates an iterator bound to ds that initializes
// itself on the first Next call. One-shot iterators cover the common
// single-epoch loop without an explicit Initialize.
func NewOneShotIterator(name Name, ds *Dataset) *Iterator {
	it := newIterator(name, true)
	it.dataset = ds
	it.state = StateUninitialized
	return it
}

// NewUnboundIterator creates an iterator with a declared schema but no
// dataset. Bind attaches any dataset whose schema is compatible with
// the declaration, so one consumer loop can alternate between training
// and validation pipelines.
func NewUnboundIterator(name Name, schema Schema) *Iterator {
	it := newIterator(name, false)
	declared := schema
	it.declared = &declared
	return it
}

// Bind attaches ds to the iterator and resets it to uninitialized. For
// iterators created unbound, the dataset's resolved schema must be
// compatible with the declared schema; incompatibility fails with the
// first differing path. Rebinding closes any open cursor.
func (it *Iterator) Bind(ds *Dataset) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if ds == nil {
		return newError(KindInvalidArgument, it.name, "cannot bind a nil dataset")
	}
	if ds.err != nil {
		return prependPath(ds.err, it.name)
	}
	if it.declared != nil {
		dsSchema, ok := ds.Schema()
		if !ok {
			return newError(KindInvalidArgument, it.name,
				"dataset schema must be resolved before binding")
		}
		if err := AssertCompatible(*it.declared, dsSchema); err != nil {
			return prependPath(err, it.name)
		}
	}
	if it.source != nil {
		it.source.Close()
		it.source = nil
	}
	it.dataset = ds
	it.state = StateUninitialized
	return nil
}

// Initialize materializes the pipeline and starts a fresh epoch. It may
// be called again at any time, including after exhaustion; the previous
// cursor is closed and every stateless stage restarts from its source.
func (it *Iterator) Initialize(ctx context.Context) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.initializeLocked(ctx)
}

func (it *Iterator) initializeLocked(ctx context.Context) error {
	if it.state == StateUnbound {
		return newError(KindInvalidArgument, it.name, "iterator is not bound to a dataset")
	}
	if it.dataset.err != nil {
		return prependPath(it.dataset.err, it.name)
	}

	ctx, span := it.tracer.StartSpan(ctx, IteratorInitSpan)
	span.SetTag(IteratorTagDataset, string(it.dataset.Name()))
	defer span.Finish()

	if it.source != nil {
		it.source.Close()
		it.source = nil
	}
	src, err := it.dataset.open(ctx)
	if err != nil {
		span.SetTag(IteratorTagError, err.Error())
		return prependPath(err, it.name)
	}
	it.source = src
	it.state = StateRunning
	it.elements = 0
	it.metrics.Counter(IteratorInitsTotal).Inc()

	_ = it.hooks.Emit(ctx, IteratorEventInitialized, IteratorEvent{ //nolint:errcheck
		Name:      it.name,
		Dataset:   it.dataset.Name(),
		Timestamp: it.getClock().Now(),
	})
	return nil
}

// Next returns the next element of the bound dataset. Exhaustion
// surfaces as a sticky OutOfRange error; any other error leaves the
// iterator running so the caller decides whether to continue.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.metrics.Counter(IteratorNextTotal).Inc()

	switch it.state {
	case StateUnbound:
		it.metrics.Counter(IteratorErrorsTotal).Inc()
		return nil, newError(KindInvalidArgument, it.name, "iterator is not bound to a dataset")
	case StateUninitialized:
		if !it.oneShot {
			it.metrics.Counter(IteratorErrorsTotal).Inc()
			return nil, newError(KindInvalidArgument, it.name, "iterator is not initialized")
		}
		if err := it.initializeLocked(ctx); err != nil {
			it.metrics.Counter(IteratorErrorsTotal).Inc()
			return nil, err
		}
	case StateExhausted:
		return nil, outOfRange(it.name)
	}

	ctx, span := it.tracer.StartSpan(ctx, IteratorNextSpan)
	span.SetTag(IteratorTagDataset, string(it.dataset.Name()))
	start := it.getClock().Now()
	defer func() {
		it.metrics.Gauge(IteratorNextLatencyMs).Set(float64(it.getClock().Since(start).Milliseconds()))
		span.Finish()
	}()

	v, err := it.source.Next(ctx)
	if err != nil {
		if IsOutOfRange(err) {
			it.state = StateExhausted
			it.source.Close()
			it.source = nil
			span.SetTag(IteratorTagState, StateExhausted)
			_ = it.hooks.Emit(ctx, IteratorEventExhausted, IteratorEvent{ //nolint:errcheck
				Name:      it.name,
				Dataset:   it.dataset.Name(),
				Elements:  it.elements,
				Timestamp: it.getClock().Now(),
			})
			return nil, prependPath(err, it.name)
		}
		it.metrics.Counter(IteratorErrorsTotal).Inc()
		span.SetTag(IteratorTagError, err.Error())
		return nil, prependPath(err, it.name)
	}
	it.elements++
	it.metrics.Counter(IteratorElementsTotal).Inc()
	return v, nil
}

// Schema returns the schema of the bound dataset, or the declared
// schema while unbound. ok is false while neither is resolved.
func (it *Iterator) Schema() (Schema, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.dataset != nil {
		return it.dataset.Schema()
	}
	if it.declared != nil {
		return *it.declared, true
	}
	return Schema{}, false
}

// State returns the iterator's current lifecycle state.
func (it *Iterator) State() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// Elements returns the number of elements produced in the current
// epoch.
func (it *Iterator) Elements() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.elements
}

// Name returns the name of this iterator.
func (it *Iterator) Name() Name {
	return it.name
}

// WithClock sets a custom clock for testing.
func (it *Iterator) WithClock(clock clockz.Clock) *Iterator {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.clock = clock
	return it
}

// getClock returns the clock to use.
func (it *Iterator) getClock() clockz.Clock {
	if it.clock == nil {
		return clockz.RealClock
	}
	return it.clock
}

// Metrics returns the metrics registry for this iterator.
func (it *Iterator) Metrics() *metricz.Registry {
	return it.metrics
}

// Tracer returns the tracer for this iterator.
func (it *Iterator) Tracer() *tracez.Tracer {
	return it.tracer
}

// OnInitialized registers a handler for epoch starts.
// The handler is called asynchronously after Initialize materializes
// the pipeline.
func (it *Iterator) OnInitialized(handler func(context.Context, IteratorEvent) error) error {
	_, err := it.hooks.Hook(IteratorEventInitialized, handler)
	return err
}

// OnExhausted registers a handler for epoch ends.
// The handler is called asynchronously when the pipeline runs dry; the
// event carries the epoch's element count.
func (it *Iterator) OnExhausted(handler func(context.Context, IteratorEvent) error) error {
	_, err := it.hooks.Hook(IteratorEventExhausted, handler)
	return err
}

// Close releases the iterator's cursor and shuts down observability
// components. A closed iterator reports exhaustion from Next.
func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	var err error
	if it.source != nil {
		err = it.source.Close()
		it.source = nil
	}
	it.state = StateExhausted
	if it.tracer != nil {
		it.tracer.Close()
	}
	it.hooks.Close()
	return err
}
