package flume

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// MapFunc transforms one element into another. Tuple elements arrive
// unpacked, one component per argument; any other element arrives as a
// single argument. The returned value may be any supported element and
// is normalized before flowing downstream.
type MapFunc func(ctx context.Context, args ...any) (any, error)

// Map creates a dataset applying fn to each of d's elements, in order.
//
// The result schema is dynamic: it resolves by invoking fn once with a
// zero-valued placeholder element, or failing that, from the first real
// output. Schema reports ok=false until resolution happens and the
// resolved schema never changes afterwards.
func (d *Dataset) Map(name Name, fn MapFunc) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if fn == nil {
		return failed(newError(KindInvalidArgument, name, "fn must not be nil"))
	}
	return fromNode(&mapNode{nodeName: name, up: d.node, fn: fn})
}

type mapNode struct {
	nodeName Name
	up       node
	fn       MapFunc

	resolver schemaResolver
}

func (n *mapNode) name() Name { return n.nodeName }

func (n *mapNode) schema() (Schema, bool) {
	return n.resolver.resolve(func() (Schema, bool) {
		upSchema, ok := n.up.schema()
		if !ok {
			return Schema{}, false
		}
		out, err := n.invoke(context.Background(), upSchema, placeholderValue(upSchema))
		if err != nil {
			return Schema{}, false
		}
		inferred, err := inferSchema(n.nodeName, out)
		if err != nil {
			return Schema{}, false
		}
		return inferred, true
	})
}

// invoke runs the user function on one element, recovering panics and
// normalizing the output.
func (n *mapNode) invoke(ctx context.Context, upSchema Schema, v any) (out any, err error) {
	defer recoverFromPanic(&err, n.nodeName)
	raw, err := n.fn(ctx, unpackArgs(upSchema, v)...)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	return normalizeValue(n.nodeName, raw)
}

func (n *mapNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			v, err := up.Next(ctx)
			if err != nil {
				return nil, prependPath(err, n.nodeName)
			}
			upSchema, err := upstreamSchemaFor(n.nodeName, n.up, v)
			if err != nil {
				return nil, err
			}
			out, err := n.invoke(ctx, upSchema, v)
			if err != nil {
				return nil, err
			}
			n.resolver.resolveFrom(n.nodeName, out)
			return out, nil
		},
		closeFn: up.Close,
	}, nil
}

// schemaResolver memoizes a dynamic node's output schema. The first
// successful resolution wins; resolve never re-runs after that.
type schemaResolver struct {
	mu       sync.Mutex
	resolved Schema
	ok       bool
}

func (r *schemaResolver) resolve(attempt func() (Schema, bool)) (Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ok {
		return r.resolved, true
	}
	s, ok := attempt()
	if ok {
		r.resolved = s
		r.ok = true
	}
	return s, ok
}

// resolveFrom memoizes the schema inferred from a real output element,
// covering functions whose placeholder invocation failed.
func (r *schemaResolver) resolveFrom(name Name, out any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ok {
		return
	}
	s, err := inferSchema(name, out)
	if err != nil {
		return
	}
	r.resolved = s
	r.ok = true
}

// upstreamSchemaFor returns the upstream's resolved schema, or infers
// one from the element in hand so tuple arguments still unpack.
func upstreamSchemaFor(name Name, up node, v any) (Schema, error) {
	if s, ok := up.schema(); ok {
		return s, nil
	}
	s, err := inferSchema(name, v)
	if err != nil {
		return Schema{}, prependPath(err, name)
	}
	return s, nil
}

// Observability constants for the ParallelMap stage.
const (
	// Metrics.
	ParallelMapInvocationsTotal = metricz.Key("parallelmap.invocations.total")
	ParallelMapErrorsTotal      = metricz.Key("parallelmap.errors.total")
	ParallelMapInFlight         = metricz.Key("parallelmap.inflight")
	ParallelMapWorkersMax       = metricz.Key("parallelmap.workers.max")

	// Spans.
	ParallelMapInvokeSpan = tracez.Key("parallelmap.invoke")

	// Tags.
	ParallelMapTagStage = tracez.Tag("parallelmap.stage")
	ParallelMapTagError = tracez.Tag("parallelmap.error")
)

// ParallelMap is Map with up to parallelism concurrent invocations of
// fn. Output order matches input order exactly: results are delivered
// in the order their inputs were pulled, regardless of which invocation
// finishes first. At most parallelism elements are in flight, bounding
// memory. parallelism must be at least 1.
//
// # Observability
//
// ParallelMap carries its own instrumentation, reachable through the
// returned dataset's Metrics, Tracer, OnStageStarted and OnStageDrained:
//
// Metrics:
//   - parallelmap.invocations.total: Counter of user-function invocations
//   - parallelmap.errors.total: Counter of failed invocations
//   - parallelmap.inflight: Gauge of elements currently in flight
//   - parallelmap.workers.max: Gauge of the configured parallelism
//
// Traces:
//   - parallelmap.invoke: Span for each user-function invocation
//
// Events (via hooks):
//   - stage.started: Fired when the dispatcher goroutine launches
//   - stage.drained: Fired when the upstream runs dry
func (d *Dataset) ParallelMap(name Name, fn MapFunc, parallelism int) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if fn == nil {
		return failed(newError(KindInvalidArgument, name, "fn must not be nil"))
	}
	if parallelism < 1 {
		return failed(newError(KindInvalidArgument, name,
			"parallelism must be >= 1, got %d", parallelism))
	}
	n := &parallelMapNode{
		mapNode:     mapNode{nodeName: name, up: d.node, fn: fn},
		parallelism: parallelism,
		metrics:     metricz.New(),
		tracer:      tracez.New(),
		hooks:       hookz.New[StageEvent](),
	}
	n.metrics.Counter(ParallelMapInvocationsTotal)
	n.metrics.Counter(ParallelMapErrorsTotal)
	n.metrics.Gauge(ParallelMapInFlight)
	n.metrics.Gauge(ParallelMapWorkersMax).Set(float64(parallelism))
	return fromNode(n)
}

type parallelMapNode struct {
	mapNode
	parallelism int
	metrics     *metricz.Registry
	tracer      *tracez.Tracer
	hooks       *hookz.Hooks[StageEvent]
}

func (n *parallelMapNode) stageMetrics() *metricz.Registry      { return n.metrics }
func (n *parallelMapNode) stageTracer() *tracez.Tracer          { return n.tracer }
func (n *parallelMapNode) stageHooks() *hookz.Hooks[StageEvent] { return n.hooks }

// mapCall is one in-flight invocation. done closes when val/err are
// ready to read.
type mapCall struct {
	done chan struct{}
	val  any
	err  error
}

func (n *parallelMapNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	s := &parallelMapSource{
		node:   n,
		up:     up,
		cancel: cancel,
		calls:  make(chan *mapCall, n.parallelism),
	}
	go s.dispatch(workerCtx)
	_ = n.hooks.Emit(ctx, StageEventStarted, StageEvent{ //nolint:errcheck
		Stage:     n.nodeName,
		Timestamp: time.Now(),
	})
	return s, nil
}

type parallelMapSource struct {
	node   *parallelMapNode
	up     Source
	cancel context.CancelFunc
	calls  chan *mapCall
	final  error
	done   bool
}

// dispatch pulls the upstream sequentially and fans each element out to
// its own goroutine. The calls channel preserves pull order and its
// capacity bounds the number of elements in flight; a terminal call
// carrying the upstream's error ends the stream.
func (s *parallelMapSource) dispatch(ctx context.Context) {
	defer close(s.calls)
	n := s.node
	dispatched := int64(0)
	for {
		v, err := s.up.Next(ctx)
		if err != nil {
			if IsOutOfRange(err) {
				_ = n.hooks.Emit(ctx, StageEventDrained, StageEvent{ //nolint:errcheck
					Stage:     n.nodeName,
					Elements:  dispatched,
					Timestamp: time.Now(),
				})
			}
			call := &mapCall{done: make(chan struct{}), err: prependPath(err, n.nodeName)}
			close(call.done)
			select {
			case s.calls <- call:
			case <-ctx.Done():
			}
			return
		}
		upSchema, err := upstreamSchemaFor(s.node.nodeName, s.node.up, v)
		if err != nil {
			call := &mapCall{done: make(chan struct{}), err: err}
			close(call.done)
			select {
			case s.calls <- call:
			case <-ctx.Done():
			}
			return
		}
		call := &mapCall{done: make(chan struct{})}
		select {
		case s.calls <- call:
		case <-ctx.Done():
			close(call.done)
			return
		}
		dispatched++
		n.metrics.Gauge(ParallelMapInFlight).Set(float64(len(s.calls)))
		go func(in any) {
			defer close(call.done)
			spanCtx, span := n.tracer.StartSpan(ctx, ParallelMapInvokeSpan)
			span.SetTag(ParallelMapTagStage, string(n.nodeName))
			call.val, call.err = n.invoke(spanCtx, upSchema, in)
			n.metrics.Counter(ParallelMapInvocationsTotal).Inc()
			if call.err != nil {
				n.metrics.Counter(ParallelMapErrorsTotal).Inc()
				span.SetTag(ParallelMapTagError, call.err.Error())
			}
			span.Finish()
		}(v)
	}
}

func (s *parallelMapSource) Next(ctx context.Context) (any, error) {
	if s.done {
		if s.final != nil {
			return nil, s.final
		}
		return nil, outOfRange(s.node.nodeName)
	}
	select {
	case call, ok := <-s.calls:
		if !ok {
			s.done = true
			return nil, outOfRange(s.node.nodeName)
		}
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, prependPath(ctx.Err(), s.node.nodeName)
		}
		if call.err != nil {
			s.done = true
			s.final = call.err
			return nil, call.err
		}
		s.node.metrics.Gauge(ParallelMapInFlight).Set(float64(len(s.calls)))
		s.node.resolver.resolveFrom(s.node.nodeName, call.val)
		return call.val, nil
	case <-ctx.Done():
		return nil, prependPath(ctx.Err(), s.node.nodeName)
	}
}

func (s *parallelMapSource) Close() error {
	s.cancel()
	for range s.calls {
		// Drain so the dispatcher can exit.
	}
	s.done = true
	return s.up.Close()
}
