package flume

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Prefetch stage.
const (
	// Metrics.
	PrefetchElementsTotal  = metricz.Key("prefetch.elements.total")
	PrefetchErrorsTotal    = metricz.Key("prefetch.errors.total")
	PrefetchBufferDepth    = metricz.Key("prefetch.buffer.depth")
	PrefetchBufferCapacity = metricz.Key("prefetch.buffer.capacity")

	// Spans.
	PrefetchProduceSpan = tracez.Key("prefetch.produce")

	// Tags.
	PrefetchTagStage = tracez.Tag("prefetch.stage")
	PrefetchTagError = tracez.Tag("prefetch.error")
)

// Prefetch creates a dataset that pulls up to bufferSize elements ahead
// of the consumer on a background goroutine, overlapping upstream work
// with downstream processing. Element order is unchanged. bufferSize
// must be at least 1.
//
// # Observability
//
// Prefetch carries its own instrumentation, reachable through the
// returned dataset's Metrics, Tracer, OnStageStarted and OnStageDrained:
//
// Metrics:
//   - prefetch.elements.total: Counter of elements buffered
//   - prefetch.errors.total: Counter of upstream failures
//   - prefetch.buffer.depth: Gauge of currently buffered elements
//   - prefetch.buffer.capacity: Gauge of the configured buffer size
//
// Traces:
//   - prefetch.produce: Span for each upstream pull
//
// Events (via hooks):
//   - stage.started: Fired when the producer goroutine launches
//   - stage.drained: Fired when the upstream runs dry
func (d *Dataset) Prefetch(name Name, bufferSize int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if bufferSize < 1 {
		return failed(newError(KindInvalidArgument, name,
			"bufferSize must be >= 1, got %d", bufferSize))
	}
	n := &prefetchNode{
		nodeName:   name,
		up:         d.node,
		bufferSize: bufferSize,
		metrics:    metricz.New(),
		tracer:     tracez.New(),
		hooks:      hookz.New[StageEvent](),
	}
	n.metrics.Counter(PrefetchElementsTotal)
	n.metrics.Counter(PrefetchErrorsTotal)
	n.metrics.Gauge(PrefetchBufferDepth)
	n.metrics.Gauge(PrefetchBufferCapacity).Set(float64(bufferSize))
	return fromNode(n)
}

type prefetchNode struct {
	nodeName   Name
	up         node
	bufferSize int64
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[StageEvent]
}

func (n *prefetchNode) name() Name             { return n.nodeName }
func (n *prefetchNode) schema() (Schema, bool) { return n.up.schema() }

func (n *prefetchNode) stageMetrics() *metricz.Registry      { return n.metrics }
func (n *prefetchNode) stageTracer() *tracez.Tracer          { return n.tracer }
func (n *prefetchNode) stageHooks() *hookz.Hooks[StageEvent] { return n.hooks }

func (n *prefetchNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	s := &prefetchSource{
		node:   n,
		up:     up,
		cancel: cancel,
		items:  make(chan prefetchItem, n.bufferSize),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.produce(workerCtx)
	_ = n.hooks.Emit(ctx, StageEventStarted, StageEvent{ //nolint:errcheck
		Stage:     n.nodeName,
		Timestamp: time.Now(),
	})
	return s, nil
}

type prefetchItem struct {
	val any
	err error
}

type prefetchSource struct {
	node   *prefetchNode
	up     Source
	cancel context.CancelFunc
	items  chan prefetchItem
	stop   chan struct{}
	exited chan struct{}
	final  error
}

// produce fills the buffer until the upstream ends or Close asks it to
// stop. The terminal item carries the upstream's error; the channel
// close after it marks the end of the stream.
func (s *prefetchSource) produce(ctx context.Context) {
	defer close(s.exited)
	defer close(s.items)
	n := s.node
	produced := int64(0)
	for {
		pullCtx, span := n.tracer.StartSpan(ctx, PrefetchProduceSpan)
		span.SetTag(PrefetchTagStage, string(n.nodeName))
		v, err := s.up.Next(pullCtx)
		item := prefetchItem{val: v}
		if err != nil {
			item = prefetchItem{err: prependPath(err, n.nodeName)}
			if IsOutOfRange(err) {
				_ = n.hooks.Emit(ctx, StageEventDrained, StageEvent{ //nolint:errcheck
					Stage:     n.nodeName,
					Elements:  produced,
					Timestamp: time.Now(),
				})
			} else {
				n.metrics.Counter(PrefetchErrorsTotal).Inc()
				span.SetTag(PrefetchTagError, err.Error())
			}
		}
		span.Finish()
		select {
		case s.items <- item:
		case <-s.stop:
			return
		}
		if err != nil {
			return
		}
		produced++
		n.metrics.Counter(PrefetchElementsTotal).Inc()
		n.metrics.Gauge(PrefetchBufferDepth).Set(float64(len(s.items)))
	}
}

func (s *prefetchSource) Next(ctx context.Context) (any, error) {
	if s.final != nil {
		return nil, s.final
	}
	select {
	case item, ok := <-s.items:
		if !ok {
			s.final = outOfRange(s.node.nodeName)
			return nil, s.final
		}
		if item.err != nil {
			s.final = item.err
			return nil, item.err
		}
		s.node.metrics.Gauge(PrefetchBufferDepth).Set(float64(len(s.items)))
		return item.val, nil
	case <-ctx.Done():
		return nil, prependPath(ctx.Err(), s.node.nodeName)
	}
}

func (s *prefetchSource) Close() error {
	s.cancel()
	close(s.stop)
	<-s.exited
	return s.up.Close()
}
