package flume

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Name is a type alias for dataset and iterator names. Using this type
// encourages storing names as constants rather than inline strings.
//
// Example:
//
//	const (
//	    RecordsDataset   Name = "records"
//	    TrainingIterator Name = "training-iterator"
//	)
type Name = string

// Source is one materialized cursor over a dataset node. Next returns
// the next element, or an OutOfRange error once the sequence ends; the
// OutOfRange signal is sticky. Close releases the cursor's resources and
// stops any background workers it started. A Source is not safe for
// concurrent use; each consumer opens its own.
type Source interface {
	Next(ctx context.Context) (any, error)
	Close() error
}

// node is one immutable transformation step in a dataset's lazy
// description. Opening a node materializes its execution state, pulling
// open cursors from its upstream nodes bottom-up.
type node interface {
	name() Name

	// schema returns the node's output schema. ok is false while a
	// dynamic node (map, flat-map, interleave) has not yet resolved its
	// schema by invoking the user function.
	schema() (Schema, bool)

	// open materializes a fresh cursor over this node.
	open(ctx context.Context) (Source, error)
}

// Dataset is an immutable, lazily-materialized description of an input
// pipeline. Chaining transformation methods builds a new description
// without executing anything; elements only flow once an Iterator pulls
// from the terminal dataset.
//
// Construction errors are sticky: an invalid parameter poisons the
// chained dataset, Err reports the first failure, and iterator creation
// refuses poisoned graphs. This keeps chains fluent while still failing
// at construction time rather than at first pull:
//
//	ds := flume.Range("ids", 0, 1000).
//	    Shard("worker", 4, workerIndex).
//	    Shuffle("shuffle", 128, seed).
//	    Batch("batch", 32)
//	if err := ds.Err(); err != nil {
//	    return err
//	}
type Dataset struct {
	node node
	err  *Error
}

// fromNode wraps a node into a Dataset handle.
func fromNode(n node) *Dataset {
	return &Dataset{node: n}
}

// failed returns a poisoned Dataset carrying a construction error.
func failed(err *Error) *Dataset {
	return &Dataset{err: err}
}

// Err returns the first construction error in the chain, or nil.
func (d *Dataset) Err() error {
	if d.err != nil {
		return d.err
	}
	return nil
}

// Name returns the name of the terminal node.
func (d *Dataset) Name() Name {
	if d.node == nil {
		return ""
	}
	return d.node.name()
}

// Schema returns the output schema of the terminal node. ok is false
// while a dynamic node has not resolved its schema yet; it becomes true
// permanently once the node's user function has been invoked once.
func (d *Dataset) Schema() (Schema, bool) {
	if d.node == nil {
		return Schema{}, false
	}
	return d.node.schema()
}

// open materializes a cursor over the whole graph.
func (d *Dataset) open(ctx context.Context) (Source, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.node.open(ctx)
}

// chainErr collapses a receiver's sticky error into the new stage.
func (d *Dataset) chainErr() *Dataset {
	if d.err != nil {
		return d
	}
	return nil
}

// Hook event keys shared by instrumented background stages.
const (
	// StageEventStarted fires when a stage launches its background
	// workers, once per open cursor.
	StageEventStarted = hookz.Key("stage.started")

	// StageEventDrained fires when a stage's upstream runs dry.
	StageEventDrained = hookz.Key("stage.drained")
)

// StageEvent represents a background stage lifecycle event. It is
// emitted via hookz when a stage launches its workers or when its
// upstream exhausts, providing visibility into pipeline progress
// without polling.
type StageEvent struct {
	Stage     Name      // Stage name
	Elements  int64     // Elements the stage had handled when the event fired
	Timestamp time.Time // When the event occurred
}

// observedNode is implemented by nodes carrying their own metrics,
// tracer and hooks. Only the background stages (ParallelMap, Prefetch)
// do; pure pull stages stay plain.
type observedNode interface {
	stageMetrics() *metricz.Registry
	stageTracer() *tracez.Tracer
	stageHooks() *hookz.Hooks[StageEvent]
}

// Metrics returns the metric registry of the terminal stage, or nil
// when that stage carries no instrumentation.
func (d *Dataset) Metrics() *metricz.Registry {
	if n, ok := d.node.(observedNode); ok {
		return n.stageMetrics()
	}
	return nil
}

// Tracer returns the tracer of the terminal stage, or nil when that
// stage carries no instrumentation.
func (d *Dataset) Tracer() *tracez.Tracer {
	if n, ok := d.node.(observedNode); ok {
		return n.stageTracer()
	}
	return nil
}

// OnStageStarted registers a handler fired when the terminal stage
// launches its background workers. It fails when the terminal stage
// carries no instrumentation.
func (d *Dataset) OnStageStarted(handler func(context.Context, StageEvent) error) error {
	n, ok := d.node.(observedNode)
	if !ok {
		return newError(KindInvalidArgument, d.Name(), "stage carries no instrumentation")
	}
	_, err := n.stageHooks().Hook(StageEventStarted, handler)
	return err
}

// OnStageDrained registers a handler fired when the terminal stage's
// upstream runs dry. The event carries the stage's element count.
func (d *Dataset) OnStageDrained(handler func(context.Context, StageEvent) error) error {
	n, ok := d.node.(observedNode)
	if !ok {
		return newError(KindInvalidArgument, d.Name(), "stage carries no instrumentation")
	}
	_, err := n.stageHooks().Hook(StageEventDrained, handler)
	return err
}

// Close shuts down the terminal stage's observability components.
// Datasets whose terminal stage carries none have nothing to release.
func (d *Dataset) Close() error {
	if n, ok := d.node.(observedNode); ok {
		n.stageTracer().Close()
		n.stageHooks().Close()
	}
	return nil
}

// sourceFunc adapts a pair of closures into a Source.
type sourceFunc struct {
	next    func(ctx context.Context) (any, error)
	closeFn func() error
}

func (s *sourceFunc) Next(ctx context.Context) (any, error) {
	return s.next(ctx)
}

func (s *sourceFunc) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// checkCtx converts context expiry into a path-tagged error before a
// stage starts work on the next element.
func checkCtx(ctx context.Context, name Name) error {
	select {
	case <-ctx.Done():
		return prependPath(ctx.Err(), name)
	default:
		return nil
	}
}
