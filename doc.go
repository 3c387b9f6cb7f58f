// Package flume provides a composable, lazily-evaluated input-pipeline
// library for Go.
//
// # Overview
//
// flume lets you describe a chain of declarative transformations (map,
// filter, batch, shuffle, interleave, cache, prefetch, shard) over a
// conceptually unbounded sequence of typed, shaped elements. Building a
// pipeline executes nothing; the description is an immutable graph that
// can be queried for its element schema and reused. Elements flow only
// when an Iterator pulls from the terminal dataset.
//
// # Core Concepts
//
//   - Dataset: an immutable description of a pipeline. Every
//     transformation method returns a new Dataset; upstream datasets may
//     be shared by several downstream ones (zip and concatenate form a
//     DAG, not a tree).
//   - Schema: the nested type+shape signature of one element. Every
//     dataset knows the schema it produces without executing anything.
//   - Iterator: a stateful cursor bound to a dataset graph. Pulling from
//     the iterator drives each node to pull from its upstreams and apply
//     its own transformation.
//
// # Quick Start
//
//	ds := flume.Range("ids", 0, 1000).
//	    Shuffle("shuffle", 128, 42).
//	    Map("square", func(_ context.Context, args ...any) (any, error) {
//	        n := args[0].(int64)
//	        return n * n, nil
//	    }).
//	    Batch("batch", 32).
//	    Prefetch("prefetch", 4)
//
//	if err := ds.Err(); err != nil {
//	    return err
//	}
//	it := flume.NewOneShotIterator("train", ds)
//	defer it.Close()
//
//	for {
//	    elem, err := it.Next(ctx)
//	    if flume.IsOutOfRange(err) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    consume(elem)
//	}
//
// # Elements and Schemas
//
// Elements are dynamically typed: scalars (int64, float64, string, bool,
// []byte), typed slices of them for higher ranks, and Tuple / Record for
// composites. Inputs are normalized on entry, so plain Go ints are fine.
// A dataset whose schema root is a tuple spreads its components across
// the arguments of user functions; any other element arrives as a single
// structured argument.
//
// # Concurrency
//
// Construction is synchronous and pull iteration is blocking. Only
// ParallelMap and Prefetch introduce background workers; both preserve
// the exact output order of the sequential pipeline and apply
// backpressure through bounded buffers. Closing an iterator tears the
// workers down.
//
// # Errors
//
// All failures carry a Kind and the path of named stages they traveled
// through (see Error). Exhaustion is signaled by an OutOfRange error,
// the expected end of iteration (recognized with IsOutOfRange), and is
// never retried automatically.
package flume
