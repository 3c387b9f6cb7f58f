package flume

import (
	"context"
	"reflect"
)

// FromValues creates a dataset whose elements are exactly the given
// values, in order. Values are normalized on entry; every element must
// share the structure and leaf types of the first, and differing leaf
// dimensions widen the schema to unknown.
//
//	ds := flume.FromValues("words", "lazily", "materialized")
func FromValues(name Name, values ...any) *Dataset {
	if len(values) == 0 {
		return failed(newError(KindInvalidArgument, name, "at least one value is required"))
	}
	elems := make([]any, len(values))
	var schema Schema
	for i, v := range values {
		norm, err := normalizeValue(name, v)
		if err != nil {
			return failed(prependPath(err, name))
		}
		elems[i] = norm
		got, err := inferSchema(name, norm)
		if err != nil {
			return failed(prependPath(err, name))
		}
		if i == 0 {
			schema = got
			continue
		}
		widened, err := widenSchemas(schema, got)
		if err != nil {
			return failed(prependPath(err, name))
		}
		schema = widened
	}
	return fromNode(&valuesNode{nodeName: name, elems: elems, sch: schema})
}

type valuesNode struct {
	nodeName Name
	elems    []any
	sch      Schema
}

func (n *valuesNode) name() Name             { return n.nodeName }
func (n *valuesNode) schema() (Schema, bool) { return n.sch, true }

func (n *valuesNode) open(context.Context) (Source, error) {
	pos := 0
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, n.nodeName); err != nil {
				return nil, err
			}
			if pos >= len(n.elems) {
				return nil, outOfRange(n.nodeName)
			}
			v := n.elems[pos]
			pos++
			return v, nil
		},
	}, nil
}

// FromSlices creates a dataset whose elements are slices of the given
// value along its first dimension. Every leaf must have rank at least
// one, and all leaves must agree on the leading dimension.
//
//	// three elements: (1, "a"), (2, "b"), (3, "c")
//	ds := flume.FromSlices("pairs", flume.Tuple{
//	    []int64{1, 2, 3},
//	    []string{"a", "b", "c"},
//	})
func FromSlices(name Name, value any) *Dataset {
	norm, err := normalizeValue(name, value)
	if err != nil {
		return failed(prependPath(err, name))
	}
	full, err := inferSchema(name, norm)
	if err != nil {
		return failed(prependPath(err, name))
	}
	leaves, err := flattenValue(name, full, norm)
	if err != nil {
		return failed(prependPath(err, name))
	}
	if len(leaves) == 0 {
		return failed(newError(KindInvalidArgument, name, "at least one component is required"))
	}
	count := int64(-1)
	for _, leaf := range full.Flatten() {
		if leaf.Shape().Rank() == 0 {
			return failed(newError(KindInvalidArgument, name,
				"every component must have rank >= 1 to slice"))
		}
		dim := leaf.Shape()[0]
		if count == -1 {
			count = dim
		} else if dim != count {
			return failed(newError(KindInvalidArgument, name,
				"components disagree on leading dimension: %d vs %d", count, dim))
		}
	}
	sliced := full.mapLeaves(func(leaf Schema) Schema {
		return Leaf(leaf.DType(), leaf.Shape()[1:])
	})
	elems := make([]any, count)
	for i := int64(0); i < count; i++ {
		row := make([]any, len(leaves))
		for j, leaf := range leaves {
			row[j] = reflect.ValueOf(leaf).Index(int(i)).Interface()
		}
		packed, err := packValue(name, sliced, row)
		if err != nil {
			return failed(prependPath(err, name))
		}
		elems[i] = packed
	}
	return fromNode(&valuesNode{nodeName: name, elems: elems, sch: sliced})
}
