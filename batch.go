package flume

import "context"

// Batch creates a dataset grouping consecutive runs of batchSize
// elements into single elements whose leaves gain a leading batch
// dimension. A final batch smaller than batchSize is still emitted, so
// the batch dimension is statically unknown. batchSize must be at
// least 1.
//
// Every leaf in a batch must have identical dimensions; ragged inputs
// fail at iteration with ShapeMismatch. Use PaddedBatch for variable
// shapes.
func (d *Dataset) Batch(name Name, batchSize int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if batchSize < 1 {
		return failed(newError(KindInvalidArgument, name,
			"batchSize must be >= 1, got %d", batchSize))
	}
	return fromNode(&batchNode{nodeName: name, up: d.node, batchSize: batchSize})
}

type batchNode struct {
	nodeName  Name
	up        node
	batchSize int64
}

func (n *batchNode) name() Name { return n.nodeName }

func (n *batchNode) schema() (Schema, bool) {
	up, ok := n.up.schema()
	if !ok {
		return Schema{}, false
	}
	return up.mapLeaves(func(leaf Schema) Schema {
		return Leaf(leaf.dtype, append(Shape{UnknownDim}, leaf.shape...))
	}), true
}

func (n *batchNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	done := false
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if done {
				return nil, outOfRange(n.nodeName)
			}
			elems, err := collectBatch(ctx, n.nodeName, up, n.batchSize)
			if err != nil {
				done = true
				return nil, err
			}
			if int64(len(elems)) < n.batchSize {
				done = true
			}
			if len(elems) == 0 {
				return nil, outOfRange(n.nodeName)
			}
			return stackBatch(n.nodeName, n.up, elems)
		},
		closeFn: up.Close,
	}, nil
}

// collectBatch pulls up to batchSize elements, stopping early when the
// upstream exhausts. Upstream errors other than exhaustion propagate.
func collectBatch(ctx context.Context, name Name, up Source, batchSize int64) ([]any, error) {
	elems := make([]any, 0, batchSize)
	for int64(len(elems)) < batchSize {
		v, err := up.Next(ctx)
		if err != nil {
			if IsOutOfRange(err) {
				break
			}
			return nil, prependPath(err, name)
		}
		elems = append(elems, v)
	}
	return elems, nil
}

// stackBatch joins the batch's elements leaf-wise, prepending the batch
// dimension to every leaf.
func stackBatch(name Name, up node, elems []any) (any, error) {
	elemSchema, ok := up.schema()
	if !ok {
		inferred, err := inferSchema(name, elems[0])
		if err != nil {
			return nil, prependPath(err, name)
		}
		elemSchema = inferred
	}
	numLeaves := len(elemSchema.Flatten())
	columns := make([][]any, numLeaves)
	for _, e := range elems {
		leaves, err := flattenValue(name, elemSchema, e)
		if err != nil {
			return nil, err
		}
		for i, leaf := range leaves {
			columns[i] = append(columns[i], leaf)
		}
	}
	stacked := make([]any, numLeaves)
	for i, col := range columns {
		// Stacking a typed slice tolerates ragged lengths, so dimensions
		// are checked explicitly.
		var first Schema
		for j, leaf := range col {
			got, err := inferSchema(name, leaf)
			if err != nil {
				return nil, prependPath(err, name)
			}
			if j == 0 {
				first = got
				continue
			}
			if !got.Equal(first) {
				return nil, newError(KindShapeMismatch, name,
					"cannot batch %s with %s; use PaddedBatch for ragged elements", first, got)
			}
		}
		s, err := stackValues(name, col)
		if err != nil {
			return nil, err
		}
		stacked[i] = s
	}
	return packValue(name, elemSchema, stacked)
}
