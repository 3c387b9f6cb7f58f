package flume

import "context"

// PaddedBatch creates a dataset grouping runs of batchSize elements
// like Batch, but padding each leaf out to a common shape first so
// variable-size elements can still be stacked.
//
// paddedShapes gives one target shape per flattened leaf, in the
// schema's pre-order; a dimension of UnknownDim pads to the largest
// size seen in that batch. A nil paddedShapes pads every dimension of
// every leaf to the batch maximum. padValues gives one padding scalar
// per leaf; nil falls back to the dtype's zero value ("" for strings,
// empty for bytes).
//
// A final batch smaller than batchSize is still emitted.
func (d *Dataset) PaddedBatch(name Name, batchSize int64, paddedShapes []Shape, padValues []any) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if batchSize < 1 {
		return failed(newError(KindInvalidArgument, name,
			"batchSize must be >= 1, got %d", batchSize))
	}
	n := &paddedBatchNode{
		nodeName:  name,
		up:        d.node,
		batchSize: batchSize,
		shapes:    clonePaddedShapes(paddedShapes),
		pads:      padValues,
	}
	if up, ok := d.node.schema(); ok {
		if err := n.validateAgainst(up); err != nil {
			return failed(asError(err, name))
		}
	}
	return fromNode(n)
}

func clonePaddedShapes(shapes []Shape) []Shape {
	if shapes == nil {
		return nil
	}
	out := make([]Shape, len(shapes))
	for i, s := range shapes {
		out[i] = s.clone()
	}
	return out
}

type paddedBatchNode struct {
	nodeName  Name
	up        node
	batchSize int64
	shapes    []Shape
	pads      []any
}

func (n *paddedBatchNode) name() Name { return n.nodeName }

// validateAgainst checks the padding arguments against a resolved
// upstream schema: shape count and ranks must line up and each pad
// value must match its leaf's dtype.
func (n *paddedBatchNode) validateAgainst(up Schema) error {
	leaves := up.Flatten()
	if n.shapes != nil {
		if len(n.shapes) != len(leaves) {
			return newError(KindInvalidArgument, n.nodeName,
				"%d padded shapes for %d leaves", len(n.shapes), len(leaves))
		}
		for i, s := range n.shapes {
			if s.Rank() != leaves[i].shape.Rank() {
				return newError(KindShapeMismatch, n.nodeName,
					"padded shape %s has rank %d, leaf %d has rank %d",
					s, s.Rank(), i, leaves[i].shape.Rank())
			}
		}
	}
	if n.pads != nil {
		if len(n.pads) != len(leaves) {
			return newError(KindInvalidArgument, n.nodeName,
				"%d pad values for %d leaves", len(n.pads), len(leaves))
		}
		for i, p := range n.pads {
			norm, err := normalizeValue(n.nodeName, p)
			if err != nil {
				return err
			}
			got, err := inferSchema(n.nodeName, norm)
			if err != nil {
				return err
			}
			if got.shape.Rank() != 0 || got.dtype != leaves[i].dtype {
				return newError(KindTypeMismatch, n.nodeName,
					"pad value %d is %s, leaf is %s", i, got, leaves[i])
			}
		}
	}
	return nil
}

func (n *paddedBatchNode) schema() (Schema, bool) {
	up, ok := n.up.schema()
	if !ok {
		return Schema{}, false
	}
	i := 0
	return up.mapLeaves(func(leaf Schema) Schema {
		target := n.targetShape(i, leaf.shape)
		i++
		return Leaf(leaf.dtype, append(Shape{UnknownDim}, target...))
	}), true
}

// targetShape is the declared padded shape for leaf i, or the leaf's
// own shape with every dimension unknown when no shapes were given.
func (n *paddedBatchNode) targetShape(i int, leafShape Shape) Shape {
	if n.shapes != nil {
		return n.shapes[i].clone()
	}
	out := make(Shape, leafShape.Rank())
	for d := range out {
		out[d] = UnknownDim
	}
	return out
}

func (n *paddedBatchNode) open(ctx context.Context) (Source, error) {
	upSchema, ok := n.up.schema()
	if ok {
		if err := n.validateAgainst(upSchema); err != nil {
			return nil, err
		}
	}
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
			return n.padAndStack(elems)
		},
		closeFn: up.Close,
	}, nil
}

func (n *paddedBatchNode) padAndStack(elems []any) (any, error) {
	elemSchema, ok := n.up.schema()
	if !ok {
		inferred, err := inferSchema(n.nodeName, elems[0])
		if err != nil {
			return nil, prependPath(err, n.nodeName)
		}
		elemSchema = inferred
		if err := n.validateAgainst(elemSchema); err != nil {
			return nil, err
		}
	}
	leaves := elemSchema.Flatten()
	columns := make([][]any, len(leaves))
	for _, e := range elems {
		flat, err := flattenValue(n.nodeName, elemSchema, e)
		if err != nil {
			return nil, err
		}
		for i, leaf := range flat {
			columns[i] = append(columns[i], leaf)
		}
	}
	stacked := make([]any, len(leaves))
	for i, col := range columns {
		dims, err := n.resolveDims(i, leaves[i], col)
		if err != nil {
			return nil, err
		}
		pad := n.padValue(i, leaves[i].dtype)
		padded := make([]any, len(col))
		for j, leaf := range col {
			p, err := padLeaf(n.nodeName, leaf, dims, pad)
			if err != nil {
				return nil, err
			}
			padded[j] = p
		}
		s, err := stackValues(n.nodeName, padded)
		if err != nil {
			return nil, err
		}
		stacked[i] = s
	}
	return packValue(n.nodeName, elemSchema, stacked)
}

// resolveDims turns a leaf's target shape into concrete sizes for one
// batch, replacing unknown dimensions with the batch maximum.
func (n *paddedBatchNode) resolveDims(i int, leaf Schema, col []any) ([]int64, error) {
	target := n.targetShape(i, leaf.shape)
	dims := make([]int64, target.Rank())
	for d, size := range target {
		if size != UnknownDim {
			dims[d] = size
			continue
		}
		max := int64(0)
		for _, v := range col {
			got, err := inferSchema(n.nodeName, v)
			if err != nil {
				return nil, err
			}
			if got.shape.Rank() <= d {
				return nil, newError(KindShapeMismatch, n.nodeName,
					"element of rank %d cannot pad to rank %d", got.shape.Rank(), target.Rank())
			}
			if got.shape[d] > max {
				max = got.shape[d]
			}
		}
		dims[d] = max
	}
	return dims, nil
}

func (n *paddedBatchNode) padValue(i int, dtype DType) any {
	if n.pads == nil {
		return zeroScalar(dtype)
	}
	norm, err := normalizeValue(n.nodeName, n.pads[i])
	if err != nil {
		return zeroScalar(dtype)
	}
	return norm
}
