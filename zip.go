package flume

import "context"

// Zip creates a dataset over the given datasets pulled in lockstep,
// producing tuple elements that preserve the order the caller supplied.
// The zipped dataset ends with its shortest input:
//
//	a := flume.FromValues("a", 1, 2, 3)
//	b := flume.FromValues("b", 4, 5, 6, 7)
//	flume.Zip("ab", a, b) // (1,4), (2,5), (3,6)
//
// Upstream datasets may be shared with other downstream nodes; zipping
// never consumes or mutates its inputs.
func Zip(name Name, datasets ...*Dataset) *Dataset {
	if len(datasets) == 0 {
		return failed(newError(KindInvalidArgument, name, "at least one dataset is required"))
	}
	ups := make([]node, len(datasets))
	for i, d := range datasets {
		if d.err != nil {
			return d
		}
		ups[i] = d.node
	}
	return fromNode(&zipNode{nodeName: name, ups: ups})
}

type zipNode struct {
	nodeName Name
	ups      []node
}

func (n *zipNode) name() Name { return n.nodeName }

func (n *zipNode) schema() (Schema, bool) {
	elems := make([]Schema, len(n.ups))
	for i, up := range n.ups {
		s, ok := up.schema()
		if !ok {
			return Schema{}, false
		}
		elems[i] = s
	}
	return TupleOf(elems...), true
}

func (n *zipNode) open(ctx context.Context) (Source, error) {
	srcs := make([]Source, len(n.ups))
	for i, up := range n.ups {
		src, err := up.open(ctx)
		if err != nil {
			for _, opened := range srcs[:i] {
				opened.Close()
			}
			return nil, prependPath(err, n.nodeName)
		}
		srcs[i] = src
	}
	return &zipSource{node: n, srcs: srcs}, nil
}

type zipSource struct {
	node *zipNode
	srcs []Source
	done bool
}

func (s *zipSource) Next(ctx context.Context) (any, error) {
	if s.done {
		return nil, outOfRange(s.node.nodeName)
	}
	out := make(Tuple, len(s.srcs))
	for i, src := range s.srcs {
		v, err := src.Next(ctx)
		if err != nil {
			if IsOutOfRange(err) {
				s.done = true
				return nil, outOfRange(s.node.nodeName)
			}
			return nil, prependPath(err, s.node.nodeName)
		}
		out[i] = v
	}
	return out, nil
}

func (s *zipSource) Close() error {
	var first error
	for _, src := range s.srcs {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
