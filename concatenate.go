package flume

import "context"

// Concatenate creates a dataset producing all of d's elements followed
// by all of other's. Both datasets must have identical structure and
// leaf types (StructureMismatch/TypeMismatch otherwise); leaf shapes
// that disagree widen to unknown dimensions in the combined schema.
func (d *Dataset) Concatenate(name Name, other *Dataset) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if other.err != nil {
		return other
	}
	n := &concatenateNode{nodeName: name, first: d.node, second: other.node}
	// Validate eagerly when both schemas are statically known.
	a, aOK := d.node.schema()
	b, bOK := other.node.schema()
	if aOK && bOK {
		merged, err := widenSchemas(a, b)
		if err != nil {
			return failed(prependPath(err, name))
		}
		n.merged = &merged
	}
	return fromNode(n)
}

type concatenateNode struct {
	nodeName Name
	first    node
	second   node
	merged   *Schema
}

func (n *concatenateNode) name() Name { return n.nodeName }

func (n *concatenateNode) schema() (Schema, bool) {
	if n.merged != nil {
		return *n.merged, true
	}
	a, aOK := n.first.schema()
	b, bOK := n.second.schema()
	if !aOK || !bOK {
		return Schema{}, false
	}
	merged, err := widenSchemas(a, b)
	if err != nil {
		return Schema{}, false
	}
	return merged, true
}

func (n *concatenateNode) open(ctx context.Context) (Source, error) {
	// Schemas resolved by now must still agree; dynamic upstreams skip
	// the construction-time check.
	if n.merged == nil {
		a, aOK := n.first.schema()
		b, bOK := n.second.schema()
		if aOK && bOK {
			if _, err := widenSchemas(a, b); err != nil {
				return nil, prependPath(err, n.nodeName)
			}
		}
	}
	first, err := n.first.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	second, err := n.second.open(ctx)
	if err != nil {
		first.Close()
		return nil, prependPath(err, n.nodeName)
	}
	return &concatenateSource{node: n, srcs: []Source{first, second}}, nil
}

type concatenateSource struct {
	node *concatenateNode
	srcs []Source
	pos  int
}

func (s *concatenateSource) Next(ctx context.Context) (any, error) {
	for s.pos < len(s.srcs) {
		v, err := s.srcs[s.pos].Next(ctx)
		if err == nil {
			return v, nil
		}
		if !IsOutOfRange(err) {
			return nil, prependPath(err, s.node.nodeName)
		}
		s.pos++
	}
	return nil, outOfRange(s.node.nodeName)
}

func (s *concatenateSource) Close() error {
	var first error
	for _, src := range s.srcs {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
