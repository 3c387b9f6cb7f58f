package flume

import "context"

// Repeat creates a dataset producing d's elements count times over.
// Each pass re-opens the upstream from its start. A negative count
// repeats forever; zero yields an empty dataset.
func (d *Dataset) Repeat(name Name, count int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	return fromNode(&repeatNode{nodeName: name, up: d.node, count: count})
}

type repeatNode struct {
	nodeName Name
	up       node
	count    int64
}

func (n *repeatNode) name() Name             { return n.nodeName }
func (n *repeatNode) schema() (Schema, bool) { return n.up.schema() }

func (n *repeatNode) open(ctx context.Context) (Source, error) {
	// The open-time context is retained to re-open the upstream at each
	// epoch boundary.
	return &repeatSource{node: n, openCtx: ctx}, nil
}

type repeatSource struct {
	node    *repeatNode
	openCtx context.Context
	current Source
	epoch   int64
	done    bool
}

func (s *repeatSource) Next(ctx context.Context) (any, error) {
	if s.done {
		return nil, outOfRange(s.node.nodeName)
	}
	for {
		if s.current == nil {
			if s.node.count >= 0 && s.epoch >= s.node.count {
				s.done = true
				return nil, outOfRange(s.node.nodeName)
			}
			src, err := s.node.up.open(s.openCtx)
			if err != nil {
				return nil, prependPath(err, s.node.nodeName)
			}
			s.current = src
			s.epoch++
		}
		v, err := s.current.Next(ctx)
		if err == nil {
			return v, nil
		}
		if !IsOutOfRange(err) {
			return nil, prependPath(err, s.node.nodeName)
		}
		s.current.Close()
		s.current = nil
	}
}

func (s *repeatSource) Close() error {
	s.done = true
	if s.current != nil {
		return s.current.Close()
	}
	return nil
}
