package flume

import (
	"context"
	"math/rand"
)

// Shuffle creates a dataset yielding d's elements in pseudo-random
// order. A sliding buffer of bufferSize elements is kept filled from
// the upstream; each output is drawn uniformly from the buffer and its
// slot refilled. A bufferSize at least the dataset's length gives a
// full uniform shuffle; smaller buffers trade memory for locality.
//
// The same seed over the same upstream reproduces the same order on
// every iteration. bufferSize must be at least 1.
func (d *Dataset) Shuffle(name Name, bufferSize, seed int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if bufferSize < 1 {
		return failed(newError(KindInvalidArgument, name,
			"bufferSize must be >= 1, got %d", bufferSize))
	}
	return fromNode(&shuffleNode{nodeName: name, up: d.node, bufferSize: bufferSize, seed: seed})
}

type shuffleNode struct {
	nodeName   Name
	up         node
	bufferSize int64
	seed       int64
}

func (n *shuffleNode) name() Name             { return n.nodeName }
func (n *shuffleNode) schema() (Schema, bool) { return n.up.schema() }

func (n *shuffleNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	return &shuffleSource{
		node: n,
		up:   up,
		rng:  rand.New(rand.NewSource(n.seed)),
	}, nil
}

type shuffleSource struct {
	node      *shuffleNode
	up        Source
	rng       *rand.Rand
	buf       []any
	filled    bool
	exhausted bool
}

func (s *shuffleSource) Next(ctx context.Context) (any, error) {
	if !s.filled {
		s.filled = true
		for int64(len(s.buf)) < s.node.bufferSize {
			v, err := s.up.Next(ctx)
			if err != nil {
				if IsOutOfRange(err) {
					s.exhausted = true
					break
				}
				return nil, prependPath(err, s.node.nodeName)
			}
			s.buf = append(s.buf, v)
		}
	}
	if len(s.buf) == 0 {
		return nil, outOfRange(s.node.nodeName)
	}
	i := s.rng.Intn(len(s.buf))
	out := s.buf[i]
	if !s.exhausted {
		v, err := s.up.Next(ctx)
		switch {
		case err == nil:
			s.buf[i] = v
			return out, nil
		case IsOutOfRange(err):
			s.exhausted = true
		default:
			return nil, prependPath(err, s.node.nodeName)
		}
	}
	// Drain phase: swap-remove the chosen slot.
	s.buf[i] = s.buf[len(s.buf)-1]
	s.buf = s.buf[:len(s.buf)-1]
	return out, nil
}

func (s *shuffleSource) Close() error {
	s.buf = nil
	return s.up.Close()
}
