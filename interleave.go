package flume

import "context"

// Interleave creates a dataset applying fn to each of d's elements like
// FlatMap, but drawing from up to cycleLength sub-datasets in
// round-robin runs of blockLength elements instead of exhausting each
// one before the next begins. The resulting order is fully
// deterministic.
//
// Sub-datasets are opened on demand: a cycle slot is filled from the
// next upstream element exactly when its turn comes and the slot is
// empty. When a sub-dataset exhausts, its slot refills from the
// upstream, so the cycle stays at width cycleLength while input
// remains. cycleLength and blockLength must be at least 1.
func (d *Dataset) Interleave(name Name, fn FlatMapFunc, cycleLength, blockLength int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if fn == nil {
		return failed(newError(KindInvalidArgument, name, "fn must not be nil"))
	}
	if cycleLength < 1 {
		return failed(newError(KindInvalidArgument, name,
			"cycleLength must be >= 1, got %d", cycleLength))
	}
	if blockLength < 1 {
		return failed(newError(KindInvalidArgument, name,
			"blockLength must be >= 1, got %d", blockLength))
	}
	return fromNode(&interleaveNode{
		nodeName:    name,
		up:          d.node,
		fn:          fn,
		cycleLength: cycleLength,
		blockLength: blockLength,
	})
}

type interleaveNode struct {
	nodeName    Name
	up          node
	fn          FlatMapFunc
	cycleLength int64
	blockLength int64

	resolver schemaResolver
}

func (n *interleaveNode) name() Name { return n.nodeName }

func (n *interleaveNode) schema() (Schema, bool) {
	return n.resolver.resolve(func() (Schema, bool) {
		upSchema, ok := n.up.schema()
		if !ok {
			return Schema{}, false
		}
		sub, err := n.invoke(context.Background(), upSchema, placeholderValue(upSchema))
		if err != nil {
			return Schema{}, false
		}
		return sub.Schema()
	})
}

func (n *interleaveNode) invoke(ctx context.Context, upSchema Schema, v any) (sub *Dataset, err error) {
	defer recoverFromPanic(&err, n.nodeName)
	sub, err = n.fn(ctx, unpackArgs(upSchema, v)...)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	if sub == nil {
		return nil, newError(KindInvalidArgument, n.nodeName, "fn returned a nil dataset")
	}
	if sub.err != nil {
		return nil, prependPath(sub.err, n.nodeName)
	}
	return sub, nil
}

func (n *interleaveNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	return &interleaveSource{
		node:  n,
		up:    up,
		slots: make([]Source, n.cycleLength),
	}, nil
}

type interleaveSource struct {
	node        *interleaveNode
	up          Source
	slots       []Source
	cur         int
	drawn       int64
	upExhausted bool
}

func (s *interleaveSource) Next(ctx context.Context) (any, error) {
	for {
		if s.upExhausted && s.allSlotsEmpty() {
			return nil, outOfRange(s.node.nodeName)
		}
		if s.slots[s.cur] == nil {
			if s.upExhausted {
				s.advanceTurn()
				continue
			}
			if err := s.fillSlot(ctx); err != nil {
				if IsOutOfRange(err) {
					continue
				}
				return nil, err
			}
		}
		v, err := s.slots[s.cur].Next(ctx)
		if err == nil {
			s.drawn++
			if s.drawn == s.node.blockLength {
				s.advanceTurn()
			}
			return v, nil
		}
		if !IsOutOfRange(err) {
			return nil, prependPath(err, s.node.nodeName)
		}
		s.slots[s.cur].Close()
		s.slots[s.cur] = nil
		s.advanceTurn()
	}
}

// fillSlot opens the next upstream element's sub-dataset into the
// current slot. Upstream exhaustion is reported so the caller can keep
// cycling through the surviving slots.
func (s *interleaveSource) fillSlot(ctx context.Context) error {
	v, err := s.up.Next(ctx)
	if err != nil {
		if IsOutOfRange(err) {
			s.upExhausted = true
		}
		return prependPath(err, s.node.nodeName)
	}
	upSchema, err := upstreamSchemaFor(s.node.nodeName, s.node.up, v)
	if err != nil {
		return err
	}
	sub, err := s.node.invoke(ctx, upSchema, v)
	if err != nil {
		return err
	}
	s.node.resolver.resolve(func() (Schema, bool) { return sub.Schema() })
	src, err := sub.open(ctx)
	if err != nil {
		return prependPath(err, s.node.nodeName)
	}
	s.slots[s.cur] = src
	return nil
}

func (s *interleaveSource) allSlotsEmpty() bool {
	for _, slot := range s.slots {
		if slot != nil {
			return false
		}
	}
	return true
}

func (s *interleaveSource) advanceTurn() {
	s.cur = (s.cur + 1) % len(s.slots)
	s.drawn = 0
}

func (s *interleaveSource) Close() error {
	var first error
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		if err := slot.Close(); err != nil && first == nil {
			first = err
		}
		s.slots[i] = nil
	}
	if err := s.up.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
