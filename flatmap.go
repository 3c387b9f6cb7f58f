package flume

import "context"

// FlatMapFunc maps one element to a whole dataset whose elements are
// spliced into the output stream. Tuple elements arrive unpacked like
// MapFunc arguments. Every returned dataset must share one schema.
type FlatMapFunc func(ctx context.Context, args ...any) (*Dataset, error)

// FlatMap creates a dataset applying fn to each of d's elements and
// concatenating the resulting datasets in order.
//
// The result schema is dynamic, resolved like Map: one placeholder
// invocation of fn, or the first real sub-dataset.
func (d *Dataset) FlatMap(name Name, fn FlatMapFunc) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if fn == nil {
		return failed(newError(KindInvalidArgument, name, "fn must not be nil"))
	}
	return fromNode(&flatMapNode{nodeName: name, up: d.node, fn: fn})
}

type flatMapNode struct {
	nodeName Name
	up       node
	fn       FlatMapFunc

	resolver schemaResolver
}

func (n *flatMapNode) name() Name { return n.nodeName }

func (n *flatMapNode) schema() (Schema, bool) {
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

// invoke runs the user function on one element and validates the
// returned handle.
func (n *flatMapNode) invoke(ctx context.Context, upSchema Schema, v any) (sub *Dataset, err error) {
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

// resolveFromSub memoizes the schema of the first real sub-dataset.
func (n *flatMapNode) resolveFromSub(sub *Dataset) {
	n.resolver.resolve(func() (Schema, bool) {
		return sub.Schema()
	})
}

func (n *flatMapNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	var current Source
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			for {
				if current == nil {
					v, err := up.Next(ctx)
					if err != nil {
						return nil, prependPath(err, n.nodeName)
					}
					upSchema, err := upstreamSchemaFor(n.nodeName, n.up, v)
					if err != nil {
						return nil, err
					}
					sub, err := n.invoke(ctx, upSchema, v)
					if err != nil {
						return nil, err
					}
					n.resolveFromSub(sub)
					src, err := sub.open(ctx)
					if err != nil {
						return nil, prependPath(err, n.nodeName)
					}
					current = src
				}
				v, err := current.Next(ctx)
				if err == nil {
					return v, nil
				}
				if !IsOutOfRange(err) {
					return nil, prependPath(err, n.nodeName)
				}
				current.Close()
				current = nil
			}
		},
		closeFn: func() error {
			if current != nil {
				current.Close()
				current = nil
			}
			return up.Close()
		},
	}, nil
}
