package flume

import "context"

// FilterFunc decides whether an element passes a filter. Tuple elements
// arrive unpacked like MapFunc arguments.
type FilterFunc func(ctx context.Context, args ...any) (bool, error)

// Filter creates a dataset containing only the elements of d for which
// fn returns true. Order is preserved and the schema is unchanged.
func (d *Dataset) Filter(name Name, fn FilterFunc) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if fn == nil {
		return failed(newError(KindInvalidArgument, name, "fn must not be nil"))
	}
	return fromNode(&filterNode{nodeName: name, up: d.node, fn: fn})
}

type filterNode struct {
	nodeName Name
	up       node
	fn       FilterFunc
}

func (n *filterNode) name() Name             { return n.nodeName }
func (n *filterNode) schema() (Schema, bool) { return n.up.schema() }

func (n *filterNode) invoke(ctx context.Context, upSchema Schema, v any) (keep bool, err error) {
	defer recoverFromPanic(&err, n.nodeName)
	keep, err = n.fn(ctx, unpackArgs(upSchema, v)...)
	if err != nil {
		return false, prependPath(err, n.nodeName)
	}
	return keep, nil
}

func (n *filterNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			for {
				v, err := up.Next(ctx)
				if err != nil {
					return nil, prependPath(err, n.nodeName)
				}
				upSchema, err := upstreamSchemaFor(n.nodeName, n.up, v)
				if err != nil {
					return nil, err
				}
				keep, err := n.invoke(ctx, upSchema, v)
				if err != nil {
					return nil, err
				}
				if keep {
					return v, nil
				}
			}
		},
		closeFn: up.Close,
	}, nil
}
