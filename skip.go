package flume

import "context"

// Skip creates a dataset omitting the first count elements of d. A
// negative count skips the entire dataset, yielding nothing.
func (d *Dataset) Skip(name Name, count int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	return fromNode(&skipNode{nodeName: name, up: d.node, count: count})
}

type skipNode struct {
	nodeName Name
	up       node
	count    int64
}

func (n *skipNode) name() Name             { return n.nodeName }
func (n *skipNode) schema() (Schema, bool) { return n.up.schema() }

func (n *skipNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	skipped := false
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if n.count < 0 {
				return nil, outOfRange(n.nodeName)
			}
			if !skipped {
				skipped = true
				for i := int64(0); i < n.count; i++ {
					if _, err := up.Next(ctx); err != nil {
						return nil, prependPath(err, n.nodeName)
					}
				}
			}
			v, err := up.Next(ctx)
			if err != nil {
				return nil, prependPath(err, n.nodeName)
			}
			return v, nil
		},
		closeFn: up.Close,
	}, nil
}
