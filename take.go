package flume

import "context"

// Take creates a dataset with at most count elements of d. A negative
// count takes the whole dataset.
func (d *Dataset) Take(name Name, count int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	return fromNode(&takeNode{nodeName: name, up: d.node, count: count})
}

type takeNode struct {
	nodeName Name
	up       node
	count    int64
}

func (n *takeNode) name() Name             { return n.nodeName }
func (n *takeNode) schema() (Schema, bool) { return n.up.schema() }

func (n *takeNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	taken := int64(0)
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if n.count >= 0 && taken >= n.count {
				return nil, outOfRange(n.nodeName)
			}
			v, err := up.Next(ctx)
			if err != nil {
				return nil, prependPath(err, n.nodeName)
			}
			taken++
			return v, nil
		},
		closeFn: up.Close,
	}, nil
}
