package flume

import "context"

// Shard creates a dataset containing only 1/numShards of d: the
// elements whose 0-based position satisfies position mod numShards ==
// index. Sharding early in a pipeline lets each worker of a distributed
// job read a disjoint subset:
//
//	ds := flume.ListFiles("files", pattern).
//	    Shard("shard", numWorkers, workerIndex)
//
// numShards must be at least 1 and index must lie in [0, numShards);
// violations fail with InvalidArgument at construction.
func (d *Dataset) Shard(name Name, numShards, index int64) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if numShards < 1 {
		return failed(newError(KindInvalidArgument, name,
			"numShards must be >= 1, got %d", numShards))
	}
	if index < 0 || index >= numShards {
		return failed(newError(KindInvalidArgument, name,
			"index must be in [0, %d), got %d", numShards, index))
	}
	return fromNode(&shardNode{nodeName: name, up: d.node, numShards: numShards, index: index})
}

type shardNode struct {
	nodeName  Name
	up        node
	numShards int64
	index     int64
}

func (n *shardNode) name() Name             { return n.nodeName }
func (n *shardNode) schema() (Schema, bool) { return n.up.schema() }

func (n *shardNode) open(ctx context.Context) (Source, error) {
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	position := int64(0)
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			for {
				v, err := up.Next(ctx)
				if err != nil {
					return nil, prependPath(err, n.nodeName)
				}
				keep := position%n.numShards == n.index
				position++
				if keep {
					return v, nil
				}
			}
		},
		closeFn: up.Close,
	}, nil
}
