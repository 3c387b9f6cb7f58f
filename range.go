package flume

import "context"

// Range creates a dataset of a step-separated sequence of scalar int64
// values, following the usual slicing semantics:
//
//	Range("r", 5)        == [0, 1, 2, 3, 4]
//	Range("r", 2, 5)     == [2, 3, 4]
//	Range("r", 1, 5, 2)  == [1, 3]
//	Range("r", 5, 1)     == []
//	Range("r", 5, 1, -2) == [5, 3]
//
// A zero step fails with InvalidArgument at construction; a step whose
// sign does not move start toward stop yields an empty sequence.
func Range(name Name, args ...int64) *Dataset {
	var start, stop, step int64
	switch len(args) {
	case 1:
		start, stop, step = 0, args[0], 1
	case 2:
		start, stop, step = args[0], args[1], 1
	case 3:
		start, stop, step = args[0], args[1], args[2]
	default:
		return failed(newError(KindInvalidArgument, name,
			"Range takes 1 to 3 arguments, got %d", len(args)))
	}
	if step == 0 {
		return failed(newError(KindInvalidArgument, name, "step must not be zero"))
	}
	return fromNode(&rangeNode{nodeName: name, start: start, stop: stop, step: step})
}

type rangeNode struct {
	nodeName Name
	start    int64
	stop     int64
	step     int64
}

func (n *rangeNode) name() Name { return n.nodeName }

func (n *rangeNode) schema() (Schema, bool) {
	return Scalar(Int64), true
}

func (n *rangeNode) open(context.Context) (Source, error) {
	next := n.start
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, n.nodeName); err != nil {
				return nil, err
			}
			if (n.step > 0 && next >= n.stop) || (n.step < 0 && next <= n.stop) {
				return nil, outOfRange(n.nodeName)
			}
			v := next
			next += n.step
			return v, nil
		},
	}, nil
}
