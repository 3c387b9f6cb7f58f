package flume

import (
	"context"
	"testing"
)

func repeatEach(x int64, times int64) *Dataset {
	return FromValues("single", x).Repeat("repeated", times)
}

func TestInterleaveDeterministicOrder(t *testing.T) {
	ds := Range("r", 1, 6).Interleave("il", func(_ context.Context, args ...any) (*Dataset, error) {
		return repeatEach(args[0].(int64), 6), nil
	}, 2, 4)

	expectInt64s(t, ds, []int64{
		1, 1, 1, 1,
		2, 2, 2, 2,
		1, 1,
		2, 2,
		3, 3, 3, 3,
		4, 4, 4, 4,
		3, 3,
		4, 4,
		5, 5, 5, 5, 5, 5,
	})
}

func TestInterleaveCycleOne(t *testing.T) {
	// A single-slot cycle degenerates to FlatMap.
	ds := FromValues("v", 1, 2, 3).Interleave("il", func(_ context.Context, args ...any) (*Dataset, error) {
		return Range("sub", args[0].(int64)), nil
	}, 1, 1)
	expectInt64s(t, ds, []int64{0, 0, 1, 0, 1, 2})
}

func TestInterleaveWideCycle(t *testing.T) {
	// More slots than inputs: surviving slots keep cycling.
	ds := FromValues("v", 1, 2).Interleave("il", func(_ context.Context, args ...any) (*Dataset, error) {
		return repeatEach(args[0].(int64), 2), nil
	}, 4, 1)
	expectInt64s(t, ds, []int64{1, 2, 1, 2})
}

func TestInterleaveIsReproducible(t *testing.T) {
	build := func() *Dataset {
		return Range("r", 1, 5).Interleave("il", func(_ context.Context, args ...any) (*Dataset, error) {
			return repeatEach(args[0].(int64), 3), nil
		}, 3, 2)
	}
	a := asInt64s(t, drainDataset(t, build()))
	b := asInt64s(t, drainDataset(t, build()))
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("orders diverge at %d: %v vs %v", i, a, b)
		}
	}
}

func TestInterleaveValidation(t *testing.T) {
	fn := func(_ context.Context, args ...any) (*Dataset, error) {
		return Range("sub", 1), nil
	}
	if ErrorKind(Range("r", 5).Interleave("il", fn, 0, 1).Err()) != KindInvalidArgument {
		t.Error("expected invalid_argument for zero cycle length")
	}
	if ErrorKind(Range("r", 5).Interleave("il", fn, 1, 0).Err()) != KindInvalidArgument {
		t.Error("expected invalid_argument for zero block length")
	}
	if Range("r", 5).Interleave("il", nil, 1, 1).Err() == nil {
		t.Error("expected error for nil function")
	}
}
