package flume

import (
	"reflect"
	"testing"
)

func TestFromValues(t *testing.T) {
	ds := FromValues("v", 1, 2, 3)
	expectInt64s(t, ds, []int64{1, 2, 3})

	s, ok := ds.Schema()
	if !ok || !s.Equal(Scalar(Int64)) {
		t.Errorf("expected int64 scalar schema, got %s", s)
	}
}

func TestFromValuesWidensShapes(t *testing.T) {
	ds := FromValues("v", []int64{1}, []int64{1, 2})
	s, ok := ds.Schema()
	if !ok {
		t.Fatal("schema should be resolved")
	}
	if !s.Equal(Leaf(Int64, Shape{UnknownDim})) {
		t.Errorf("expected widened vector schema, got %s", s)
	}
}

func TestFromValuesStructureMismatch(t *testing.T) {
	ds := FromValues("v", int64(1), "two")
	if ErrorKind(ds.Err()) != KindTypeMismatch {
		t.Errorf("expected type_mismatch, got %v", ds.Err())
	}
}

func TestFromValuesEmpty(t *testing.T) {
	if FromValues("v").Err() == nil {
		t.Error("expected error for zero values")
	}
}

func TestFromSlices(t *testing.T) {
	ds := FromSlices("pairs", Tuple{
		[]int64{1, 2, 3},
		[]string{"a", "b", "c"},
	})
	if err := ds.Err(); err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	got := drainDataset(t, ds)
	want := []any{
		Tuple{int64(1), "a"},
		Tuple{int64(2), "b"},
		Tuple{int64(3), "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}

	s, ok := ds.Schema()
	if !ok || !s.Equal(TupleOf(Scalar(Int64), Scalar(String))) {
		t.Errorf("unexpected schema: %s", s)
	}
}

func TestFromSlicesLeadingDimensionMismatch(t *testing.T) {
	ds := FromSlices("pairs", Tuple{
		[]int64{1, 2, 3},
		[]string{"a", "b"},
	})
	if ErrorKind(ds.Err()) != KindInvalidArgument {
		t.Errorf("expected invalid_argument, got %v", ds.Err())
	}
}

func TestFromSlicesScalarComponent(t *testing.T) {
	ds := FromSlices("bad", Tuple{int64(1), []int64{1, 2}})
	if ErrorKind(ds.Err()) != KindInvalidArgument {
		t.Errorf("expected invalid_argument, got %v", ds.Err())
	}
}
