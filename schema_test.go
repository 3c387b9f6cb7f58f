package flume

import (
	"reflect"
	"testing"
)

func TestMergeShape(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Shape
		want    Shape
		wantErr bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false},
		{"unknown adopts known", Shape{UnknownDim, 3}, Shape{2, 3}, Shape{2, 3}, false},
		{"both unknown", Shape{UnknownDim}, Shape{UnknownDim}, Shape{UnknownDim}, false},
		{"conflict", Shape{2}, Shape{3}, nil, true},
		{"rank mismatch", Shape{2}, Shape{2, 3}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeShape(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}

			// Merging is commutative.
			swapped, err := MergeShape(tt.b, tt.a)
			if err != nil {
				t.Fatalf("swapped merge failed: %v", err)
			}
			if !swapped.Equal(got) {
				t.Errorf("merge not commutative: %v vs %v", got, swapped)
			}
		})
	}
}

func TestShapeCompatible(t *testing.T) {
	if !(Shape{2, UnknownDim}).Compatible(Shape{2, 5}) {
		t.Error("unknown dimension should be compatible with any size")
	}
	if (Shape{2}).Compatible(Shape{3}) {
		t.Error("differing known dimensions should not be compatible")
	}
	if (Shape{2}).Compatible(Shape{2, 1}) {
		t.Error("differing ranks should not be compatible")
	}
}

func TestRecordOfSortsKeys(t *testing.T) {
	a := RecordOf(map[string]Schema{"b": Scalar(Int64), "a": Scalar(String)})
	b := RecordOf(map[string]Schema{"a": Scalar(String), "b": Scalar(Int64)})
	if !a.Equal(b) {
		t.Error("records with the same fields should be equal regardless of construction order")
	}
	if !reflect.DeepEqual(a.Keys(), []string{"a", "b"}) {
		t.Errorf("expected sorted keys, got %v", a.Keys())
	}
}

func TestSchemaFlattenPackRoundTrip(t *testing.T) {
	original := TupleOf(
		Scalar(Int64),
		RecordOf(map[string]Schema{
			"label": Scalar(String),
			"image": Leaf(Float64, Shape{28, 28}),
		}),
	)
	leaves := original.Flatten()
	if len(leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(leaves))
	}
	packed, err := Pack(original, leaves)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if !packed.Equal(original) {
		t.Errorf("round trip changed schema: %s vs %s", original, packed)
	}
}

func TestPackLeafCountMismatch(t *testing.T) {
	template := TupleOf(Scalar(Int64), Scalar(Int64))
	if _, err := Pack(template, []Schema{Scalar(Int64)}); err == nil {
		t.Error("expected error for too few leaves")
	}
	leaves := []Schema{Scalar(Int64), Scalar(Int64), Scalar(Int64)}
	if _, err := Pack(template, leaves); err == nil {
		t.Error("expected error for too many leaves")
	}
}

func TestAssertCompatible(t *testing.T) {
	t.Run("symmetric", func(t *testing.T) {
		a := TupleOf(Scalar(Int64), Leaf(Float64, Shape{UnknownDim}))
		b := TupleOf(Scalar(Int64), Leaf(Float64, Shape{7}))
		if err := AssertCompatible(a, b); err != nil {
			t.Errorf("expected compatible: %v", err)
		}
		if err := AssertCompatible(b, a); err != nil {
			t.Errorf("compatibility should be symmetric: %v", err)
		}
	})

	t.Run("distinct kinds", func(t *testing.T) {
		structural := AssertCompatible(Scalar(Int64), TupleOf(Scalar(Int64)))
		if ErrorKind(structural) != KindStructureMismatch {
			t.Errorf("expected structure_mismatch, got %s", ErrorKind(structural))
		}
		typed := AssertCompatible(Scalar(Int64), Scalar(String))
		if ErrorKind(typed) != KindTypeMismatch {
			t.Errorf("expected type_mismatch, got %s", ErrorKind(typed))
		}
		shaped := AssertCompatible(Leaf(Int64, Shape{2}), Leaf(Int64, Shape{3}))
		if ErrorKind(shaped) != KindShapeMismatch {
			t.Errorf("expected shape_mismatch, got %s", ErrorKind(shaped))
		}
	})
}

func TestSchemaString(t *testing.T) {
	s := TupleOf(Scalar(Int64), Leaf(Float64, Shape{2, UnknownDim}))
	if s.String() != "(int64[], float64[2,?])" {
		t.Errorf("unexpected rendering: %s", s.String())
	}
}
