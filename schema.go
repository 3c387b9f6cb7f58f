package flume

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DType identifies the element type of a schema leaf.
type DType string

// Leaf element types.
const (
	Int64   DType = "int64"
	Float64 DType = "float64"
	String  DType = "string"
	Bool    DType = "bool"
	Bytes   DType = "bytes"
)

// UnknownDim marks a dimension whose size is not statically known.
const UnknownDim int64 = -1

// Shape describes the dimensions of a leaf value. Each dimension is a
// concrete non-negative size or UnknownDim. A nil or empty Shape is a
// scalar.
type Shape []int64

// ScalarShape returns the shape of a rank-0 value.
func ScalarShape() Shape { return Shape{} }

// VectorShape returns the shape of a rank-1 value of the given size.
func VectorShape(n int64) Shape { return Shape{n} }

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Compatible reports whether the shapes have the same rank and every
// dimension pair is equal or has at least one unknown side.
func (s Shape) Compatible(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] && s[i] != UnknownDim && o[i] != UnknownDim {
			return false
		}
	}
	return true
}

// String renders the shape as "[2,?,3]"; scalars render as "[]".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d == UnknownDim {
			parts[i] = "?"
		} else {
			parts[i] = strconv.FormatInt(d, 10)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// clone returns an independent copy so shapes keep value semantics.
func (s Shape) clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// MergeShape combines two compatible shapes into the most specific one:
// equal dimensions are kept, an unknown dimension adopts the other side,
// and two known unequal dimensions fail with ShapeMismatch. The merge is
// commutative.
func MergeShape(a, b Shape) (Shape, error) {
	if len(a) != len(b) {
		return nil, newError(KindShapeMismatch, "merge_shape", "rank %d vs %d", len(a), len(b))
	}
	out := make(Shape, len(a))
	for i := range a {
		switch {
		case a[i] == b[i]:
			out[i] = a[i]
		case a[i] == UnknownDim:
			out[i] = b[i]
		case b[i] == UnknownDim:
			out[i] = a[i]
		default:
			return nil, newError(KindShapeMismatch, "merge_shape",
				"dimension %d: %d vs %d", i, a[i], b[i])
		}
	}
	return out, nil
}

// widenShape is the relaxed merge used by Concatenate: conflicting known
// dimensions widen to unknown instead of failing. Ranks must still agree.
func widenShape(a, b Shape) (Shape, error) {
	if len(a) != len(b) {
		return nil, newError(KindShapeMismatch, "widen_shape", "rank %d vs %d", len(a), len(b))
	}
	out := make(Shape, len(a))
	for i := range a {
		if a[i] == b[i] {
			out[i] = a[i]
		} else {
			out[i] = UnknownDim
		}
	}
	return out, nil
}

type schemaKind uint8

const (
	leafSchema schemaKind = iota
	tupleSchema
	recordSchema
)

// Schema is the declared type+shape signature of a pipeline element: a
// leaf (DType plus Shape), an ordered tuple of component schemas, or a
// string-keyed record. Schemas are immutable value objects; equality and
// compatibility are pure structural predicates.
type Schema struct {
	kind  schemaKind
	dtype DType
	shape Shape
	elems []Schema
	keys  []string
}

// Leaf returns a leaf schema with the given type and shape.
func Leaf(dtype DType, shape Shape) Schema {
	return Schema{kind: leafSchema, dtype: dtype, shape: shape.clone()}
}

// Scalar returns a rank-0 leaf schema.
func Scalar(dtype DType) Schema {
	return Leaf(dtype, ScalarShape())
}

// TupleOf returns a tuple schema over the given components, preserving
// their order.
func TupleOf(components ...Schema) Schema {
	elems := make([]Schema, len(components))
	copy(elems, components)
	return Schema{kind: tupleSchema, elems: elems}
}

// RecordOf returns a record schema over the given fields. Field order is
// canonicalized by sorting keys, so two records with the same fields are
// equal regardless of construction order.
func RecordOf(fields map[string]Schema) Schema {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	elems := make([]Schema, len(keys))
	for i, k := range keys {
		elems[i] = fields[k]
	}
	return Schema{kind: recordSchema, elems: elems, keys: keys}
}

// IsLeaf reports whether the schema is a leaf.
func (s Schema) IsLeaf() bool { return s.kind == leafSchema }

// DType returns the leaf element type; zero for composite schemas.
func (s Schema) DType() DType { return s.dtype }

// Shape returns a copy of the leaf shape; nil for composite schemas.
func (s Schema) Shape() Shape { return s.shape.clone() }

// NumComponents returns the number of direct components of a composite
// schema, or zero for leaves.
func (s Schema) NumComponents() int { return len(s.elems) }

// Component returns the i'th direct component of a composite schema.
func (s Schema) Component(i int) Schema { return s.elems[i] }

// Keys returns the sorted field names of a record schema, nil otherwise.
func (s Schema) Keys() []string {
	if s.kind != recordSchema {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Field returns the schema of a record field.
func (s Schema) Field(key string) (Schema, bool) {
	for i, k := range s.keys {
		if k == key {
			return s.elems[i], true
		}
	}
	return Schema{}, false
}

// Flatten returns the leaf schemas in deterministic pre-order: tuple
// components in declared order, record fields in sorted key order.
func (s Schema) Flatten() []Schema {
	var leaves []Schema
	s.walk(func(leaf Schema) {
		leaves = append(leaves, leaf)
	})
	return leaves
}

func (s Schema) walk(fn func(Schema)) {
	if s.kind == leafSchema {
		fn(s)
		return
	}
	for _, e := range s.elems {
		e.walk(fn)
	}
}

// Pack rebuilds a schema with the template's nesting structure and the
// given leaves in pre-order. It is the inverse of Flatten and fails with
// StructureMismatch when the leaf count does not fit the template.
func Pack(template Schema, leaves []Schema) (Schema, error) {
	packed, rest := packSchema(template, leaves)
	if len(rest) != 0 {
		return Schema{}, newError(KindStructureMismatch, "pack",
			"%d leaves do not fit template with %d leaves", len(leaves), len(template.Flatten()))
	}
	if packed == nil {
		return Schema{}, newError(KindStructureMismatch, "pack",
			"template requires %d leaves, got %d", len(template.Flatten()), len(leaves))
	}
	return *packed, nil
}

func packSchema(template Schema, leaves []Schema) (*Schema, []Schema) {
	if template.kind == leafSchema {
		if len(leaves) == 0 {
			return nil, nil
		}
		leaf := leaves[0]
		return &leaf, leaves[1:]
	}
	elems := make([]Schema, len(template.elems))
	rest := leaves
	for i, e := range template.elems {
		var packed *Schema
		packed, rest = packSchema(e, rest)
		if packed == nil {
			return nil, nil
		}
		elems[i] = *packed
	}
	out := Schema{kind: template.kind, elems: elems}
	if template.kind == recordSchema {
		out.keys = append([]string(nil), template.keys...)
	}
	return &out, rest
}

// Equal reports whether both schemas are structurally identical.
func (s Schema) Equal(o Schema) bool {
	if s.kind != o.kind {
		return false
	}
	if s.kind == leafSchema {
		return s.dtype == o.dtype && s.shape.Equal(o.shape)
	}
	if len(s.elems) != len(o.elems) {
		return false
	}
	for i, k := range s.keys {
		if k != o.keys[i] {
			return false
		}
	}
	for i := range s.elems {
		if !s.elems[i].Equal(o.elems[i]) {
			return false
		}
	}
	return true
}

// Compatible reports whether both schemas have identical nesting and
// type tags, with pairwise-compatible leaf shapes.
func (s Schema) Compatible(o Schema) bool {
	return AssertCompatible(s, o) == nil
}

// AssertCompatible fails with a StructureMismatch, TypeMismatch or
// ShapeMismatch error naming the first differing path when the schemas
// are not compatible. Compatibility is symmetric.
func AssertCompatible(a, b Schema) error {
	return assertCompatibleAt(a, b, "element")
}

func assertCompatibleAt(a, b Schema, path string) error {
	if a.kind != b.kind || len(a.elems) != len(b.elems) {
		return newError(KindStructureMismatch, "assert_compatible",
			"%s: %s vs %s", path, a, b)
	}
	if a.kind == leafSchema {
		if a.dtype != b.dtype {
			return newError(KindTypeMismatch, "assert_compatible",
				"%s: %s vs %s", path, a.dtype, b.dtype)
		}
		if !a.shape.Compatible(b.shape) {
			return newError(KindShapeMismatch, "assert_compatible",
				"%s: %s vs %s", path, a.shape, b.shape)
		}
		return nil
	}
	for i, k := range a.keys {
		if k != b.keys[i] {
			return newError(KindStructureMismatch, "assert_compatible",
				"%s: field %q vs %q", path, k, b.keys[i])
		}
	}
	for i := range a.elems {
		child := path + "." + strconv.Itoa(i)
		if a.kind == recordSchema {
			child = path + "." + a.keys[i]
		}
		if err := assertCompatibleAt(a.elems[i], b.elems[i], child); err != nil {
			return err
		}
	}
	return nil
}

// widenSchemas merges two schemas with identical structure and type
// tags into one covering both, widening conflicting known dimensions to
// unknown. Concatenate and FromValues use it to type heterogeneous
// shapes.
func widenSchemas(a, b Schema) (Schema, error) {
	if a.kind != b.kind || len(a.elems) != len(b.elems) {
		return Schema{}, newError(KindStructureMismatch, "widen", "%s vs %s", a, b)
	}
	if a.kind == leafSchema {
		if a.dtype != b.dtype {
			return Schema{}, newError(KindTypeMismatch, "widen", "%s vs %s", a.dtype, b.dtype)
		}
		shape, err := widenShape(a.shape, b.shape)
		if err != nil {
			return Schema{}, err
		}
		return Leaf(a.dtype, shape), nil
	}
	elems := make([]Schema, len(a.elems))
	for i, k := range a.keys {
		if k != b.keys[i] {
			return Schema{}, newError(KindStructureMismatch, "widen",
				"field %q vs %q", k, b.keys[i])
		}
	}
	for i := range a.elems {
		merged, err := widenSchemas(a.elems[i], b.elems[i])
		if err != nil {
			return Schema{}, err
		}
		elems[i] = merged
	}
	out := Schema{kind: a.kind, elems: elems}
	if a.kind == recordSchema {
		out.keys = append([]string(nil), a.keys...)
	}
	return out, nil
}

// mapLeaves rebuilds the schema with fn applied to every leaf,
// preserving nesting. Used by Batch and PaddedBatch to prepend the
// batch dimension.
func (s Schema) mapLeaves(fn func(Schema) Schema) Schema {
	if s.kind == leafSchema {
		return fn(s)
	}
	elems := make([]Schema, len(s.elems))
	for i, e := range s.elems {
		elems[i] = e.mapLeaves(fn)
	}
	out := Schema{kind: s.kind, elems: elems}
	if s.kind == recordSchema {
		out.keys = append([]string(nil), s.keys...)
	}
	return out
}

// String renders the schema for error messages and debugging.
func (s Schema) String() string {
	switch s.kind {
	case leafSchema:
		return fmt.Sprintf("%s%s", s.dtype, s.shape)
	case tupleSchema:
		parts := make([]string, len(s.elems))
		for i, e := range s.elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		parts := make([]string, len(s.elems))
		for i, e := range s.elems {
			parts[i] = s.keys[i] + ": " + e.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
}
