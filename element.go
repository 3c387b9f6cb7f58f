package flume

import (
	"encoding/base64"
	"reflect"
)

// Tuple is an ordered composite element. A pipeline whose schema root is
// a tuple passes its components to user functions as separate arguments.
type Tuple []any

// Record is a string-keyed composite element. Fields are flattened in
// sorted key order, mirroring RecordOf.
type Record map[string]any

// normalizeValue canonicalizes an element so the rest of the pipeline
// only ever sees int64/float64/string/bool/[]byte scalars and typed
// slices thereof. Plain Go ints and float32 widen; unsupported leaf
// types fail with TypeMismatch.
func normalizeValue(name Name, v any) (any, error) {
	switch t := v.(type) {
	case Tuple:
		out := make(Tuple, len(t))
		for i, c := range t {
			n, err := normalizeValue(name, c)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case Record:
		out := make(Record, len(t))
		for k, c := range t {
			n, err := normalizeValue(name, c)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case int64, float64, string, bool, []byte:
		return t, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, newError(KindTypeMismatch, name, "unsupported element type %T", v)
	}
	children := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		n, err := normalizeValue(name, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		children[i] = n
	}
	if len(children) == 0 {
		// Preserve the element type so empty tensors keep their dtype.
		elem, err := normalizeType(name, rv.Type().Elem())
		if err != nil {
			return nil, err
		}
		return reflect.MakeSlice(reflect.SliceOf(elem), 0, 0).Interface(), nil
	}
	return stackValues(name, children)
}

// normalizeType maps a Go slice element type onto its canonical form.
func normalizeType(name Name, t reflect.Type) (reflect.Type, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint16, reflect.Uint32:
		return reflect.TypeOf(int64(0)), nil
	case reflect.Uint8:
		return reflect.TypeOf(int64(0)), nil
	case reflect.Float32, reflect.Float64:
		return reflect.TypeOf(float64(0)), nil
	case reflect.String:
		return reflect.TypeOf(""), nil
	case reflect.Bool:
		return reflect.TypeOf(false), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return reflect.TypeOf([]byte(nil)), nil
		}
		inner, err := normalizeType(name, t.Elem())
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(inner), nil
	default:
		return nil, newError(KindTypeMismatch, name, "unsupported element type %s", t)
	}
}

// stackValues joins normalized values of identical dynamic type into a
// typed slice, forming the next-higher-rank tensor. Batch uses this to
// prepend the batch dimension.
func stackValues(name Name, vals []any) (any, error) {
	if len(vals) == 0 {
		return nil, newError(KindInvalidArgument, name, "cannot stack zero values")
	}
	t := reflect.TypeOf(vals[0])
	out := reflect.MakeSlice(reflect.SliceOf(t), 0, len(vals))
	for _, v := range vals {
		if reflect.TypeOf(v) != t {
			return nil, newError(KindTypeMismatch, name,
				"cannot stack %T with %T", vals[0], v)
		}
		out = reflect.Append(out, reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

// inferSchema derives the concrete schema of a normalized element. All
// dimensions come out concrete; ragged inputs report the first child's
// dimensions.
func inferSchema(name Name, v any) (Schema, error) {
	switch t := v.(type) {
	case Tuple:
		elems := make([]Schema, len(t))
		for i, c := range t {
			s, err := inferSchema(name, c)
			if err != nil {
				return Schema{}, err
			}
			elems[i] = s
		}
		return TupleOf(elems...), nil
	case Record:
		fields := make(map[string]Schema, len(t))
		for k, c := range t {
			s, err := inferSchema(name, c)
			if err != nil {
				return Schema{}, err
			}
			fields[k] = s
		}
		return RecordOf(fields), nil
	case int64:
		return Scalar(Int64), nil
	case float64:
		return Scalar(Float64), nil
	case string:
		return Scalar(String), nil
	case bool:
		return Scalar(Bool), nil
	case []byte:
		return Scalar(Bytes), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return Schema{}, newError(KindTypeMismatch, name, "unsupported element type %T", v)
	}
	dtype, rank, err := leafTypeOf(name, rv.Type())
	if err != nil {
		return Schema{}, err
	}
	shape := make(Shape, rank)
	cursor := rv
	for i := 0; i < rank; i++ {
		shape[i] = int64(cursor.Len())
		if cursor.Len() == 0 {
			break
		}
		cursor = cursor.Index(0)
	}
	return Leaf(dtype, shape), nil
}

// leafTypeOf resolves the dtype and rank of a canonical tensor type.
func leafTypeOf(name Name, t reflect.Type) (DType, int, error) {
	rank := 0
	for t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		rank++
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int64:
		return Int64, rank, nil
	case reflect.Float64:
		return Float64, rank, nil
	case reflect.String:
		return String, rank, nil
	case reflect.Bool:
		return Bool, rank, nil
	case reflect.Slice: // []byte
		return Bytes, rank, nil
	default:
		return "", 0, newError(KindTypeMismatch, name, "unsupported leaf type %s", t)
	}
}

// flattenValue lists an element's leaf values in the schema's pre-order.
// Structure disagreements fail with StructureMismatch.
func flattenValue(name Name, schema Schema, v any) ([]any, error) {
	var leaves []any
	err := walkValue(name, schema, v, func(leaf any) {
		leaves = append(leaves, leaf)
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

func walkValue(name Name, schema Schema, v any, fn func(any)) error {
	switch schema.kind {
	case leafSchema:
		fn(v)
		return nil
	case tupleSchema:
		t, ok := v.(Tuple)
		if !ok || len(t) != len(schema.elems) {
			return newError(KindStructureMismatch, name,
				"expected %d-tuple, got %T", len(schema.elems), v)
		}
		for i, c := range t {
			if err := walkValue(name, schema.elems[i], c, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		r, ok := v.(Record)
		if !ok || len(r) != len(schema.keys) {
			return newError(KindStructureMismatch, name,
				"expected record with %d fields, got %T", len(schema.keys), v)
		}
		for i, k := range schema.keys {
			c, present := r[k]
			if !present {
				return newError(KindStructureMismatch, name, "missing record field %q", k)
			}
			if err := walkValue(name, schema.elems[i], c, fn); err != nil {
				return err
			}
		}
		return nil
	}
}

// packValue rebuilds an element with the schema's nesting from pre-order
// leaves. Inverse of flattenValue.
func packValue(name Name, schema Schema, leaves []any) (any, error) {
	v, rest, err := packValueRec(name, schema, leaves)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, newError(KindStructureMismatch, name,
			"%d extra leaves after packing", len(rest))
	}
	return v, nil
}

func packValueRec(name Name, schema Schema, leaves []any) (any, []any, error) {
	switch schema.kind {
	case leafSchema:
		if len(leaves) == 0 {
			return nil, nil, newError(KindStructureMismatch, name, "not enough leaves to pack")
		}
		return leaves[0], leaves[1:], nil
	case tupleSchema:
		out := make(Tuple, len(schema.elems))
		rest := leaves
		for i, e := range schema.elems {
			var v any
			var err error
			v, rest, err = packValueRec(name, e, rest)
			if err != nil {
				return nil, nil, err
			}
			out[i] = v
		}
		return out, rest, nil
	default:
		out := make(Record, len(schema.keys))
		rest := leaves
		for i, k := range schema.keys {
			var v any
			var err error
			v, rest, err = packValueRec(name, schema.elems[i], rest)
			if err != nil {
				return nil, nil, err
			}
			out[k] = v
		}
		return out, rest, nil
	}
}

// validateValue checks a normalized element against its declared schema.
// Type and shape disagreements surface as distinct error kinds, and the
// check runs per element, not only on the first.
func validateValue(name Name, schema Schema, v any) error {
	got, err := inferSchema(name, v)
	if err != nil {
		return err
	}
	return assertProducedCompatible(name, schema, got)
}

func assertProducedCompatible(name Name, declared, got Schema) error {
	if declared.kind != got.kind || len(declared.elems) != len(got.elems) {
		return newError(KindStructureMismatch, name,
			"produced %s where %s was declared", got, declared)
	}
	if declared.kind == leafSchema {
		if declared.dtype != got.dtype {
			return newError(KindTypeMismatch, name,
				"produced %s element where %s was declared", got.dtype, declared.dtype)
		}
		if !declared.shape.Compatible(got.shape) {
			return newError(KindShapeMismatch, name,
				"produced shape %s where %s was declared", got.shape, declared.shape)
		}
		return nil
	}
	for i := range declared.elems {
		if declared.kind == recordSchema && declared.keys[i] != got.keys[i] {
			return newError(KindStructureMismatch, name,
				"produced field %q where %q was declared", got.keys[i], declared.keys[i])
		}
		if err := assertProducedCompatible(name, declared.elems[i], got.elems[i]); err != nil {
			return err
		}
	}
	return nil
}

// zeroScalar returns the default padding value for a dtype.
func zeroScalar(dtype DType) any {
	switch dtype {
	case Int64:
		return int64(0)
	case Float64:
		return float64(0)
	case String:
		return ""
	case Bool:
		return false
	default:
		return []byte{}
	}
}

// placeholderValue builds a representative zero element for a schema,
// used to resolve dynamic node schemas by invoking the user function
// once before any real data flows. Unknown dimensions materialize as
// empty.
func placeholderValue(schema Schema) any {
	switch schema.kind {
	case tupleSchema:
		out := make(Tuple, len(schema.elems))
		for i, e := range schema.elems {
			out[i] = placeholderValue(e)
		}
		return out
	case recordSchema:
		out := make(Record, len(schema.keys))
		for i, k := range schema.keys {
			out[k] = placeholderValue(schema.elems[i])
		}
		return out
	default:
		return placeholderLeaf(schema.dtype, schema.shape)
	}
}

func placeholderLeaf(dtype DType, shape Shape) any {
	if len(shape) == 0 {
		return zeroScalar(dtype)
	}
	dim := shape[0]
	if dim == UnknownDim {
		dim = 0
	}
	children := make([]any, dim)
	for i := range children {
		children[i] = placeholderLeaf(dtype, shape[1:])
	}
	if len(children) == 0 {
		t, _ := normalizeType("placeholder", reflect.TypeOf(placeholderLeaf(dtype, shape[1:])))
		return reflect.MakeSlice(reflect.SliceOf(t), 0, 0).Interface()
	}
	stacked, _ := stackValues("placeholder", children)
	return stacked
}

// padLeaf right-pads a leaf tensor out to dims, filling with pad. The
// value's own size along a dimension may not exceed the target.
func padLeaf(name Name, v any, dims []int64, pad any) (any, error) {
	if len(dims) == 0 {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, newError(KindShapeMismatch, name,
			"cannot pad rank-0 value to shape of rank %d", len(dims))
	}
	if int64(rv.Len()) > dims[0] {
		return nil, newError(KindInvalidArgument, name,
			"element dimension %d exceeds padded dimension %d", rv.Len(), dims[0])
	}
	children := make([]any, dims[0])
	for i := 0; i < rv.Len(); i++ {
		padded, err := padLeaf(name, rv.Index(i).Interface(), dims[1:], pad)
		if err != nil {
			return nil, err
		}
		children[i] = padded
	}
	for i := rv.Len(); int64(i) < dims[0]; i++ {
		children[i] = fullOf(dims[1:], pad)
	}
	if len(children) == 0 {
		t := reflect.TypeOf(fullOf(dims[1:], pad))
		return reflect.MakeSlice(reflect.SliceOf(t), 0, 0).Interface(), nil
	}
	return stackValues(name, children)
}

// fullOf builds a tensor of the given dimensions filled with pad.
func fullOf(dims []int64, pad any) any {
	if len(dims) == 0 {
		return pad
	}
	children := make([]any, dims[0])
	for i := range children {
		children[i] = fullOf(dims[1:], pad)
	}
	if len(children) == 0 {
		t := reflect.TypeOf(fullOf(dims[1:], pad))
		return reflect.MakeSlice(reflect.SliceOf(t), 0, 0).Interface()
	}
	full, _ := stackValues("padded_batch", children)
	return full
}

// convertToSchema rebuilds a JSON-decoded value into the canonical
// element form the schema declares. JSON loses integer-ness and encodes
// byte leaves as base64 strings; the schema recovers both.
func convertToSchema(name Name, schema Schema, v any) (any, error) {
	switch schema.kind {
	case tupleSchema:
		arr, ok := v.([]any)
		if !ok || len(arr) != len(schema.elems) {
			return nil, newError(KindStructureMismatch, name,
				"cached value is not a %d-tuple: %T", len(schema.elems), v)
		}
		out := make(Tuple, len(arr))
		for i, c := range arr {
			conv, err := convertToSchema(name, schema.elems[i], c)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case recordSchema:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, newError(KindStructureMismatch, name,
				"cached value is not a record: %T", v)
		}
		out := make(Record, len(schema.keys))
		for i, k := range schema.keys {
			c, present := m[k]
			if !present {
				return nil, newError(KindStructureMismatch, name,
					"cached record is missing field %q", k)
			}
			conv, err := convertToSchema(name, schema.elems[i], c)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	default:
		return convertLeaf(name, schema.dtype, schema.shape.Rank(), v)
	}
}

func convertLeaf(name Name, dtype DType, rank int, v any) (any, error) {
	if rank == 0 {
		switch dtype {
		case Int64:
			f, ok := v.(float64)
			if !ok {
				return nil, newError(KindTypeMismatch, name, "cached %T is not numeric", v)
			}
			return int64(f), nil
		case Float64:
			f, ok := v.(float64)
			if !ok {
				return nil, newError(KindTypeMismatch, name, "cached %T is not numeric", v)
			}
			return f, nil
		case String:
			s, ok := v.(string)
			if !ok {
				return nil, newError(KindTypeMismatch, name, "cached %T is not a string", v)
			}
			return s, nil
		case Bool:
			b, ok := v.(bool)
			if !ok {
				return nil, newError(KindTypeMismatch, name, "cached %T is not a bool", v)
			}
			return b, nil
		default:
			s, ok := v.(string)
			if !ok {
				return nil, newError(KindTypeMismatch, name, "cached %T is not bytes", v)
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, newError(KindTypeMismatch, name, "cached bytes: %v", err)
			}
			return raw, nil
		}
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, newError(KindShapeMismatch, name, "cached %T is not rank-%d", v, rank)
	}
	children := make([]any, len(arr))
	for i, c := range arr {
		conv, err := convertLeaf(name, dtype, rank-1, c)
		if err != nil {
			return nil, err
		}
		children[i] = conv
	}
	if len(children) == 0 {
		t := reflect.TypeOf(fullOf(make([]int64, rank-1), zeroScalar(dtype)))
		return reflect.MakeSlice(reflect.SliceOf(t), 0, 0).Interface(), nil
	}
	return stackValues(name, children)
}

// unpackArgs spreads a tuple element into user-function arguments;
// non-tuple elements pass as a single structured argument.
func unpackArgs(schema Schema, v any) []any {
	if schema.kind == tupleSchema {
		if t, ok := v.(Tuple); ok {
			return []any(t)
		}
	}
	return []any{v}
}
