package vmhost

import (
	"fmt"
	"math"
	"reflect"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cryguy/vmhost/internal/core"
)

// marshalArgs converts Go arguments to the canonical forms the embedding
// API takes, checked against the method's parameter types.
func (b *Bridge) marshalArgs(d *core.Descriptor, args []any) ([]any, error) {
	if len(args) != len(d.Params) {
		return nil, fmt.Errorf("descriptor %s takes %d argument(s), got %d", d, len(d.Params), len(args))
	}
	out := make([]any, len(args))
	for i, a := range args {
		v, err := b.marshalValue(d.Params[i], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, d.Params[i], err)
		}
		out[i] = v
	}
	return out, nil
}

var intRange = map[byte][2]int64{
	core.KindByte:  {math.MinInt8, math.MaxInt8},
	core.KindShort: {math.MinInt16, math.MaxInt16},
	core.KindInt:   {math.MinInt32, math.MaxInt32},
	core.KindLong:  {math.MinInt64, math.MaxInt64},
}

func (b *Bridge) marshalValue(t core.TypeSig, a any) (any, error) {
	switch t.Kind {
	case core.KindBoolean:
		v, ok := a.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", a)
		}
		return v, nil

	case core.KindByte, core.KindShort, core.KindInt, core.KindLong:
		n, err := toInt64(a)
		if err != nil {
			return nil, err
		}
		r := intRange[t.Kind]
		if n < r[0] || n > r[1] {
			return nil, fmt.Errorf("%d out of range [%d, %d]", n, r[0], r[1])
		}
		return n, nil

	case core.KindFloat, core.KindDouble:
		f, err := toFloat64(a)
		if err != nil {
			return nil, err
		}
		if t.Kind == core.KindFloat && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%g overflows float32", f)
		}
		return f, nil

	case core.KindChar:
		var r rune
		switch v := a.(type) {
		case rune:
			r = v
		case string:
			if utf8.RuneCountInString(v) != 1 {
				return nil, fmt.Errorf("want a single character, got %q", v)
			}
			r, _ = utf8.DecodeRuneInString(v)
		default:
			return nil, fmt.Errorf("want rune, got %T", a)
		}
		if r < 0 || r > 0xFFFF || utf16.IsSurrogate(r) || !utf8.ValidRune(r) {
			return nil, fmt.Errorf("%U is not a 16-bit character", r)
		}
		return string(r), nil

	case core.KindObject:
		if a == nil {
			return nil, nil
		}
		if t.IsString() {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("want string, got %T", a)
			}
			return s, nil
		}
		ref, ok := a.(*InstanceRef)
		if !ok {
			return nil, fmt.Errorf("want *InstanceRef, got %T", a)
		}
		if ref == nil {
			return nil, nil
		}
		if ref.gen != b.rt.gen {
			return nil, fmt.Errorf("reference from generation %d used with generation %d", ref.gen, b.rt.gen)
		}
		if ref.released.Load() {
			return nil, fmt.Errorf("reference to %s was released", ref.typeName)
		}
		return ref.ref, nil

	case core.KindArray:
		if a == nil {
			return nil, nil
		}
		if t.IsBytes() {
			switch v := a.(type) {
			case []byte:
				if v == nil {
					return nil, nil
				}
				return v, nil
			case []int8:
				out := make([]byte, len(v))
				for i, c := range v {
					out[i] = byte(c)
				}
				return out, nil
			}
		}
		rv := reflect.ValueOf(a)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("want slice, got %T", a)
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			v, err := b.marshalValue(*t.Elem, rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		if t.IsBytes() {
			bs := make([]byte, len(out))
			for i, v := range out {
				bs[i] = byte(v.(int64))
			}
			return bs, nil
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %s", t)
}

func toInt64(a any) (int64, error) {
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("want an integer, got %T", a)
}

func toFloat64(a any) (float64, error) {
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	n, err := toInt64(a)
	if err != nil {
		return 0, fmt.Errorf("want a number, got %T", a)
	}
	return float64(n), nil
}

func checkRange(t core.TypeSig, n int64) error {
	if r := intRange[t.Kind]; n < r[0] || n > r[1] {
		return fmt.Errorf("%d returned for %s, out of range [%d, %d]", n, t, r[0], r[1])
	}
	return nil
}

// convertResult narrows a canonical return value to the Go type of the
// descriptor's return kind.
func (b *Bridge) convertResult(t core.TypeSig, v any) (any, error) {
	if v == nil {
		switch t.Kind {
		case core.KindVoid, core.KindObject, core.KindArray:
			return nil, nil
		}
		return nil, fmt.Errorf("null returned for %s", t)
	}
	switch t.Kind {
	case core.KindVoid:
		return nil, nil
	case core.KindBoolean:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	case core.KindByte:
		if n, ok := v.(int64); ok {
			if err := checkRange(t, n); err != nil {
				return nil, err
			}
			return int8(n), nil
		}
	case core.KindShort:
		if n, ok := v.(int64); ok {
			if err := checkRange(t, n); err != nil {
				return nil, err
			}
			return int16(n), nil
		}
	case core.KindInt:
		if n, ok := v.(int64); ok {
			if err := checkRange(t, n); err != nil {
				return nil, err
			}
			return int32(n), nil
		}
	case core.KindLong:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case core.KindFloat:
		if f, ok := v.(float64); ok {
			return float32(f), nil
		}
	case core.KindDouble:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case core.KindChar:
		if s, ok := v.(string); ok {
			r, _ := utf8.DecodeRuneInString(s)
			return r, nil
		}
	case core.KindObject:
		if t.IsString() {
			if s, ok := v.(string); ok {
				return s, nil
			}
			break
		}
		if ref, ok := v.(core.Ref); ok {
			if ref == 0 {
				return nil, nil
			}
			return &InstanceRef{ref: ref, typeName: t.Class, gen: b.rt.gen}, nil
		}
	case core.KindArray:
		if t.IsBytes() {
			if bs, ok := v.([]byte); ok {
				return bs, nil
			}
			break
		}
		if elems, ok := v.([]any); ok {
			out := make([]any, len(elems))
			for i, e := range elems {
				c, err := b.convertResult(*t.Elem, e)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				out[i] = c
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%T returned for %s", v, t)
}
