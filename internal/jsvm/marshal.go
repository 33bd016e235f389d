package jsvm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cryguy/vmhost/internal/core"
)

// envelope is the JSON result of one call script.
type envelope struct {
	T     string          `json:"t"`
	V     json.RawMessage `json:"v"`
	Class string          `json:"cls"`
	Msg   string          `json:"msg"`
	Stack string          `json:"stack"`
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// argList renders args as a comma-separated list of JS expressions typed by
// params. Byte arrays are staged through the binary transferer when the
// engine has one; stage receives each staged global name.
func (v *VM) argList(params []core.TypeSig, args []any, stage func(string)) (string, error) {
	if len(args) != len(params) {
		return "", fmt.Errorf("descriptor takes %d arguments, got %d", len(params), len(args))
	}
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := v.argExpr(params[i], a, stage)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		parts[i] = s
	}
	return strings.Join(parts, ","), nil
}

func (v *VM) argExpr(t core.TypeSig, a any, stage func(string)) (string, error) {
	switch t.Kind {
	case core.KindBoolean:
		b, ok := a.(bool)
		if !ok {
			return "", mismatch(t, a)
		}
		return strconv.FormatBool(b), nil
	case core.KindByte, core.KindShort, core.KindInt, core.KindLong:
		n, ok := a.(int64)
		if !ok {
			return "", mismatch(t, a)
		}
		return strconv.FormatInt(n, 10), nil
	case core.KindFloat, core.KindDouble:
		f, ok := a.(float64)
		if !ok {
			return "", mismatch(t, a)
		}
		return floatLiteral(f), nil
	case core.KindChar:
		s, ok := a.(string)
		if !ok || len([]rune(s)) != 1 {
			return "", mismatch(t, a)
		}
		return jsString(s), nil
	case core.KindObject:
		if a == nil {
			return "null", nil
		}
		if t.IsString() {
			s, ok := a.(string)
			if !ok {
				return "", mismatch(t, a)
			}
			return jsString(s), nil
		}
		r, ok := a.(core.Ref)
		if !ok {
			return "", mismatch(t, a)
		}
		if r == 0 {
			return "null", nil
		}
		return fmt.Sprintf("H.get(%d)", uint64(r)), nil
	case core.KindArray:
		if a == nil {
			return "null", nil
		}
		if t.IsBytes() {
			b, ok := a.([]byte)
			if !ok {
				return "", mismatch(t, a)
			}
			return v.bytesExpr(b, stage)
		}
		elems, ok := a.([]any)
		if !ok {
			return "", mismatch(t, a)
		}
		parts := make([]string, len(elems))
		for i, e := range elems {
			s, err := v.argExpr(*t.Elem, e, stage)
			if err != nil {
				return "", fmt.Errorf("element %d: %w", i, err)
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	}
	return "", fmt.Errorf("unsupported parameter type %s", t)
}

func (v *VM) bytesExpr(b []byte, stage func(string)) (string, error) {
	if v.bin != nil {
		v.staged++
		name := fmt.Sprintf("__vmhost_in_%d", v.staged)
		if err := v.bin.WriteBinaryToJS(name, b); err != nil {
			return "", fmt.Errorf("staging byte array: %w", err)
		}
		stage(name)
		return fmt.Sprintf("H.bytes(H.take(%q))", name), nil
	}
	var sb strings.Builder
	sb.WriteString("new Int8Array([")
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(int8(c))))
	}
	sb.WriteString("])")
	return sb.String(), nil
}

func floatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func mismatch(t core.TypeSig, a any) error {
	return fmt.Errorf("%T is not assignable to %s", a, t)
}

var intRange = map[byte][2]int64{
	core.KindByte:  {math.MinInt8, math.MaxInt8},
	core.KindShort: {math.MinInt16, math.MaxInt16},
	core.KindInt:   {math.MinInt32, math.MaxInt32},
	core.KindLong:  {math.MinInt64, math.MaxInt64},
}

// decodeValue converts an envelope value to its canonical Go form.
func decodeValue(t core.TypeSig, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		switch t.Kind {
		case core.KindObject, core.KindArray, core.KindVoid:
			return nil, nil
		}
		return nil, fmt.Errorf("null returned for %s", t)
	}
	switch t.Kind {
	case core.KindBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case core.KindByte, core.KindShort, core.KindInt, core.KindLong:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return nil, ferr
			}
			// [-2^63, 2^63) is exactly the float64 range that converts
			// to int64 without wrapping.
			if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
				return nil, fmt.Errorf("%s out of range for %s", n, t)
			}
			i = int64(f)
		}
		if r := intRange[t.Kind]; i < r[0] || i > r[1] {
			return nil, fmt.Errorf("%d out of range for %s", i, t)
		}
		return i, nil
	case core.KindFloat, core.KindDouble:
		var s string
		if json.Unmarshal(raw, &s) == nil {
			switch s {
			case "NaN":
				return math.NaN(), nil
			case "Infinity":
				return math.Inf(1), nil
			case "-Infinity":
				return math.Inf(-1), nil
			}
			return nil, fmt.Errorf("bad float %q", s)
		}
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case core.KindChar:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case core.KindObject:
		if t.IsString() {
			var s string
			err := json.Unmarshal(raw, &s)
			return s, err
		}
		var r struct {
			R uint64 `json:"r"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return core.Ref(r.R), nil
	case core.KindArray:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		if t.IsBytes() {
			out := make([]byte, len(elems))
			for i, e := range elems {
				var n int64
				if err := json.Unmarshal(e, &n); err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				out[i] = byte(n)
			}
			return out, nil
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			v, err := decodeValue(*t.Elem, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported return type %s", t)
}
