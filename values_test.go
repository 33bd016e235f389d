package vmhost

import (
	"math"
	"reflect"
	"testing"

	"github.com/cryguy/vmhost/internal/core"
)

func sig(t *testing.T, s string) core.TypeSig {
	t.Helper()
	d, err := core.ParseDescriptor("(" + s + ")V")
	if err != nil {
		t.Fatal(err)
	}
	return d.Params[0]
}

func TestMarshalValue(t *testing.T) {
	b := &Bridge{rt: &Runtime{gen: 3}}
	live := &InstanceRef{ref: 9, typeName: "Word", gen: 3}
	stale := &InstanceRef{ref: 9, typeName: "Word", gen: 2}
	released := &InstanceRef{ref: 9, typeName: "Word", gen: 3}
	released.released.Store(true)

	tests := []struct {
		name string
		sig  string
		in   any
		want any
		ok   bool
	}{
		{"bool", "Z", true, true, true},
		{"bool from int", "Z", 1, nil, false},
		{"byte", "B", int8(-5), int64(-5), true},
		{"byte overflow", "B", 128, nil, false},
		{"short", "S", uint16(300), int64(300), true},
		{"short overflow", "S", 40000, nil, false},
		{"int", "I", 7, int64(7), true},
		{"int overflow", "I", int64(math.MaxInt32) + 1, nil, false},
		{"int underflow", "I", int64(math.MinInt32) - 1, nil, false},
		{"long", "J", int64(math.MinInt64), int64(math.MinInt64), true},
		{"long from huge uint", "J", uint64(math.MaxUint64), nil, false},
		{"int from float", "I", 1.5, nil, false},
		{"float", "F", float32(1.5), 1.5, true},
		{"float overflow", "F", math.MaxFloat64, nil, false},
		{"double from int", "D", 4, 4.0, true},
		{"double from string", "D", "4", nil, false},
		{"char rune", "C", 'x', "x", true},
		{"char string", "C", "é", "é", true},
		{"char outside BMP", "C", '😀', nil, false},
		{"char two letters", "C", "ab", nil, false},
		{"string", "Ljava/lang/String;", "hi", "hi", true},
		{"null string", "Ljava/lang/String;", nil, nil, true},
		{"string from int", "Ljava/lang/String;", 5, nil, false},
		{"object", "LWord;", live, core.Ref(9), true},
		{"null object", "LWord;", nil, nil, true},
		{"typed nil object", "LWord;", (*InstanceRef)(nil), nil, true},
		{"stale object", "LWord;", stale, nil, false},
		{"released object", "LWord;", released, nil, false},
		{"object from string", "LWord;", "Word", nil, false},
		{"bytes", "[B", []byte{1, 2}, []byte{1, 2}, true},
		{"bytes from int8", "[B", []int8{-1, 2}, []byte{255, 2}, true},
		{"nil bytes", "[B", []byte(nil), nil, true},
		{"strings", "[Ljava/lang/String;", []string{"a", "b"}, []any{"a", "b"}, true},
		{"ints", "[I", []int{1, 2}, []any{int64(1), int64(2)}, true},
		{"ints overflow", "[B", []int{1, 300}, nil, false},
		{"nested", "[[I", [][]int32{{1}, {2, 3}}, []any{[]any{int64(1)}, []any{int64(2), int64(3)}}, true},
		{"array from scalar", "[I", 5, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.marshalValue(sig(t, tt.sig), tt.in)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, ok want %v", err, tt.ok)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMarshalArgs_Arity(t *testing.T) {
	b := &Bridge{rt: &Runtime{gen: 1}}
	d, _ := core.ParseDescriptor("(II)I")
	if _, err := b.marshalArgs(d, []any{1}); err == nil {
		t.Fatal("expected arity error")
	}
	got, err := b.marshalArgs(d, []any{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []any{int64(1), int64(2)}) {
		t.Fatalf("got %#v", got)
	}
}

func TestConvertResult(t *testing.T) {
	b := &Bridge{rt: &Runtime{gen: 4}}
	ret := func(s string) core.TypeSig {
		d, err := core.ParseDescriptor("()" + s)
		if err != nil {
			t.Fatal(err)
		}
		return d.Return
	}

	tests := []struct {
		sig  string
		in   any
		want any
	}{
		{"V", nil, nil},
		{"Z", true, true},
		{"B", int64(-1), int8(-1)},
		{"S", int64(12), int16(12)},
		{"I", int64(42), int32(42)},
		{"J", int64(1 << 40), int64(1 << 40)},
		{"F", 0.5, float32(0.5)},
		{"D", 0.25, 0.25},
		{"C", "é", 'é'},
		{"Ljava/lang/String;", "s", "s"},
		{"Ljava/lang/String;", nil, nil},
		{"[B", []byte{1}, []byte{1}},
		{"[I", []any{int64(1), int64(2)}, []any{int32(1), int32(2)}},
		{"LWord;", nil, nil},
	}
	for _, tt := range tests {
		got, err := b.convertResult(ret(tt.sig), tt.in)
		if err != nil {
			t.Errorf("%s: %v", tt.sig, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %#v, want %#v", tt.sig, got, tt.want)
		}
	}

	obj, err := b.convertResult(ret("LWord;"), core.Ref(5))
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := obj.(*InstanceRef)
	if !ok || ref.ref != 5 || ref.gen != 4 || ref.TypeName() != "Word" {
		t.Fatalf("object result = %#v", obj)
	}

	if _, err := b.convertResult(ret("I"), nil); err == nil {
		t.Fatal("null int converted without error")
	}
	if _, err := b.convertResult(ret("I"), "x"); err == nil {
		t.Fatal("string converted to int without error")
	}
}

func TestConvertResult_IntegralRange(t *testing.T) {
	b := &Bridge{rt: &Runtime{gen: 1}}
	tests := []struct {
		sig string
		in  int64
	}{
		{"B", 128},
		{"B", -129},
		{"S", 1 << 15},
		{"I", 1 << 31},
		{"I", -(1 << 31) - 1},
	}
	for _, tt := range tests {
		d, _ := core.ParseDescriptor("()" + tt.sig)
		if got, err := b.convertResult(d.Return, tt.in); err == nil {
			t.Errorf("%s %d: narrowed to %#v without error", tt.sig, tt.in, got)
		}
	}
}
