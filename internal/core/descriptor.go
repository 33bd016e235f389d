package core

import (
	"fmt"
	"strings"
)

// Type kinds used in method descriptors.
const (
	KindBoolean byte = 'Z'
	KindByte    byte = 'B'
	KindChar    byte = 'C'
	KindShort   byte = 'S'
	KindInt     byte = 'I'
	KindLong    byte = 'J'
	KindFloat   byte = 'F'
	KindDouble  byte = 'D'
	KindVoid    byte = 'V'
	KindObject  byte = 'L'
	KindArray   byte = '['
)

// StringClass is the internal name of the string type.
const StringClass = "java/lang/String"

// TypeSig is one parsed field type of a method descriptor.
type TypeSig struct {
	Kind  byte
	Class string   // internal class name for KindObject
	Elem  *TypeSig // element type for KindArray
}

// String renders the type back into descriptor form.
func (t TypeSig) String() string {
	switch t.Kind {
	case KindObject:
		return "L" + t.Class + ";"
	case KindArray:
		return "[" + t.Elem.String()
	default:
		return string(t.Kind)
	}
}

// IsString reports whether t is the string class.
func (t TypeSig) IsString() bool {
	return t.Kind == KindObject && t.Class == StringClass
}

// IsBytes reports whether t is a byte array.
func (t TypeSig) IsBytes() bool {
	return t.Kind == KindArray && t.Elem.Kind == KindByte
}

// IsReference reports whether values of t cross the boundary as references
// rather than by value: objects other than strings.
func (t TypeSig) IsReference() bool {
	return t.Kind == KindObject && !t.IsString()
}

// IsIntegral reports whether t is one of the integer primitives.
func (t TypeSig) IsIntegral() bool {
	switch t.Kind {
	case KindByte, KindShort, KindInt, KindLong:
		return true
	}
	return false
}

// Descriptor is a parsed method descriptor such as "(I[Ljava/lang/String;)V".
type Descriptor struct {
	Params []TypeSig
	Return TypeSig
	raw    string
}

func (d *Descriptor) String() string { return d.raw }

// ParseDescriptor parses a method descriptor.
func ParseDescriptor(s string) (*Descriptor, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, fmt.Errorf("descriptor %q: missing '('", s)
	}
	d := &Descriptor{raw: s}
	pos := 1
	for {
		if pos >= len(s) {
			return nil, fmt.Errorf("descriptor %q: missing ')'", s)
		}
		if s[pos] == ')' {
			pos++
			break
		}
		t, n, err := parseField(s, pos, false)
		if err != nil {
			return nil, err
		}
		d.Params = append(d.Params, t)
		pos = n
	}
	ret, n, err := parseField(s, pos, true)
	if err != nil {
		return nil, err
	}
	if n != len(s) {
		return nil, fmt.Errorf("descriptor %q: trailing characters after return type", s)
	}
	d.Return = ret
	return d, nil
}

func parseField(s string, pos int, allowVoid bool) (TypeSig, int, error) {
	if pos >= len(s) {
		return TypeSig{}, pos, fmt.Errorf("descriptor %q: truncated at offset %d", s, pos)
	}
	switch c := s[pos]; c {
	case KindBoolean, KindByte, KindChar, KindShort, KindInt, KindLong, KindFloat, KindDouble:
		return TypeSig{Kind: c}, pos + 1, nil
	case KindVoid:
		if !allowVoid {
			return TypeSig{}, pos, fmt.Errorf("descriptor %q: void parameter at offset %d", s, pos)
		}
		return TypeSig{Kind: c}, pos + 1, nil
	case KindObject:
		end := strings.IndexByte(s[pos:], ';')
		if end <= 1 {
			return TypeSig{}, pos, fmt.Errorf("descriptor %q: bad class name at offset %d", s, pos)
		}
		return TypeSig{Kind: c, Class: s[pos+1 : pos+end]}, pos + end + 1, nil
	case KindArray:
		elem, n, err := parseField(s, pos+1, false)
		if err != nil {
			return TypeSig{}, pos, err
		}
		return TypeSig{Kind: c, Elem: &elem}, n, nil
	default:
		return TypeSig{}, pos, fmt.Errorf("descriptor %q: unknown type %q at offset %d", s, c, pos)
	}
}
