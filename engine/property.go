package engine

import (
	"errors"
	"fmt"
	"math"
)

// ErrPropertyType reports a value that cannot be stored in a property.
var ErrPropertyType = errors.New("value does not fit property type")

// PropKind is the fundamental type of an element property. PropInt and
// PropUint are the 32-bit gint and guint; PropInt64 and PropUint64 also
// cover glong and gulong.
type PropKind int

const (
	PropString PropKind = iota
	PropInt
	PropUint
	PropInt64
	PropUint64
	PropFloat
	PropDouble
	PropBool
	PropEnum
	PropFlags
	// PropOther covers every type the engine can only parse from a string.
	PropOther
)

var propKindNames = [...]string{
	PropString: "string",
	PropInt:    "int",
	PropUint:   "uint",
	PropInt64:  "int64",
	PropUint64: "uint64",
	PropFloat:  "float",
	PropDouble: "double",
	PropBool:   "boolean",
	PropEnum:   "enum",
	PropFlags:  "flags",
	PropOther:  "other",
}

func (k PropKind) String() string {
	if k < 0 || int(k) >= len(propKindNames) {
		return fmt.Sprintf("PropKind(%d)", int(k))
	}
	return propKindNames[k]
}

// Coerce converts v to the Go type holding a property of the given kind:
// int32, uint32, int64, uint64, float32, float64, bool or string. Enum, flags
// and other kinds yield the string form of v for the engine to parse, so enum
// nicks and numeric values are both accepted there.
func Coerce(kind PropKind, v Value) (any, error) {
	switch kind {
	case PropString:
		if s, ok := v.(String); ok {
			return string(s), nil
		}
	case PropInt:
		if i, ok := v.(Int); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, rangeError(kind, v)
			}
			return int32(i), nil
		}
	case PropUint:
		if i, ok := v.(Int); ok {
			if i < 0 || i > math.MaxUint32 {
				return nil, rangeError(kind, v)
			}
			return uint32(i), nil
		}
	case PropInt64:
		if i, ok := v.(Int); ok {
			return int64(i), nil
		}
	case PropUint64:
		if i, ok := v.(Int); ok {
			if i < 0 {
				return nil, rangeError(kind, v)
			}
			return uint64(i), nil
		}
	case PropFloat:
		if f, ok := number(v); ok {
			if math.Abs(f) > math.MaxFloat32 {
				return nil, rangeError(kind, v)
			}
			return float32(f), nil
		}
	case PropDouble:
		if f, ok := number(v); ok {
			return f, nil
		}
	case PropBool:
		if b, ok := v.(Bool); ok {
			return bool(b), nil
		}
	case PropEnum, PropFlags:
		switch v.(type) {
		case Int:
			return v.String(), nil
		case String:
			if v.String() == "" {
				return nil, fmt.Errorf("%w: empty %s value", ErrPropertyType, kind)
			}
			return v.String(), nil
		}
	case PropOther:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrPropertyType, kind)
	}
	return nil, fmt.Errorf("%w: %s %q for %s property", ErrPropertyType, valueKind(v), v, kind)
}

func number(v Value) (float64, bool) {
	switch x := v.(type) {
	case Float:
		return float64(x), true
	case Int:
		return float64(x), true
	}
	return 0, false
}

func rangeError(kind PropKind, v Value) error {
	return fmt.Errorf("%w: %s is out of range for %s property", ErrPropertyType, v, kind)
}

func valueKind(v Value) string {
	switch v.(type) {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	}
	return fmt.Sprintf("%T", v)
}
