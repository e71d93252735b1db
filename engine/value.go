package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a property value. The set of kinds is closed: Int, Float, Bool and
// String. Engine-specific types (enums, flags) are given as String and
// resolved by the engine.
type Value interface {
	fmt.Stringer
	isValue()
}

type (
	Int    int64
	Float  float64
	Bool   bool
	String string
)

func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (String) isValue() {}

func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v String) String() string { return string(v) }

// Props maps property names to values.
type Props map[string]Value

// Clone returns a copy of p.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	c := make(Props, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Keys returns the property names in sorted order, so properties are always
// applied in the same order.
func (p Props) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders p as gst-launch style "k=v" pairs.
func (p Props) String() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, k+"="+p[k].String())
	}
	return strings.Join(parts, " ")
}
