package gstengine

import (
	"fmt"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Idein/actfw-gstreamer/engine"
)

// propKind maps a GObject property type to its engine kind.
func propKind(t glib.Type) engine.PropKind {
	switch {
	case t.IsA(glib.TYPE_ENUM):
		return engine.PropEnum
	case t.IsA(glib.TYPE_FLAGS):
		return engine.PropFlags
	}
	switch t {
	case glib.TYPE_STRING:
		return engine.PropString
	case glib.TYPE_INT:
		return engine.PropInt
	case glib.TYPE_UINT:
		return engine.PropUint
	case glib.TYPE_INT64, glib.TYPE_LONG:
		return engine.PropInt64
	case glib.TYPE_UINT64, glib.TYPE_ULONG:
		return engine.PropUint64
	case glib.TYPE_FLOAT:
		return engine.PropFloat
	case glib.TYPE_DOUBLE:
		return engine.PropDouble
	case glib.TYPE_BOOLEAN:
		return engine.PropBool
	}
	return engine.PropOther
}

// propValue builds a GValue of exactly type t, as g_object_set_property
// requires. v comes from engine.Coerce. Types without a direct setter are
// parsed from their string form, which also resolves enum and flags nicks.
func propValue(t glib.Type, v any) (*glib.Value, error) {
	switch t {
	case glib.TYPE_STRING, glib.TYPE_INT, glib.TYPE_UINT, glib.TYPE_INT64,
		glib.TYPE_UINT64, glib.TYPE_FLOAT, glib.TYPE_DOUBLE, glib.TYPE_BOOLEAN:
	default:
		s := fmt.Sprint(v)
		gv, ok := gst.ValueDeserialize(s, t)
		if !ok {
			return nil, fmt.Errorf("%w: cannot parse %q as %s", engine.ErrPropertyType, s, t.Name())
		}
		return gv, nil
	}

	gv, err := glib.ValueInit(t)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case string:
		gv.SetString(x)
	case int32:
		gv.SetInt(int(x))
	case uint32:
		gv.SetUInt(uint(x))
	case int64:
		gv.SetInt64(x)
	case uint64:
		gv.SetUInt64(x)
	case float32:
		gv.SetFloat(x)
	case float64:
		gv.SetDouble(x)
	case bool:
		gv.SetBool(x)
	default:
		return nil, fmt.Errorf("%w: %T for %s", engine.ErrPropertyType, v, t.Name())
	}
	return gv, nil
}

func (e *element) setProperty(name string, value engine.Value) error {
	t, err := e.elem.GetPropertyType(name)
	if err != nil {
		return fmt.Errorf("gstengine: %s has no property %q", e.factory, name)
	}
	v, err := engine.Coerce(propKind(t), value)
	if err != nil {
		return err
	}
	gv, err := propValue(t, v)
	if err != nil {
		return err
	}
	return e.elem.SetPropertyValue(name, gv)
}
