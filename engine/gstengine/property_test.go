package gstengine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyzimmer/go-glib/glib"

	"github.com/Idein/actfw-gstreamer/engine"
)

func TestPropKind(t *testing.T) {
	tests := []struct {
		t    glib.Type
		want engine.PropKind
	}{
		{glib.TYPE_STRING, engine.PropString},
		{glib.TYPE_INT, engine.PropInt},
		{glib.TYPE_UINT, engine.PropUint},
		{glib.TYPE_INT64, engine.PropInt64},
		{glib.TYPE_LONG, engine.PropInt64},
		{glib.TYPE_UINT64, engine.PropUint64},
		{glib.TYPE_ULONG, engine.PropUint64},
		{glib.TYPE_FLOAT, engine.PropFloat},
		{glib.TYPE_DOUBLE, engine.PropDouble},
		{glib.TYPE_BOOLEAN, engine.PropBool},
		{glib.TYPE_ENUM, engine.PropEnum},
		{glib.TYPE_FLAGS, engine.PropFlags},
		{glib.TYPE_POINTER, engine.PropOther},
	}
	for _, tc := range tests {
		t.Run(tc.t.Name(), func(t *testing.T) {
			require.Equal(t, tc.want, propKind(tc.t))
		})
	}
}

// Every basic GValue must carry the property's exact type, or
// g_object_set_property rejects it.
func TestPropValue_ExactType(t *testing.T) {
	tests := []struct {
		t    glib.Type
		in   engine.Value
		want any
	}{
		{glib.TYPE_UINT, engine.Int(1), uint(1)},
		{glib.TYPE_INT, engine.Int(-3), -3},
		{glib.TYPE_UINT64, engine.Int(20000000), uint64(20000000)},
		{glib.TYPE_INT64, engine.Int(-7), int64(-7)},
		{glib.TYPE_DOUBLE, engine.Int(2), 2.0},
		{glib.TYPE_BOOLEAN, engine.Bool(true), true},
		{glib.TYPE_STRING, engine.String("tcp://proxy:3128"), "tcp://proxy:3128"},
	}
	for _, tc := range tests {
		t.Run(tc.t.Name(), func(t *testing.T) {
			v, err := engine.Coerce(propKind(tc.t), tc.in)
			require.NoError(t, err)
			gv, err := propValue(tc.t, v)
			require.NoError(t, err)

			actual, _, err := gv.Type()
			require.NoError(t, err)
			require.Equal(t, tc.t, actual)

			got, err := gv.GoValue()
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPropValue_LongParsedFromString(t *testing.T) {
	Init(nil)
	v, err := engine.Coerce(propKind(glib.TYPE_LONG), engine.Int(42))
	require.NoError(t, err)
	gv, err := propValue(glib.TYPE_LONG, v)
	require.NoError(t, err)

	actual, _, err := gv.Type()
	require.NoError(t, err)
	require.Equal(t, glib.TYPE_LONG, actual)
}

func TestPropValue_RejectsWrongKind(t *testing.T) {
	_, err := engine.Coerce(propKind(glib.TYPE_UINT), engine.String("1"))
	require.ErrorIs(t, err, engine.ErrPropertyType)

	_, err = propValue(glib.TYPE_UINT, "1")
	require.ErrorIs(t, err, engine.ErrPropertyType)
}
