package fastjson

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := Object(
		ObjectField{Key: "name", Value: String("ada")},
		ObjectField{Key: "age", Value: Int(36)},
		ObjectField{Key: "active", Value: Bool(true)},
		ObjectField{Key: "tags", Value: Array(String("x"), String("y"))},
		ObjectField{Key: "score", Value: Real(3.5)},
		ObjectField{Key: "nothing", Value: Null()},
	)

	buf, err := Encode(v)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	name, ok := decoded.Get("name").String()
	require.True(t, ok)
	require.Equal(t, "ada", name)

	age, ok := decoded.Get("age").Int()
	require.True(t, ok)
	require.Equal(t, int64(36), age)

	active, ok := decoded.Get("active").Bool()
	require.True(t, ok)
	require.True(t, active)

	tags, ok := decoded.Get("tags").Array()
	require.True(t, ok)
	require.Len(t, tags, 2)

	require.True(t, decoded.Get("nothing").IsNull())
}

func TestWithFieldInjectsID(t *testing.T) {
	v := Object(ObjectField{Key: "x", Value: Int(1)})
	withID := v.WithField("__id", Int(42))

	id, ok := withID.Get("__id").Int()
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	x, ok := withID.Get("x").Int()
	require.True(t, ok)
	require.Equal(t, int64(1), x)
}

func TestNestingLimitRejected(t *testing.T) {
	v := Null()
	for i := 0; i < MaxNesting+5; i++ {
		v = Array(v)
	}
	_, err := Encode(v)
	require.Error(t, err)
}

func TestArrayOfStringsRoundTripsInOrder(t *testing.T) {
	want := []string{"one", "two", "three", "four"}
	items := make([]*Value, len(want))
	for i, s := range want {
		items[i] = String(s)
	}

	buf, err := Encode(Array(items...))
	require.NoError(t, err)
	decoded, err := Decode(buf)
	require.NoError(t, err)

	arr, ok := decoded.Array()
	require.True(t, ok)
	got := make([]string, len(arr))
	for i, v := range arr {
		got[i], _ = v.String()
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-tripped array mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTruncatedIsCorrupt(t *testing.T) {
	buf, err := Encode(String("hello"))
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-2])
	require.Error(t, err)
}
