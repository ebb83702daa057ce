package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"unqlite/collection"
	"unqlite/fastjson"
	"unqlite/kv"
	"unqlite/kv/memkv"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := memkv.New()
	require.NoError(t, e.Init(kv.DefaultEngineOptions()))
	require.NoError(t, e.Open(0))
	return New(collection.NewStore(e), nil, e)
}

func TestCollectionCreateIsIdempotent(t *testing.T) {
	v := newTestEngine(t)

	created, err := v.CollectionCreate("users")
	require.NoError(t, err)
	require.True(t, created)

	createdAgain, err := v.CollectionCreate("users")
	require.NoError(t, err)
	require.False(t, createdAgain)

	exists, err := v.CollectionExists("users")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPutArrayStoresMemberwise(t *testing.T) {
	v := newTestEngine(t)
	_, err := v.CollectionCreate("events")
	require.NoError(t, err)

	arr := fastjson.Array(
		fastjson.Object(fastjson.ObjectField{Key: "n", Value: fastjson.Int(1)}),
		fastjson.Object(fastjson.ObjectField{Key: "n", Value: fastjson.Int(2)}),
		fastjson.Object(fastjson.ObjectField{Key: "n", Value: fastjson.Int(3)}),
	)
	ok, err := v.Put("events", arr)
	require.NoError(t, err)
	require.True(t, ok)

	total, _, err := v.TotalRecords("events")
	require.NoError(t, err)
	require.Equal(t, uint64(3), total)
}

func TestFetchByIDMissingReturnsNull(t *testing.T) {
	v := newTestEngine(t)
	_, err := v.CollectionCreate("things")
	require.NoError(t, err)

	val, err := v.FetchByID("things", 999)
	require.NoError(t, err)
	require.True(t, val.IsNull())
}

func TestFetchAllAppliesFilter(t *testing.T) {
	v := newTestEngine(t)
	_, err := v.CollectionCreate("nums")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := v.Put("nums", fastjson.Object(fastjson.ObjectField{Key: "n", Value: fastjson.Int(int64(i))}))
		require.NoError(t, err)
	}

	evens, err := v.FetchAll("nums", func(val *fastjson.Value) (bool, error) {
		n, _ := val.Get("n").Int()
		return n%2 == 0, nil
	})
	require.NoError(t, err)
	require.Len(t, evens, 3)
}

func TestDropRecordAndDropCollection(t *testing.T) {
	v := newTestEngine(t)
	_, err := v.CollectionCreate("temp")
	require.NoError(t, err)

	_, ok, err := v.Fetch("temp")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = v.Put("temp", fastjson.String("x"))
	require.NoError(t, err)

	ok, err := v.DropRecord("temp", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.DropCollection("temp")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSchemaRoundTrip(t *testing.T) {
	v := newTestEngine(t)
	_, err := v.CollectionCreate("typed")
	require.NoError(t, err)

	schema := fastjson.Object(fastjson.ObjectField{Key: "type", Value: fastjson.String("object")})
	ok, err := v.SetSchema("typed", schema)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := v.GetSchema("typed")
	require.NoError(t, err)
	s, ok := got.Get("type").String()
	require.True(t, ok)
	require.Equal(t, "object", s)
}

func TestBeginCommitRollbackAreNoOpsWithoutPager(t *testing.T) {
	v := newTestEngine(t)
	ok, err := v.Begin()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Rollback()
	require.NoError(t, err)
	require.True(t, ok)
}
