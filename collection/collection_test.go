package collection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"unqlite/fastjson"
	"unqlite/kv"
	"unqlite/kv/memkv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	e := memkv.New()
	require.NoError(t, e.Init(kv.DefaultEngineOptions()))
	require.NoError(t, e.Open(0))
	return NewStore(e)
}

func TestPutFetchByID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Create("users", time.Now()))

	id, err := s.Put("users", fastjson.Object(
		fastjson.ObjectField{Key: "name", Value: fastjson.String("grace")},
	))
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	v, err := s.FetchByID("users", id)
	require.NoError(t, err)
	name, ok := v.Get("name").String()
	require.True(t, ok)
	require.Equal(t, "grace", name)

	injectedID, ok := v.Get("__id").Int()
	require.True(t, ok)
	require.Equal(t, int64(0), injectedID)

	total, err := s.TotalRecords("users")
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
}

func TestFetchNextWrapsToZero(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("items", time.Now()))

	for i := 0; i < 3; i++ {
		_, err := s.Put("items", fastjson.Object(fastjson.ObjectField{Key: "n", Value: fastjson.Int(int64(i))}))
		require.NoError(t, err)
	}

	var seen []uint64
	for {
		id, _, ok, err := s.FetchNext("items")
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, id)
	}
	require.Equal(t, []uint64{0, 1, 2}, seen)

	cur, err := s.CurrentRecordID("items")
	require.NoError(t, err)
	require.Equal(t, uint64(0), cur)
}

func TestDropRecordAndCollection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("notes", time.Now()))

	id, err := s.Put("notes", fastjson.String("hello"))
	require.NoError(t, err)

	require.NoError(t, s.DropRecord("notes", id))
	total, err := s.TotalRecords("notes")
	require.NoError(t, err)
	require.Equal(t, uint64(0), total)

	require.NoError(t, s.DropCollection("notes"))
	exists, err := s.Exists("notes")
	require.NoError(t, err)
	require.False(t, exists)
}
