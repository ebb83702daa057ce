package memkv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"unqlite/kv"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	require.NoError(t, e.Init(kv.DefaultEngineOptions()))
	require.NoError(t, e.Open(0))
	return e
}

func TestReplaceInsertsThenUpdates(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Replace([]byte("a"), []byte("1")))
	require.NoError(t, e.Replace([]byte("a"), []byte("2")))

	c := e.NewCursor()
	require.NoError(t, c.Seek([]byte("a"), kv.SeekExact))
	data, err := kv.DataBytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), data)
	require.Equal(t, 1, e.count)
}

func TestSeekMissingIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	c := e.NewCursor()
	err := c.Seek([]byte("nope"), kv.SeekExact)
	require.True(t, kv.IsNotFound(err))
}

func TestCursorPreservesInsertionOrder(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Append([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}

	var order []string
	c := e.NewCursor()
	for err := c.First(); err == nil; err = c.Next() {
		k, err := kv.KeyBytes(c)
		require.NoError(t, err)
		order = append(order, string(k))
	}
	require.Equal(t, []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9"}, order)
}

func TestDeleteViaCursorAdvancesToSibling(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append([]byte("a"), []byte("1")))
	require.NoError(t, e.Append([]byte("b"), []byte("2")))
	require.NoError(t, e.Append([]byte("c"), []byte("3")))

	c := e.NewCursor()
	require.NoError(t, c.Seek([]byte("b"), kv.SeekExact))
	require.NoError(t, e.Delete(c))

	require.True(t, c.Valid())
	k, err := kv.KeyBytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), k)
	require.Equal(t, 2, e.count)

	missing := e.NewCursor()
	err = missing.Seek([]byte("b"), kv.SeekExact)
	require.True(t, kv.IsNotFound(err))
}

func TestGrowthRehashesAllRecords(t *testing.T) {
	e := newTestEngine(t)
	e.opts.HashBucketCap = 64
	e.opts.HashGrowFactor = 2
	e.buckets = make([]*record, 4)

	for i := 0; i < 100; i++ {
		require.NoError(t, e.Append([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
	}

	for i := 0; i < 100; i++ {
		c := e.NewCursor()
		require.NoError(t, c.Seek([]byte(fmt.Sprintf("key-%03d", i)), kv.SeekExact))
	}
	require.LessOrEqual(t, len(e.buckets), 64)
}

func TestConfigRejectedAfterFirstInsert(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append([]byte("a"), []byte("1")))

	err := e.Config(kv.ConfigCommand{Op: kv.ConfigHashFunction, Hash: func([]byte) uint32 { return 0 }})
	require.Error(t, err)
	require.Equal(t, kv.Locked, kv.KindOf(err))
}
