package lhkv

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unqlite/kv"
	"unqlite/pager"
	"unqlite/vfs"
)

// newTestEngine allocates and commits page 1 through the pager before handing
// the rest of the file to a fresh linear-hash engine.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	v := vfs.New()
	p, err := pager.Open(v, path, pager.DefaultOptions(), vfs.OpenReadWrite|vfs.OpenCreate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Begin())
	pg, err := p.Allocate()
	require.NoError(t, err)
	buf, err := pager.EncodeHeader(pager.Header{
		SectorSize: 512,
		PageSize:   uint32(p.PageSize()),
		KVName:     Name,
	}, p.PageSize())
	require.NoError(t, err)
	copy(pg.Data, buf)
	p.Unref(pg)
	require.NoError(t, p.Commit())

	e := New(p, pager.KVHeaderOffset(len(Name)))
	require.NoError(t, e.Init(kv.DefaultEngineOptions()))
	require.NoError(t, e.Open(int64(p.DBSize())))
	return e
}

func reopen(t *testing.T, e *Engine) *Engine {
	t.Helper()
	require.NoError(t, e.flushHeader())
	e2 := New(e.pager, e.kvHeaderOffset)
	require.NoError(t, e2.Init(kv.DefaultEngineOptions()))
	require.NoError(t, e2.Open(int64(e.pager.DBSize())))
	return e2
}

func TestReplaceThenLookup(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	require.NoError(t, e.Replace([]byte("alpha"), []byte("one")))
	require.NoError(t, e.Replace([]byte("beta"), []byte("two")))

	c := e.NewCursor()
	require.NoError(t, c.Seek([]byte("alpha"), kv.SeekExact))
	data, err := kv.DataBytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), data)
	require.NoError(t, c.Release())

	require.NoError(t, e.pager.Commit())
}

func TestReplaceOverwritesExistingKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	require.NoError(t, e.Replace([]byte("k"), []byte("v1")))
	require.NoError(t, e.Replace([]byte("k"), []byte("v2")))

	c := e.NewCursor()
	require.NoError(t, c.Seek([]byte("k"), kv.SeekExact))
	data, err := kv.DataBytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), data)
	require.NoError(t, c.Release())

	require.NoError(t, e.pager.Commit())
}

func TestSeekMissingKeyIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	c := e.NewCursor()
	err := c.Seek([]byte("missing"), kv.SeekExact)
	require.True(t, kv.IsNotFound(err))

	require.NoError(t, e.pager.Commit())
}

func TestDeleteRemovesCell(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	require.NoError(t, e.Replace([]byte("gone"), []byte("soon")))

	c := e.NewCursor()
	require.NoError(t, c.Seek([]byte("gone"), kv.SeekExact))
	require.NoError(t, e.Delete(c))

	c2 := e.NewCursor()
	err := c2.Seek([]byte("gone"), kv.SeekExact)
	require.True(t, kv.IsNotFound(err))

	require.NoError(t, e.pager.Commit())
}

func TestCursorIteratesAllInsertedKeys(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	want := map[string]string{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("val-%03d", i)
		require.NoError(t, e.Replace([]byte(k), []byte(v)))
		want[k] = v
	}

	got := map[string]string{}
	c := e.NewCursor()
	for err := c.First(); ; err = c.Next() {
		if kv.IsNotFound(err) {
			break
		}
		require.NoError(t, err)
		if !c.Valid() {
			break
		}
		k, err := kv.KeyBytes(c)
		require.NoError(t, err)
		d, err := kv.DataBytes(c)
		require.NoError(t, err)
		got[string(k)] = string(d)
	}
	require.Equal(t, want, got)

	require.NoError(t, e.pager.Commit())
}

func TestOverflowChainRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	key := bytes.Repeat([]byte("k"), 5000)
	data := bytes.Repeat([]byte("v"), 20000)
	require.NoError(t, e.Replace(key, data))

	c := e.NewCursor()
	require.NoError(t, c.Seek(key, kv.SeekExact))
	got, err := kv.DataBytes(c)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, e.pager.Commit())
}

func TestSplitTriggersAcrossManyKeys(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())

	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("split-%04d", i)
		require.NoError(t, e.Replace([]byte(k), []byte("x")))
	}
	require.True(t, e.hdr.maxSplitBucket > 1, "expected at least one split to have occurred")

	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("split-%04d", i)
		c := e.NewCursor()
		require.NoError(t, c.Seek([]byte(k), kv.SeekExact))
	}

	require.NoError(t, e.pager.Commit())
}

func TestHeaderSurvivesReopen(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.pager.Begin())
	require.NoError(t, e.Replace([]byte("persist"), []byte("me")))
	require.NoError(t, e.pager.Commit())

	e2 := reopen(t, e)
	c := e2.NewCursor()
	require.NoError(t, c.Seek([]byte("persist"), kv.SeekExact))
	data, err := kv.DataBytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte("me"), data)
}
