package unqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unqlite/config"
	"unqlite/fastjson"
	"unqlite/vfs"
)

func TestOpenFreshFileBootstrapsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unqlite")
	v := vfs.New()

	db, err := Open(v, path, config.FlagCreate, config.DefaultLibrary())
	require.NoError(t, err)

	require.NoError(t, db.Begin())
	created, err := db.VM.CollectionCreate("users")
	require.NoError(t, err)
	require.True(t, created)

	ok, err := db.VM.Put("users", fastjson.Object(
		fastjson.ObjectField{Key: "name", Value: fastjson.String("ada")},
	))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	db2, err := Open(v, path, 0, config.DefaultLibrary())
	require.NoError(t, err)
	defer db2.Close()

	v2, err := db2.VM.FetchByID("users", 0)
	require.NoError(t, err)
	name, ok := v2.Get("name").String()
	require.True(t, ok)
	require.Equal(t, "ada", name)
}

// TestRollbackDiscardsWrites covers the ACID rollback invariant (§4.2.2):
// a rolled-back write must not be visible, and the collection layer's own
// cached counters must report the pre-rollback state too, not just the
// on-disk pages.
func TestRollbackDiscardsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback.unqlite")
	v := vfs.New()

	db, err := Open(v, path, config.FlagCreate, config.DefaultLibrary())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Begin())
	_, err = db.VM.CollectionCreate("users")
	require.NoError(t, err)
	for _, name := range []string{"ada", "grace"} {
		ok, err := db.VM.Put("users", fastjson.Object(
			fastjson.ObjectField{Key: "name", Value: fastjson.String(name)},
		))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, db.Commit())

	total, _, err := db.VM.TotalRecords("users")
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
	lastID, _, err := db.VM.LastRecordID("users")
	require.NoError(t, err)
	require.Equal(t, uint64(1), lastID)

	require.NoError(t, db.Begin())
	ok, err := db.VM.Put("users", fastjson.Object(
		fastjson.ObjectField{Key: "name", Value: fastjson.String("turing")},
	))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, db.Rollback())

	total, _, err = db.VM.TotalRecords("users")
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
	lastID, _, err = db.VM.LastRecordID("users")
	require.NoError(t, err)
	require.Equal(t, uint64(1), lastID)

	v, err := db.VM.FetchByID("users", 2)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(nil, ":memory:", 0, config.DefaultLibrary())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.VM.CollectionCreate("scratch")
	require.NoError(t, err)

	ok, err := db.VM.Put("scratch", fastjson.String("hello"))
	require.NoError(t, err)
	require.True(t, ok)

	total, _, err := db.VM.TotalRecords("scratch")
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
}
