package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTempDB(t *testing.T) {
	s := Sanitize(FlagTempDB)
	require.True(t, s.Flags&FlagOmitJournaling != 0)
	require.True(t, s.Flags&FlagCreate != 0)
	require.True(t, s.Flags&FlagReadWrite != 0)
}

func TestSanitizeDefaultsToReadWrite(t *testing.T) {
	s := Sanitize(0)
	require.True(t, s.Flags&FlagReadWrite != 0)
	require.True(t, s.Flags&FlagReadOnly == 0)
}

func TestSanitizeCreateForcesReadWriteClearsMMap(t *testing.T) {
	s := Sanitize(FlagCreate | FlagMMap)
	require.True(t, s.Flags&FlagReadWrite != 0)
	require.True(t, s.Flags&FlagMMap == 0)
}

func TestSanitizeReadOnlyClearsReadWrite(t *testing.T) {
	s := Sanitize(FlagReadOnly | FlagReadWrite)
	require.True(t, s.Flags&FlagReadOnly != 0)
	require.True(t, s.Flags&FlagReadWrite == 0)
}

func TestSanitizeExclusiveIsNeverCallerSettable(t *testing.T) {
	s := Sanitize(FlagExclusive | FlagReadWrite)
	require.True(t, s.Flags&FlagExclusive == 0)
}

func TestLoadLibraryFileWithComments(t *testing.T) {
	doc := []byte(`{
		// page size override
		"page_size": 8192,
		"kv_engine": "hash",
	}`)
	l, err := LoadLibraryFile(doc)
	require.NoError(t, err)
	require.Equal(t, 8192, l.PageSize)
	require.Equal(t, "hash", l.KVEngineName)
}

func TestLibraryValidatePageSize(t *testing.T) {
	l := DefaultLibrary()
	l.PageSize = 1000
	require.Error(t, l.Validate())
}
