package vfs

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// CreateDatabaseFile writes the very first page of a brand-new database file
// (database header + empty KV-engine header, padded to pageSize) in one
// atomic rename so that a concurrent opener can never observe a half
// written page 1 (§3 invariant: "page 1 always holds the database header").
// Every subsequent page write goes through the pager's journal protocol;
// this bootstrap path only covers the one moment before any journal exists.
func CreateDatabaseFile(path string, page1 []byte, pageSize int) error {
	if len(page1) > pageSize {
		return errors.New("vfs: page1 content larger than page size")
	}
	buf := make([]byte, pageSize)
	copy(buf, page1)
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return errors.Wrap(err, "vfs: atomic create database file")
	}
	return nil
}

// FileExists is a small helper used by the root handle's openFile to decide whether
// CreateDatabaseFile should run before the VFS.Open/CREATE path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
