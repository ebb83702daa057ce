// Package unqlite wires the storage core together: VFS, pager, KV engine,
// collection layer, and the script-VM entry points, behind a single
// database handle.
package unqlite

import (
	"sync"

	"github.com/pkg/errors"

	"unqlite/collection"
	"unqlite/config"
	"unqlite/kv"
	"unqlite/kv/lhkv"
	"unqlite/kv/memkv"
	"unqlite/pager"
	"unqlite/vfs"
	"unqlite/vm"
)

// DB is an open database handle: one VFS-backed file (or an in-memory
// store), its pager, its KV engine, the collection layer built atop it, and
// the fixed entry-point surface a script VM would call through.
type DB struct {
	mu sync.Mutex // single-writer; entry points serialize through this (§1 Non-goals: concurrent writers)

	path   string
	pager  *pager.Pager
	engine kv.Engine
	store  *collection.Store
	VM     *vm.Engine

	handleCfg config.Handle
	errLog    []string
}

// Open opens (creating if requested) a database at path using flags
// (§6.4). path may be ":memory:" (§4.4 "the always-available fallback
// engine"); any other path, including "", is opened as a file path.
func Open(v vfs.VFS, path string, flags config.OpenFlags, lib config.Library) (*DB, error) {
	s := config.Sanitize(flags)
	db := &DB{path: path, handleCfg: config.DefaultHandle()}

	if s.InMemory || path == ":memory:" {
		return db.openMemory(lib)
	}
	return db.openFile(v, path, s, lib)
}

func (db *DB) openMemory(lib config.Library) (*DB, error) {
	e := memkv.New()
	if err := e.Init(kv.DefaultEngineOptions()); err != nil {
		return nil, err
	}
	if err := e.Open(0); err != nil {
		return nil, err
	}
	db.engine = e
	db.store = collection.NewStore(e)
	db.VM = vm.New(db.store, nil, e)
	return db, nil
}

func (db *DB) openFile(v vfs.VFS, path string, s config.Sanitized, lib config.Library) (*DB, error) {
	fresh := !vfs.FileExists(path)

	popts := pager.DefaultOptions()
	if lib.PageSize != 0 {
		popts.PageSize = lib.PageSize
	}
	popts.BusyHandler = config.BusyHandler(db.handleCfg, v)

	kvName := lib.KVEngineName
	if kvName == "" {
		kvName = "lhash"
	}
	kvOffset := pager.KVHeaderOffset(len(kvName))

	// A brand-new database gets its page 1 written atomically before the
	// pager ever opens the file (§3 invariant: "page 1 always holds the
	// database header"), so pager.Open's own header-load path runs
	// unconditionally instead of branching on dbSize == 0. The KV-header
	// region of page 1 is left zeroed; the KV engine's own Open treats an
	// all-zero region as "fresh" rather than "corrupt".
	if fresh && s.Flags&config.FlagCreate != 0 {
		h := pager.Header{
			Created:    v.CurrentTime(),
			SectorSize: 512,
			PageSize:   uint32(popts.PageSize),
			KVName:     kvName,
		}
		buf, err := pager.EncodeHeader(h, popts.PageSize)
		if err != nil {
			return nil, err
		}
		if err := vfs.CreateDatabaseFile(path, buf, popts.PageSize); err != nil {
			return nil, errors.Wrap(err, "unqlite: bootstrap database file")
		}
	}

	p, err := pager.Open(v, path, popts, s.VFSFlags)
	if err != nil {
		return nil, errors.Wrap(err, "unqlite: open pager")
	}
	db.pager = p

	var e kv.Engine
	switch kvName {
	case "hash":
		e = memkv.New()
	default:
		e = lhkv.New(p, kvOffset)
	}
	if err := e.Init(kv.DefaultEngineOptions()); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := e.Open(int64(p.DBSize())); err != nil {
		_ = p.Close()
		return nil, err
	}
	db.engine = e
	db.store = collection.NewStore(e)
	db.VM = vm.New(db.store, p, e)
	return db, nil
}

// Close flushes and releases all resources held by the handle. An open write
// transaction is committed first unless the handle's DisableAutoCommit is set,
// in which case the pager rolls it back.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pager != nil && !db.handleCfg.DisableAutoCommit {
		if err := db.pager.Commit(); err != nil {
			db.logError(err)
		}
	}
	if db.engine != nil {
		if err := db.engine.Release(); err != nil {
			db.logError(err)
		}
	}
	if db.pager != nil {
		return db.pager.Close()
	}
	return nil
}

// Begin, Commit, and Rollback are handle-level wrappers serialized by the
// handle's mutex (§1 Non-goals: "concurrent writers to the same database
// (single-writer is required)" — the mutex enforces that at the Go level
// the same way the host C API's recursive mutex would).
func (db *DB) Begin() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pager == nil {
		return nil // :memory: has no journal/transaction concept
	}
	return db.pager.Begin()
}

func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pager == nil {
		return nil
	}
	err := db.pager.Commit()
	if err != nil {
		db.logError(err)
	}
	return err
}

// Rollback discards the current write transaction. The engine reset and
// collection-store cache invalidation live in db.VM.Rollback (§4.2.2 "Live
// rollback ... also resets the KV engine") so both entry points — this
// handle and the script-VM surface — observe the same post-rollback state.
func (db *DB) Rollback() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pager == nil {
		return nil
	}
	if _, err := db.VM.Rollback(); err != nil {
		db.logError(err)
		return err
	}
	db.store = db.VM.Collections
	return nil
}

// logError appends to the handle's error-log ring buffer (§6.3 "err_log:
// out buffer"), bounded to avoid unbounded growth across a long-lived
// handle.
const maxErrLogEntries = 64

func (db *DB) logError(err error) {
	db.errLog = append(db.errLog, err.Error())
	if len(db.errLog) > maxErrLogEntries {
		db.errLog = db.errLog[len(db.errLog)-maxErrLogEntries:]
	}
}

// ErrLog returns a copy of the handle's accumulated error log.
func (db *DB) ErrLog() []string {
	out := make([]string, len(db.errLog))
	copy(out, db.errLog)
	return out
}

// Engine exposes the underlying KV engine (e.g. for config commands issued
// before any record exists, §6.3).
func (db *DB) Engine() kv.Engine { return db.engine }

// Lock/Unlock expose the handle's single-writer mutex to callers that need
// to bracket several VM operations as one logical unit without an explicit
// pager transaction (e.g. :memory: databases, which have no pager).
func (db *DB) Lock()   { db.mu.Lock() }
func (db *DB) Unlock() { db.mu.Unlock() }
