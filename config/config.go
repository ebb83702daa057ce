// Package config implements the library/handle/KV-engine configuration
// surfaces (§6.3) and open-flag sanitization (§6.4). Library-wide defaults
// may additionally be loaded from a JWCC (JSON-with-comments) config file
// via github.com/tailscale/hujson, the way the ambient stack's other
// human-edited config files are read.
package config

import (
	"encoding/json"
	"time"

	"github.com/tailscale/hujson"

	"unqlite/kv"
	"unqlite/vfs"
)

// ThreadLevel mirrors the library-wide mutexing mode (§6.3).
type ThreadLevel int

const (
	ThreadSingle ThreadLevel = iota
	ThreadMulti
)

// Library holds process-wide configuration (§6.3 "Library").
type Library struct {
	PageSize     int
	VFS          vfs.VFS
	KVEngineName string
	ThreadLevel  ThreadLevel
}

// DefaultLibrary returns the library configuration a fresh process starts
// with before any explicit override.
func DefaultLibrary() Library {
	return Library{
		PageSize:     4096,
		KVEngineName: "lhash",
		ThreadLevel:  ThreadSingle,
	}
}

// Handle holds per-database-handle configuration (§6.3 "Handle").
type Handle struct {
	MaxPageCache      int
	ErrLog            []string
	DisableAutoCommit bool

	// MaxBusyRetries and BusySleep parameterize the default busy handler
	// (§4.2.5): a caller who hasn't installed their own callback still gets
	// bounded retries with a sleep between attempts instead of an immediate
	// BUSY failure.
	MaxBusyRetries int
	BusySleep      time.Duration
}

// DefaultHandle returns a fresh handle's configuration.
func DefaultHandle() Handle {
	return Handle{MaxPageCache: 256, MaxBusyRetries: 25, BusySleep: 20 * time.Millisecond}
}

// Validate enforces §6.3's constraints ("max_page_cache: int ≥ 256").
func (h Handle) Validate() error {
	if h.MaxPageCache < 256 {
		return kv.Wrap(kv.Invalid, nil, "config: max_page_cache must be >= 256")
	}
	return nil
}

// Validate enforces the library's page-size constraint (§6.3: "power of 2
// in [512, 65536]").
func (l Library) Validate() error {
	if l.PageSize < 512 || l.PageSize > 65536 || l.PageSize&(l.PageSize-1) != 0 {
		return kv.Wrap(kv.Invalid, nil, "config: page_size must be a power of two in [512, 65536]")
	}
	return nil
}

// KVEngineConfig holds the per-engine hash/compare override (§6.3 "KV
// engine"), which is only legal before any record exists in the store —
// enforced by the engine implementations themselves (kv.Error with
// kv.Locked).
type KVEngineConfig struct {
	Hash    kv.HashFunc
	Compare kv.CmpFunc
}

func (c KVEngineConfig) ToCommands() []kv.ConfigCommand {
	var cmds []kv.ConfigCommand
	if c.Hash != nil {
		cmds = append(cmds, kv.ConfigCommand{Op: kv.ConfigHashFunction, Hash: c.Hash})
	}
	if c.Compare != nil {
		cmds = append(cmds, kv.ConfigCommand{Op: kv.ConfigCmpFunction, Compare: c.Compare})
	}
	return cmds
}

// OpenFlags is the user-requested combination of open flags (§6.4), before
// sanitization.
type OpenFlags uint32

const (
	FlagReadOnly OpenFlags = 1 << iota
	FlagReadWrite
	FlagCreate
	FlagExclusive
	FlagTempDB
	FlagOmitJournaling
	FlagNoMutex
	FlagMMap
	FlagInMemory
)

// Sanitized is the fully resolved flag set after applying §6.4's rules, plus
// the derived vfs.OpenFlags the pager actually consumes.
type Sanitized struct {
	Flags       OpenFlags
	VFSFlags    vfs.OpenFlags
	InMemory    bool
	OmitJournal bool
}

// Sanitize applies §6.4's rules in the order stated: "TEMP_DB implies
// OMIT_JOURNALING | CREATE; if neither READONLY nor READWRITE is set,
// default READWRITE; CREATE forces READWRITE and clears MMAP; READONLY
// clears READWRITE; READWRITE clears MMAP; EXCLUSIVE is reserved
// internally" (not settable by callers — masked out here).
func Sanitize(requested OpenFlags) Sanitized {
	f := requested &^ FlagExclusive

	if f&FlagTempDB != 0 {
		f |= FlagOmitJournaling | FlagCreate
	}
	if f&(FlagReadOnly|FlagReadWrite) == 0 {
		f |= FlagReadWrite
	}
	if f&FlagCreate != 0 {
		f |= FlagReadWrite
		f &^= FlagMMap
	}
	if f&FlagReadOnly != 0 {
		f &^= FlagReadWrite
	}
	if f&FlagReadWrite != 0 {
		f &^= FlagMMap
	}

	s := Sanitized{Flags: f, InMemory: f&FlagInMemory != 0, OmitJournal: f&FlagOmitJournaling != 0}

	var vf vfs.OpenFlags
	if f&FlagReadWrite != 0 {
		vf |= vfs.OpenReadWrite
	}
	if f&FlagCreate != 0 {
		vf |= vfs.OpenCreate
	}
	if f&FlagExclusive != 0 {
		vf |= vfs.OpenExclusive
	}
	s.VFSFlags = vf
	return s
}

// LoadLibraryFile parses a JWCC (JSON-with-comments) library config
// document — field names mirror Library's, any subset may be present.
func LoadLibraryFile(data []byte) (Library, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Library{}, kv.Wrapf(kv.Invalid, err, "config: parse library config")
	}
	var raw struct {
		PageSize    int    `json:"page_size"`
		KVEngine    string `json:"kv_engine"`
		ThreadLevel string `json:"thread_level"`
	}
	if err := json.Unmarshal(std, &raw); err != nil {
		return Library{}, kv.Wrapf(kv.Invalid, err, "config: decode library config")
	}
	l := DefaultLibrary()
	if raw.PageSize != 0 {
		l.PageSize = raw.PageSize
	}
	if raw.KVEngine != "" {
		l.KVEngineName = raw.KVEngine
	}
	if raw.ThreadLevel == "multi" {
		l.ThreadLevel = ThreadMulti
	}
	return l, l.Validate()
}

// BusyHandler builds the default busy-retry callback for a handle (§4.2.5):
// bounded retries with a sleep between attempts, via whatever VFS the handle
// was opened against.
func BusyHandler(h Handle, v vfs.VFS) vfs.BusyHandler {
	return busyHandlerWithTimeout(h.MaxBusyRetries, h.BusySleep, v)
}

// busyHandlerWithTimeout adapts a simple max-retry count into a
// vfs.BusyHandler, for handles that configure retry behavior instead of a
// custom callback.
func busyHandlerWithTimeout(maxRetries int, sleep time.Duration, v vfs.VFS) vfs.BusyHandler {
	return func(attempt int) bool {
		if attempt >= maxRetries {
			return false
		}
		if v != nil {
			v.Sleep(int(sleep / time.Microsecond))
		}
		return true
	}
}
