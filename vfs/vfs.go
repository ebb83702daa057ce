// Package vfs defines the abstract virtual file system the storage core
// consumes (§4.1). The core never talks to the operating system directly;
// every byte-range read/write, lock acquisition, and timestamp comes through
// this contract, with OS-specific syscalls isolated behind per-platform
// build-tagged files.
package vfs

import "time"

// LockLevel is the lock ladder NO < SHARED < RESERVED < PENDING < EXCLUSIVE
// (§4.1). SHARED must be compatible across processes; PENDING blocks new
// SHARED locks from being acquired; EXCLUSIVE is required to mutate the file.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "NONE"
	case LockShared:
		return "SHARED"
	case LockReserved:
		return "RESERVED"
	case LockPending:
		return "PENDING"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// SyncMode selects the fsync strength used by File.Sync (§4.1).
type SyncMode int

const (
	SyncNormal SyncMode = iota
	SyncFull
	SyncDataOnly
)

// OpenFlags mirrors the host-level open flags (§6.4); vfs itself only cares
// about read/write/create/exclusive, the rest are sanitized above this layer.
type OpenFlags int

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenReadWrite
	OpenCreate
	OpenExclusive
)

// AccessMode selects what Access checks for.
type AccessMode int

const (
	AccessExists AccessMode = iota
	AccessReadWrite
	AccessRead
)

// BusyHandler is invoked when a lock acquisition returns BUSY; returning true
// asks the caller to retry the lock (§4.2.5).
type BusyHandler func(attempt int) bool

// File is a single open handle to a database or journal file.
type File interface {
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	Truncate(size int64) error
	Sync(mode SyncMode) error
	FileSize() (int64, error)

	Lock(level LockLevel) error
	Unlock(level LockLevel) error
	CheckReservedLock() (bool, error)

	SectorSize() int

	// Mmap/Unmap are optional; engines that don't use mmap never call them.
	Mmap(size int) ([]byte, error)
	Unmap(data []byte) error

	Close() error
}

// VFS is the abstract filesystem contract (§4.1).
type VFS interface {
	Open(path string, flags OpenFlags) (File, error)
	Access(path string, mode AccessMode) (bool, error)
	Delete(path string, syncDir bool) error
	FullPath(path string) (string, error)
	Sleep(us int)
	CurrentTime() time.Time
}
