//go:build linux || darwin || freebsd || openbsd || netbsd || solaris

package vfs

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Byte-range lock offsets, verbatim from the reference implementation's
// os_unix.c (unqliteInt.h PENDING_BYTE/RESERVED_BYTE/SHARED_FIRST/SHARED_SIZE):
// a single fixed region of the file is used purely as a lock manager token
// area so SHARED/RESERVED/PENDING/EXCLUSIVE compose the same way POSIX
// advisory byte-range locks do across unrelated processes.
const (
	pendingByte  = 0x40000000
	reservedByte = pendingByte + 1
	sharedFirst  = pendingByte + 2
	sharedSize   = 510
)

type osVFS struct{}

// New returns the default OS-backed VFS implementation.
func New() VFS { return osVFS{} }

func (osVFS) Open(path string, flags OpenFlags) (File, error) {
	var osFlags int
	switch {
	case flags&OpenReadWrite != 0:
		osFlags = os.O_RDWR
	case flags&OpenReadOnly != 0:
		osFlags = os.O_RDONLY
	default:
		osFlags = os.O_RDWR
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&OpenExclusive != 0 {
		osFlags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, osFlags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open %s", path)
	}
	return &unixFile{f: f, level: LockNone}, nil
}

func (osVFS) Access(path string, mode AccessMode) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if mode == AccessReadWrite {
		return fi.Mode().Perm()&0o200 != 0, nil
	}
	return true, nil
}

func (osVFS) Delete(path string, syncDir bool) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if syncDir {
		dir, derr := os.Open(dirOf(path))
		if derr == nil {
			_ = dir.Sync()
			_ = dir.Close()
		}
	}
	return nil
}

func (osVFS) FullPath(path string) (string, error) {
	abs, err := filepathAbs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func (osVFS) Sleep(us int) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

func (osVFS) CurrentTime() time.Time { return time.Now() }

type unixFile struct {
	f     *os.File
	level LockLevel
}

func (u *unixFile) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := u.f.ReadAt(buf, offset)
	if err != nil && err.Error() != "EOF" {
		return n, err
	}
	return n, nil
}

func (u *unixFile) WriteAt(buf []byte, offset int64) (int, error) {
	return u.f.WriteAt(buf, offset)
}

func (u *unixFile) Truncate(size int64) error { return u.f.Truncate(size) }

func (u *unixFile) Sync(mode SyncMode) error {
	return u.f.Sync()
}

func (u *unixFile) FileSize() (int64, error) {
	fi, err := u.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (u *unixFile) SectorSize() int { return 512 }

func (u *unixFile) Close() error {
	if u.level != LockNone {
		_ = u.Unlock(LockNone)
	}
	return u.f.Close()
}

func fcntlLock(fd int, typ int16, start, length int64) error {
	lock := unix.Flock_t{
		Type:   typ,
		Whence: 0,
		Start:  start,
		Len:    length,
	}
	return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &lock)
}

// Lock implements the SQLite/unqlite-style lock ladder over POSIX byte-range
// advisory locks (§4.1): SHARED locks a shared region for reading;
// RESERVED marks intent to write without blocking other readers; PENDING
// blocks new SHARED acquisitions while draining existing readers; EXCLUSIVE
// finally claims the whole shared region.
func (u *unixFile) Lock(level LockLevel) error {
	fd := int(u.f.Fd())
	if level <= u.level {
		return nil
	}
	switch level {
	case LockShared:
		// A read lock on the pending byte fails while another handle holds
		// PENDING, so no new reader gets in; it is dropped once SHARED is held.
		if err := fcntlLock(fd, unix.F_RDLCK, pendingByte, 1); err != nil {
			return errors.Wrap(err, "vfs: acquire SHARED (pending byte)")
		}
		err := fcntlLock(fd, unix.F_RDLCK, sharedFirst, sharedSize)
		_ = fcntlLock(fd, unix.F_UNLCK, pendingByte, 1)
		if err != nil {
			return errors.Wrap(err, "vfs: acquire SHARED")
		}
	case LockReserved:
		if err := fcntlLock(fd, unix.F_WRLCK, reservedByte, 1); err != nil {
			return errors.Wrap(err, "vfs: acquire RESERVED")
		}
	case LockPending:
		if err := fcntlLock(fd, unix.F_WRLCK, pendingByte, 1); err != nil {
			return errors.Wrap(err, "vfs: acquire PENDING")
		}
	case LockExclusive:
		if u.level < LockPending {
			if err := fcntlLock(fd, unix.F_WRLCK, pendingByte, 1); err != nil {
				return errors.Wrap(err, "vfs: acquire PENDING for EXCLUSIVE")
			}
		}
		if err := fcntlLock(fd, unix.F_WRLCK, sharedFirst, sharedSize); err != nil {
			return errors.Wrap(err, "vfs: acquire EXCLUSIVE")
		}
	}
	u.level = level
	return nil
}

func (u *unixFile) Unlock(level LockLevel) error {
	fd := int(u.f.Fd())
	if level >= u.level {
		u.level = level
		return nil
	}
	if level == LockNone {
		if err := fcntlLock(fd, unix.F_UNLCK, pendingByte, 1+1+sharedSize); err != nil {
			return errors.Wrap(err, "vfs: release all locks")
		}
		u.level = LockNone
		return nil
	}
	if level == LockShared {
		// drop RESERVED/PENDING but retain the SHARED region.
		if err := fcntlLock(fd, unix.F_UNLCK, pendingByte, 2); err != nil {
			return errors.Wrap(err, "vfs: downgrade to SHARED")
		}
		if err := fcntlLock(fd, unix.F_RDLCK, sharedFirst, sharedSize); err != nil {
			return errors.Wrap(err, "vfs: downgrade to SHARED")
		}
	}
	u.level = level
	return nil
}

func (u *unixFile) CheckReservedLock() (bool, error) {
	fd := int(u.f.Fd())
	lock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: reservedByte, Len: 1}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_GETLK, &lock); err != nil {
		return false, errors.Wrap(err, "vfs: check RESERVED")
	}
	return lock.Type != unix.F_UNLCK, nil
}

func (u *unixFile) Mmap(size int) ([]byte, error) {
	return mmapFile(u.f.Fd(), 0, size, prot, mapShared)
}

func (u *unixFile) Unmap(data []byte) error {
	return unmapFile(data)
}

const (
	prot      = 0x1 | 0x2 // PROT_READ | PROT_WRITE
	mapShared = 0x1
)
