//go:build windows

package vfs

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// windowsFile approximates the POSIX lock ladder with LockFileEx over the
// same byte-range offsets used on unix (§4.1). Windows mandatory locking
// makes RESERVED/PENDING/EXCLUSIVE regions self-enforcing without fcntl.
type windowsFile struct {
	f     *os.File
	level LockLevel
}

type winVFS struct{}

func New() VFS { return winVFS{} }

func (winVFS) Open(path string, flags OpenFlags) (File, error) {
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
	return &windowsFile{f: f}, nil
}

func (winVFS) Access(path string, mode AccessMode) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (winVFS) Delete(path string, syncDir bool) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (winVFS) FullPath(path string) (string, error) { return filepathAbs(path) }
func (winVFS) Sleep(us int)                          { time.Sleep(time.Duration(us) * time.Microsecond) }
func (winVFS) CurrentTime() time.Time                { return time.Now() }

func (w *windowsFile) ReadAt(buf []byte, offset int64) (int, error) { return w.f.ReadAt(buf, offset) }
func (w *windowsFile) WriteAt(buf []byte, offset int64) (int, error) {
	return w.f.WriteAt(buf, offset)
}
func (w *windowsFile) Truncate(size int64) error { return w.f.Truncate(size) }
func (w *windowsFile) Sync(mode SyncMode) error  { return w.f.Sync() }
func (w *windowsFile) FileSize() (int64, error) {
	fi, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
func (w *windowsFile) SectorSize() int { return 512 }
func (w *windowsFile) Close() error    { return w.f.Close() }

func lockRange(h windows.Handle, start, length int64, exclusive bool) error {
	var flags uint32
	if exclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	var ov windows.Overlapped
	ov.Offset = uint32(start)
	ov.OffsetHigh = uint32(start >> 32)
	return windows.LockFileEx(h, flags, 0, uint32(length), uint32(length>>32), &ov)
}

func unlockRange(h windows.Handle, start, length int64) error {
	var ov windows.Overlapped
	ov.Offset = uint32(start)
	ov.OffsetHigh = uint32(start >> 32)
	return windows.UnlockFileEx(h, 0, uint32(length), uint32(length>>32), &ov)
}

func (w *windowsFile) Lock(level LockLevel) error {
	h := windows.Handle(w.f.Fd())
	if level <= w.level {
		return nil
	}
	switch level {
	case LockShared:
		// The pending byte is held shared while SHARED is taken, so no new
		// reader gets in while another handle holds PENDING.
		if err := lockRange(h, pendingByte, 1, false); err != nil {
			return errors.Wrap(err, "vfs: acquire SHARED (pending byte)")
		}
		err := lockRange(h, sharedFirst, sharedSize, false)
		_ = unlockRange(h, pendingByte, 1)
		if err != nil {
			return errors.Wrap(err, "vfs: acquire SHARED")
		}
	case LockReserved:
		if err := lockRange(h, reservedByte, 1, true); err != nil {
			return errors.Wrap(err, "vfs: acquire RESERVED")
		}
	case LockPending:
		if err := lockRange(h, pendingByte, 1, true); err != nil {
			return errors.Wrap(err, "vfs: acquire PENDING")
		}
	case LockExclusive:
		if w.level < LockPending {
			if err := lockRange(h, pendingByte, 1, true); err != nil {
				return errors.Wrap(err, "vfs: acquire PENDING for EXCLUSIVE")
			}
		}
		_ = unlockRange(h, sharedFirst, sharedSize)
		if err := lockRange(h, sharedFirst, sharedSize, true); err != nil {
			return errors.Wrap(err, "vfs: acquire EXCLUSIVE")
		}
	}
	w.level = level
	return nil
}

func (w *windowsFile) Unlock(level LockLevel) error {
	h := windows.Handle(w.f.Fd())
	if level >= w.level {
		w.level = level
		return nil
	}
	if level == LockNone {
		_ = unlockRange(h, pendingByte, 2+sharedSize)
		w.level = LockNone
		return nil
	}
	if level == LockShared {
		_ = unlockRange(h, pendingByte, 2)
	}
	w.level = level
	return nil
}

func (w *windowsFile) CheckReservedLock() (bool, error) {
	h := windows.Handle(w.f.Fd())
	err := lockRange(h, reservedByte, 1, true)
	if err == nil {
		_ = unlockRange(h, reservedByte, 1)
		return false, nil
	}
	return true, nil
}

func (w *windowsFile) Mmap(size int) ([]byte, error) {
	return mmapFile(w.f.Fd(), 0, size, 0, 0)
}

func (w *windowsFile) Unmap(data []byte) error { return unmapFile(data) }
