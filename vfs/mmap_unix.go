//go:build linux || freebsd || openbsd || netbsd || solaris

package vfs

import "syscall"

// mmapFile/unmapFile back the VFS's optional Mmap/Unmap methods (§4.1).
func mmapFile(fd uintptr, offset int64, length int, prot, flags int) ([]byte, error) {
	return syscall.Mmap(int(fd), offset, length, prot, flags)
}

func unmapFile(data []byte) error {
	return syscall.Munmap(data)
}
