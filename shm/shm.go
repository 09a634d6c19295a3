// Package shm provides helpers for mapping device and shared memory.
package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

type Mmap []byte

// Map maps size bytes of file, starting at its beginning.
func Map(file *os.File, size int, prot int) (mmap Mmap, err error) {
	sc, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}

	cerr := sc.Control(func(fd uintptr) {
		mmap, err = MapFD(int(fd), 0, size, prot)
	})
	if cerr != nil {
		return nil, cerr
	}

	return mmap, err
}

// MapFD maps size bytes of fd at offset as shared memory. Device
// drivers hand out fake offsets that select a particular buffer, which
// is why offset is taken verbatim.
func MapFD(fd int, offset int64, size int, prot int) (Mmap, error) {
	m, err := unix.Mmap(fd, offset, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	return Mmap(m), nil
}

func (mmap Mmap) Unmap() error {
	if mmap == nil {
		return nil
	}
	return unix.Munmap(mmap)
}
