// Package ioctl encodes Linux ioctl request numbers and issues the
// raw system call.
package ioctl

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Dir is the data direction of a request, as seen from userspace.
type Dir uint32

const (
	None  Dir = 0
	Write Dir = 1
	Read  Dir = 2
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Code is an encoded request number.
type Code uint32

// New encodes a request the way the kernel's _IOC macro does.
func New(dir Dir, typ byte, nr byte, size uintptr) Code {
	return Code(uint32(dir)<<dirShift |
		uint32(size)<<sizeShift |
		uint32(typ)<<typeShift |
		uint32(nr)<<nrShift)
}

// IO is _IO.
func IO(typ, nr byte) Code {
	return New(None, typ, nr, 0)
}

// IOW is _IOW for a value of type T.
func IOW[T any](typ, nr byte) Code {
	var v T
	return New(Write, typ, nr, unsafe.Sizeof(v))
}

// IOWR is _IOWR for a value of type T.
func IOWR[T any](typ, nr byte) Code {
	var v T
	return New(Read|Write, typ, nr, unsafe.Sizeof(v))
}

func (c Code) Dir() Dir     { return Dir(uint32(c) >> dirShift & 0x3) }
func (c Code) Size() uint32 { return uint32(c) >> sizeShift & (1<<sizeBits - 1) }
func (c Code) Type() byte   { return byte(uint32(c) >> typeShift) }
func (c Code) Nr() byte     { return byte(uint32(c) >> nrShift) }

func (c Code) String() string {
	return fmt.Sprintf("ioctl(%c, 0x%02x, %d bytes)", c.Type(), c.Nr(), c.Size())
}

// Do performs the request on fd. arg must point to memory the kernel
// may read or write according to the request's direction.
func Do(fd int, c Code, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(c), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

// Int performs a request whose argument is passed by value.
func Int(fd int, c Code, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(c), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
