// Package bin decodes host-endian integers from kernel-provided
// buffers.
package bin

import (
	"encoding/binary"
	"unsafe"
)

// Order is the host byte order.
var Order binary.ByteOrder = binary.LittleEndian

func init() {
	n := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&n))
	if b[0] == 0 {
		Order = binary.BigEndian
	}
}

func Uint32(data []byte) uint32 {
	return Order.Uint32(data)
}

func Uint64(data []byte) uint64 {
	return Order.Uint64(data)
}

func PutUint32(data []byte, v uint32) {
	Order.PutUint32(data, v)
}

func PutUint64(data []byte, v uint64) {
	Order.PutUint64(data, v)
}
