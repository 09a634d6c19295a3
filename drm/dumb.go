package drm

import (
	"unsafe"

	"deedles.dev/kms/shm"
	"golang.org/x/sys/unix"
)

// DumbBuffer is a CPU-mappable buffer object that any KMS driver can
// scan out. It is the lowest common denominator allocator.
type DumbBuffer struct {
	Handle BufferHandle
	Width  uint32
	Height uint32
	BPP    uint32
	Pitch  uint32
	Size   uint64
}

// CreateDumb allocates a dumb buffer.
func (dev *Device) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	req := sysCreateDumb{
		width:  width,
		height: height,
		bpp:    bpp,
	}
	err := dev.ioctl("create dumb", ioctlModeCreateDumb, unsafe.Pointer(&req))
	if err != nil {
		return nil, err
	}

	return &DumbBuffer{
		Handle: BufferHandle(req.handle),
		Width:  width,
		Height: height,
		BPP:    bpp,
		Pitch:  req.pitch,
		Size:   req.size,
	}, nil
}

// MapDumb maps buf into memory for reading and writing.
func (dev *Device) MapDumb(buf *DumbBuffer) (shm.Mmap, error) {
	req := sysMapDumb{handle: uint32(buf.Handle)}
	err := dev.ioctl("map dumb", ioctlModeMapDumb, unsafe.Pointer(&req))
	if err != nil {
		return nil, err
	}

	return shm.MapFD(dev.fd, int64(req.offset), int(buf.Size), unix.PROT_READ|unix.PROT_WRITE)
}

// DestroyDumb frees buf. Mappings of it must be removed first.
func (dev *Device) DestroyDumb(buf *DumbBuffer) error {
	req := sysDestroyDumb{handle: uint32(buf.Handle)}
	return dev.ioctl("destroy dumb", ioctlModeDestroyDumb, unsafe.Pointer(&req))
}
