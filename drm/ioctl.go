package drm

import "deedles.dev/kms/internal/ioctl"

// Request layouts from drm.h and drm_mode.h.

type sysGetCap struct {
	capability uint64
	value      uint64
}

type sysCardRes struct {
	fbIDPtr        uint64
	crtcIDPtr      uint64
	connectorIDPtr uint64
	encoderIDPtr   uint64
	countFbs       uint32
	countCrtcs     uint32
	countConns     uint32
	countEncoders  uint32
	minWidth       uint32
	maxWidth       uint32
	minHeight      uint32
	maxHeight      uint32
}

type sysCrtc struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x, y             uint32
	gammaSize        uint32
	modeValid        uint32
	mode             ModeInfo
}

type sysCursor struct {
	flags  uint32
	crtcID uint32
	x, y   int32
	width  uint32
	height uint32
	handle uint32
}

type sysCursor2 struct {
	sysCursor
	hotX, hotY int32
}

type sysFBCmd struct {
	fbID   uint32
	width  uint32
	height uint32
	pitch  uint32
	bpp    uint32
	depth  uint32
	handle uint32
}

type sysPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

type sysCreateDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type sysMapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

type sysDestroyDumb struct {
	handle uint32
}

const ioctlBase = 'd'

var (
	ioctlSetMaster  = ioctl.IO(ioctlBase, 0x1e)
	ioctlDropMaster = ioctl.IO(ioctlBase, 0x1f)
	ioctlGetCap     = ioctl.IOWR[sysGetCap](ioctlBase, 0x0c)

	ioctlModeGetResources = ioctl.IOWR[sysCardRes](ioctlBase, 0xa0)
	ioctlModeGetCrtc      = ioctl.IOWR[sysCrtc](ioctlBase, 0xa1)
	ioctlModeCursor       = ioctl.IOWR[sysCursor](ioctlBase, 0xa3)
	ioctlModeAddFB        = ioctl.IOWR[sysFBCmd](ioctlBase, 0xae)
	ioctlModeRmFB         = ioctl.IOWR[uint32](ioctlBase, 0xaf)
	ioctlModePageFlip     = ioctl.IOWR[sysPageFlip](ioctlBase, 0xb0)
	ioctlModeCreateDumb   = ioctl.IOWR[sysCreateDumb](ioctlBase, 0xb2)
	ioctlModeMapDumb      = ioctl.IOWR[sysMapDumb](ioctlBase, 0xb3)
	ioctlModeDestroyDumb  = ioctl.IOWR[sysDestroyDumb](ioctlBase, 0xb4)
	ioctlModeCursor2      = ioctl.IOWR[sysCursor2](ioctlBase, 0xbb)
)
