package drm

import (
	"bytes"
	"image"
	"runtime"
	"unsafe"
)

// CRTC identifies a display pipeline.
type CRTC uint32

// Framebuffer identifies a framebuffer object that can be scanned out.
type Framebuffer uint32

// BufferHandle is a GEM handle local to one open device.
type BufferHandle uint32

// PageFlipFlags modify a page flip request.
type PageFlipFlags uint32

const (
	// FlipEvent requests a completion event on the device fd.
	FlipEvent PageFlipFlags = 0x01
	FlipAsync PageFlipFlags = 0x02
)

const (
	cursorBO   = 0x01
	cursorMove = 0x02
)

// ModeInfo is a display timing, laid out as struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16
	Vrefresh                                      uint32
	Flags                                         uint32
	Type                                          uint32
	RawName                                       [32]byte
}

// Size returns the visible size of the mode.
func (m ModeInfo) Size() (w, h uint32) {
	return uint32(m.Hdisplay), uint32(m.Vdisplay)
}

func (m ModeInfo) Name() string {
	name, _, _ := bytes.Cut(m.RawName[:], []byte{0})
	return string(name)
}

// CrtcInfo is the current state of a CRTC.
type CrtcInfo struct {
	ID          CRTC
	Framebuffer Framebuffer
	X, Y        uint32
	GammaSize   uint32
	ModeValid   bool
	Mode        ModeInfo
}

// Resources lists the mode-setting objects of a device.
type Resources struct {
	Framebuffers []Framebuffer
	CRTCs        []CRTC
	Connectors   []uint32
	Encoders     []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

func ptrOf[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

// Resources fetches the device's object lists. The kernel is asked
// twice, once for the counts and once for the contents; if the counts
// change in between, the query is repeated.
func (dev *Device) Resources() (*Resources, error) {
	for {
		var req sysCardRes
		err := dev.ioctl("get resources", ioctlModeGetResources, unsafe.Pointer(&req))
		if err != nil {
			return nil, err
		}

		res := Resources{
			Framebuffers: make([]Framebuffer, req.countFbs),
			CRTCs:        make([]CRTC, req.countCrtcs),
			Connectors:   make([]uint32, req.countConns),
			Encoders:     make([]uint32, req.countEncoders),
		}
		counts := req
		req.fbIDPtr = ptrOf(res.Framebuffers)
		req.crtcIDPtr = ptrOf(res.CRTCs)
		req.connectorIDPtr = ptrOf(res.Connectors)
		req.encoderIDPtr = ptrOf(res.Encoders)

		err = dev.ioctl("get resources", ioctlModeGetResources, unsafe.Pointer(&req))
		runtime.KeepAlive(&res)
		if err != nil {
			return nil, err
		}
		if (req.countFbs > counts.countFbs) ||
			(req.countCrtcs > counts.countCrtcs) ||
			(req.countConns > counts.countConns) ||
			(req.countEncoders > counts.countEncoders) {
			continue
		}

		res.Framebuffers = res.Framebuffers[:req.countFbs]
		res.CRTCs = res.CRTCs[:req.countCrtcs]
		res.Connectors = res.Connectors[:req.countConns]
		res.Encoders = res.Encoders[:req.countEncoders]
		res.MinWidth, res.MaxWidth = req.minWidth, req.maxWidth
		res.MinHeight, res.MaxHeight = req.minHeight, req.maxHeight
		return &res, nil
	}
}

// Crtc returns the current state of crtc.
func (dev *Device) Crtc(crtc CRTC) (*CrtcInfo, error) {
	req := sysCrtc{crtcID: uint32(crtc)}
	err := dev.ioctl("get crtc", ioctlModeGetCrtc, unsafe.Pointer(&req))
	if err != nil {
		return nil, err
	}

	return &CrtcInfo{
		ID:          CRTC(req.crtcID),
		Framebuffer: Framebuffer(req.fbID),
		X:           req.x,
		Y:           req.y,
		GammaSize:   req.gammaSize,
		ModeValid:   req.modeValid != 0,
		Mode:        req.mode,
	}, nil
}

// PageFlip asks crtc to scan out fb from the next vertical blank. With
// FlipEvent set, completion is reported as an Event carrying userData.
// The kernel refuses a flip while another one on the same CRTC is
// still pending.
func (dev *Device) PageFlip(crtc CRTC, fb Framebuffer, flags PageFlipFlags, userData uint64) error {
	req := sysPageFlip{
		crtcID:   uint32(crtc),
		fbID:     uint32(fb),
		flags:    uint32(flags),
		userData: userData,
	}
	return dev.ioctl("page flip", ioctlModePageFlip, unsafe.Pointer(&req))
}

// SetCursor sets the cursor image of crtc. A zero handle hides the
// cursor.
func (dev *Device) SetCursor(crtc CRTC, bo BufferHandle, width, height uint32) error {
	req := sysCursor{
		flags:  cursorBO,
		crtcID: uint32(crtc),
		width:  width,
		height: height,
		handle: uint32(bo),
	}
	return dev.ioctl("set cursor", ioctlModeCursor, unsafe.Pointer(&req))
}

// SetCursor2 is like SetCursor but also tells the driver where the
// hotspot is, which virtualized drivers need.
func (dev *Device) SetCursor2(crtc CRTC, bo BufferHandle, width, height uint32, hot image.Point) error {
	req := sysCursor2{
		sysCursor: sysCursor{
			flags:  cursorBO,
			crtcID: uint32(crtc),
			width:  width,
			height: height,
			handle: uint32(bo),
		},
		hotX: int32(hot.X),
		hotY: int32(hot.Y),
	}
	return dev.ioctl("set cursor2", ioctlModeCursor2, unsafe.Pointer(&req))
}

// MoveCursor positions the cursor of crtc.
func (dev *Device) MoveCursor(crtc CRTC, p image.Point) error {
	req := sysCursor{
		flags:  cursorMove,
		crtcID: uint32(crtc),
		x:      int32(p.X),
		y:      int32(p.Y),
	}
	return dev.ioctl("move cursor", ioctlModeCursor, unsafe.Pointer(&req))
}

// AddFB creates a framebuffer from a buffer object.
func (dev *Device) AddFB(width, height uint32, depth, bpp uint8, pitch uint32, bo BufferHandle) (Framebuffer, error) {
	req := sysFBCmd{
		width:  width,
		height: height,
		pitch:  pitch,
		bpp:    uint32(bpp),
		depth:  uint32(depth),
		handle: uint32(bo),
	}
	err := dev.ioctl("add fb", ioctlModeAddFB, unsafe.Pointer(&req))
	return Framebuffer(req.fbID), err
}

// RmFB removes a framebuffer. Removing the framebuffer that is being
// scanned out turns the CRTC off.
func (dev *Device) RmFB(fb Framebuffer) error {
	id := uint32(fb)
	return dev.ioctl("rm fb", ioctlModeRmFB, unsafe.Pointer(&id))
}
