// Package drm gives access to a kernel mode-setting device through its
// character device node, usually /dev/dri/cardN.
//
// Only the requests needed to drive outputs with dumb buffers and page
// flips are implemented. Mode selection is left to whoever owns the
// CRTC configuration.
package drm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"unsafe"

	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/ioctl"
	"deedles.dev/kms/session"
	"golang.org/x/sys/unix"
)

// Cap is a device capability queried with GetCap.
type Cap uint64

const (
	CapDumbBuffer Cap = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers Cap = 0x10
	CapPageFlipTarget  Cap = 0x11
	CapCRTCInVBlank    Cap = 0x12
)

// Device is an open mode-setting device. It is reference counted: the
// file descriptor is closed when the last holder calls Close.
type Device struct {
	file   *os.File
	fd     int
	id     session.DeviceID
	refs   atomic.Int32
	active atomic.Bool
	log    *slog.Logger
}

// Open opens the device node at path.
func Open(path string, log *slog.Logger) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	dev, err := NewDevice(file, log)
	if err != nil {
		file.Close()
		return nil, err
	}
	return dev, nil
}

// NewDevice wraps an already open device file. The Device takes
// ownership of file.
func NewDevice(file *os.File, log *slog.Logger) (*Device, error) {
	dev := Device{
		file: file,
		fd:   int(file.Fd()),
		log:  debug.Or(log),
	}

	var st unix.Stat_t
	err := unix.Fstat(dev.fd, &st)
	if err != nil {
		return nil, fmt.Errorf("stat device: %w", err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%v: not a character device", file.Name())
	}
	dev.id = session.DeviceID{
		Major: unix.Major(uint64(st.Rdev)),
		Minor: unix.Minor(uint64(st.Rdev)),
	}

	dev.refs.Store(1)
	dev.active.Store(true)
	return &dev, nil
}

// Fd returns the underlying file descriptor. It stays the same number
// across session switches.
func (dev *Device) Fd() int {
	return dev.fd
}

// DeviceID returns the device numbers of the node.
func (dev *Device) DeviceID() session.DeviceID {
	return dev.id
}

// Active reports whether the device is usable, which is false between
// a session pause and the following activation.
func (dev *Device) Active() bool {
	return dev.active.Load()
}

// Ref adds a reference that must be released with Close.
func (dev *Device) Ref() *Device {
	dev.refs.Add(1)
	return dev
}

// Close releases a reference, closing the device with the last one.
func (dev *Device) Close() error {
	switch n := dev.refs.Add(-1); {
	case n > 0:
		return nil
	case n < 0:
		return ErrClosed
	}

	dev.active.Store(false)
	return dev.file.Close()
}

func (dev *Device) ioctl(op string, c ioctl.Code, arg unsafe.Pointer) error {
	if dev.refs.Load() <= 0 {
		return ErrClosed
	}

	err := ioctl.Do(dev.fd, c, arg)
	dev.log.Log(context.Background(), debug.LevelTrace, "ioctl", "op", op, "req", c, "err", err)
	return wrap(op, err)
}

// SetMaster acquires the right to change the display configuration.
func (dev *Device) SetMaster() error {
	return dev.ioctl("set master", ioctlSetMaster, nil)
}

// DropMaster gives up the right acquired by SetMaster.
func (dev *Device) DropMaster() error {
	return dev.ioctl("drop master", ioctlDropMaster, nil)
}

// GetCap queries a device capability.
func (dev *Device) GetCap(c Cap) (uint64, error) {
	req := sysGetCap{capability: uint64(c)}
	err := dev.ioctl("get cap", ioctlGetCap, unsafe.Pointer(&req))
	return req.value, err
}

// Observer returns the device's own session observer. Pausing drops
// master; activating installs a replacement descriptor, if one is
// given, and reacquires master.
func (dev *Device) Observer() *Observer {
	return &Observer{dev: dev}
}

type Observer struct {
	dev *Device
}

func (obs *Observer) Pause(id *session.DeviceID) {
	if !obs.dev.id.Matches(id) {
		return
	}

	obs.dev.active.Store(false)
	err := obs.dev.DropMaster()
	if err != nil {
		obs.dev.log.Warn("drop master on pause", "dev", obs.dev.id, "err", err)
	}
}

func (obs *Observer) Activate(id *session.DeviceID, fd int) {
	if !obs.dev.id.Matches(id) {
		return
	}

	if (id != nil) && (fd >= 0) && (fd != obs.dev.fd) {
		err := unix.Dup3(fd, obs.dev.fd, unix.O_CLOEXEC)
		if err != nil {
			obs.dev.log.Error("replace device descriptor", "dev", obs.dev.id, "fd", fd, "err", err)
			return
		}
	}

	err := obs.dev.SetMaster()
	if err != nil {
		obs.dev.log.Warn("set master on activate", "dev", obs.dev.id, "err", err)
	}
	obs.dev.active.Store(true)
}
