package gbm

import (
	"errors"
	"fmt"

	"deedles.dev/kms/drm"
	"golang.org/x/sys/unix"
)

var (
	ErrDeviceClosed     = errors.New("gbm: device closed")
	ErrSurfaceExists    = errors.New("gbm: crtc already has a live surface")
	ErrSurfaceDestroyed = errors.New("gbm: surface destroyed")
	ErrNoMode           = errors.New("gbm: crtc has no mode")

	// ErrNoNativeDisplay is returned by Device.Ptr when the allocator
	// has no native device that EGL could use.
	ErrNoNativeDisplay = errors.New("gbm: allocator has no native display")

	ErrDeviceInactive  = errors.New("gbm: device inactive")
	ErrFlipPending     = errors.New("gbm: page flip pending")
	ErrFlipRejected    = errors.New("gbm: page flip rejected")
	ErrSurfaceOutdated = errors.New("gbm: surface needs recreation")

	ErrUnsupportedFormat = errors.New("gbm: unsupported format")
	ErrNoFreeBuffers     = errors.New("gbm: no free buffers")
	ErrNothingRendered   = errors.New("gbm: no buffer has been rendered")
)

// SurfaceExistsError is returned by CreateSurface when the CRTC is
// already driven by a surface that has not been destroyed.
type SurfaceExistsError struct {
	CRTC drm.CRTC
}

func (err *SurfaceExistsError) Error() string {
	return fmt.Sprintf("gbm: crtc %v already has a live surface", err.CRTC)
}

func (err *SurfaceExistsError) Is(target error) bool {
	return target == ErrSurfaceExists
}

// AllocatorError is returned when the allocator refuses to create a
// swap chain or buffer.
type AllocatorError struct {
	Op  string
	Err error
}

func (err *AllocatorError) Error() string {
	return fmt.Sprintf("gbm: %v: %v", err.Op, err.Err)
}

func (err *AllocatorError) Unwrap() error {
	return err.Err
}

// SwapErrorKind classifies a SwapBuffersError.
type SwapErrorKind int

const (
	// SwapDeviceInactive means the session is paused. Try again after
	// it has been activated.
	SwapDeviceInactive SwapErrorKind = iota

	// SwapFlipPending means the previous flip has not completed yet.
	SwapFlipPending

	// SwapRejected means the device or allocator refused the frame.
	SwapRejected

	// SwapOutdated means Recreate must be called first.
	SwapOutdated
)

func (k SwapErrorKind) String() string {
	switch k {
	case SwapDeviceInactive:
		return "device inactive"
	case SwapFlipPending:
		return "flip pending"
	case SwapRejected:
		return "rejected"
	case SwapOutdated:
		return "outdated"
	default:
		return fmt.Sprintf("SwapErrorKind(%d)", int(k))
	}
}

func (k SwapErrorKind) sentinel() error {
	switch k {
	case SwapDeviceInactive:
		return ErrDeviceInactive
	case SwapFlipPending:
		return ErrFlipPending
	case SwapOutdated:
		return ErrSurfaceOutdated
	default:
		return ErrFlipRejected
	}
}

// SwapBuffersError is returned by Surface.SwapBuffers. It matches the
// sentinel for its kind with errors.Is and unwraps to the underlying
// device error, if any.
type SwapBuffersError struct {
	Kind SwapErrorKind
	Err  error
}

func (err *SwapBuffersError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("gbm: swap buffers: %v", err.Kind)
	}
	return fmt.Sprintf("gbm: swap buffers: %v: %v", err.Kind, err.Err)
}

func (err *SwapBuffersError) Unwrap() error {
	return err.Err
}

func (err *SwapBuffersError) Is(target error) bool {
	return target == err.Kind.sentinel()
}

func classifyFlip(err error) SwapErrorKind {
	switch {
	case errors.Is(err, unix.EBUSY):
		return SwapFlipPending
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return SwapDeviceInactive
	default:
		return SwapRejected
	}
}
