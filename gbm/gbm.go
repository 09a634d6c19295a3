// Package gbm drives KMS outputs with buffers from a platform
// allocator and makes them usable as EGL native displays and windows.
//
// A Device owns the allocator and keeps a registry of the Surfaces
// created on it, one per CRTC. Each Surface owns a swap chain, a
// cursor image and the buffer currently on screen. Presentation is
// asynchronous: SwapBuffers requests a page flip and the buffer only
// becomes current once the flip completion event has been passed to
// Device.HandleEvent.
//
// When the session is paused and later activated, the Observer
// returned by Device.Observer restarts the flip loop of every live
// surface and restores its cursor.
package gbm

import (
	"fmt"
	"image"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
)

// KMS is the mode-setting side of a device. It is implemented by
// *drm.Device.
type KMS interface {
	Crtc(crtc drm.CRTC) (*drm.CrtcInfo, error)
	PageFlip(crtc drm.CRTC, fb drm.Framebuffer, flags drm.PageFlipFlags, userData uint64) error
	SetCursor(crtc drm.CRTC, bo drm.BufferHandle, width, height uint32) error
	SetCursor2(crtc drm.CRTC, bo drm.BufferHandle, width, height uint32, hot image.Point) error
	MoveCursor(crtc drm.CRTC, p image.Point) error

	// Active reports whether the session currently has the device.
	Active() bool

	// Close releases the reference held by the Device.
	Close() error
}

// Format is a DRM fourcc pixel format.
type Format uint32

const (
	FormatXRGB8888 Format = 0x34325258
	FormatARGB8888 Format = 0x34325241
)

func (f Format) String() string {
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}

// Usage describes what a buffer will be used for.
type Usage uint32

const (
	UseScanout Usage = 1 << iota
	UseCursor
	UseRendering
	UseWrite
)

// Allocator creates buffers that the KMS device can scan out.
type Allocator interface {
	// Ptr returns the allocator's device pointer for EGL.
	Ptr() egl.NativeDisplayType

	CreateSurface(width, height uint32, format Format, usage Usage) (Chain, error)
	CreateBuffer(width, height uint32, format Format, usage Usage) (BufferObject, error)

	// Destroy frees the allocator. Chains and buffers created from it
	// must have been destroyed first.
	Destroy()
}

// Chain is a swap chain: a small pool of buffers that a renderer draws
// into in turn.
type Chain interface {
	Ptr() egl.NativeWindowType
	Size() (width, height uint32)

	// LockFrontBuffer takes the most recently rendered buffer out of the
	// pool until it is released.
	LockFrontBuffer() (BufferObject, error)
	ReleaseBuffer(bo BufferObject)

	// Destroy frees the chain. Buffers that are locked at the time stay
	// valid and are freed when released.
	Destroy()
}

// BufferObject is a single allocated buffer.
type BufferObject interface {
	Handle() drm.BufferHandle
	Size() (width, height uint32)

	// Framebuffer returns the KMS framebuffer wrapping the buffer,
	// creating it on first use.
	Framebuffer() (drm.Framebuffer, error)

	// Write replaces the contents of the buffer with img, anchored at
	// the buffer's top-left corner.
	Write(img image.Image) error

	Destroy()
}
