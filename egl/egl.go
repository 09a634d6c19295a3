// Package egl describes the boundary between a native platform and an
// EGL implementation: the opaque handle types EGL consumes, the entry
// points used to obtain a display, and the interfaces a native platform
// implements so that EGL objects can be built on top of it.
//
// The package does not load libEGL itself. Whoever does fills in a
// Functions table.
package egl

import (
	"errors"
	"fmt"
	"log/slog"

	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/set"
)

// NativeDisplayType is the platform display pointer handed to EGL, such
// as a struct gbm_device *.
type NativeDisplayType uintptr

// NativeWindowType is the platform window pointer handed to EGL, such
// as a struct gbm_surface *.
type NativeWindowType uintptr

// Display is an EGLDisplay.
type Display uintptr

// NoDisplay is EGL_NO_DISPLAY.
const NoDisplay Display = 0

// Platform is an EGL platform enum.
type Platform uint32

const (
	PlatformGBMKHR  Platform = 0x31d7
	PlatformGBMMESA Platform = 0x31d7
)

// Extensions is EGL_EXTENSIONS, for use with QueryString.
const Extensions int32 = 0x3055

// Attrib is an EGLAttrib.
type Attrib = uintptr

// Functions holds EGL entry points resolved at runtime. A nil field is
// an entry point that the implementation does not export.
type Functions struct {
	GetDisplay            func(native NativeDisplayType) Display
	GetPlatformDisplay    func(platform Platform, native NativeDisplayType, attribs []Attrib) Display
	GetPlatformDisplayEXT func(platform Platform, native NativeDisplayType, attribs []int32) Display
	QueryString           func(display Display, name int32) string
}

// ClientExtensions returns the client extensions reported for
// EGL_NO_DISPLAY. Implementations without EGL_EXT_client_extensions
// report none.
func (fns *Functions) ClientExtensions() set.Set[string] {
	if fns.QueryString == nil {
		return set.New[string]()
	}
	return set.Fields(fns.QueryString(NoDisplay, Extensions))
}

// NativeSurface is a platform window that EGL renders into.
type NativeSurface interface {
	// Ptr returns the pointer EGL creates its window surface from.
	Ptr() NativeWindowType

	// NeedsRecreation reports that Recreate must be called before the
	// next frame is presented.
	NeedsRecreation() bool

	// Recreate rebuilds the platform window. False means the surface
	// cannot be used right now; the caller may retry later or give up
	// on it.
	Recreate() bool

	// SwapBuffers presents the frame just finished. It must be called
	// exactly once per frame, after eglSwapBuffers has returned.
	SwapBuffers() error
}

// NativeDisplay is a platform display that surfaces of type S can be
// created on, given arguments of type A.
type NativeDisplay[A any, S NativeSurface] interface {
	// IsBackend reports whether the display belongs to the backend it
	// claims to. Implementations bound to a single backend return true.
	IsBackend() bool

	// Ptr returns the pointer EGL obtains its display from.
	Ptr() (NativeDisplayType, error)

	CreateSurface(args A) (S, error)
}

// Resolver obtains an EGL display for a native display pointer.
// supports reports whether a client extension is available.
type Resolver func(native NativeDisplayType, supports func(string) bool, fns *Functions, log *slog.Logger) Display

var (
	// ErrWrongBackend is returned by Open when the native display does
	// not belong to the resolver's backend.
	ErrWrongBackend = errors.New("egl: native display is not of the requested backend")

	// ErrNoDisplay is returned by Open when every pathway returned
	// EGL_NO_DISPLAY.
	ErrNoDisplay = errors.New("egl: no display")
)

// Open obtains an EGL display for nd. The display is owned by the EGL
// implementation.
func Open[A any, S NativeSurface](nd NativeDisplay[A, S], resolve Resolver, fns *Functions, log *slog.Logger) (Display, error) {
	log = debug.Or(log)

	if !nd.IsBackend() {
		return NoDisplay, ErrWrongBackend
	}

	ptr, err := nd.Ptr()
	if err != nil {
		return NoDisplay, fmt.Errorf("native display pointer: %w", err)
	}

	exts := fns.ClientExtensions()
	log.Debug("egl client extensions", "count", len(exts))

	display := resolve(ptr, exts.Has, fns, log)
	if display == NoDisplay {
		return NoDisplay, ErrNoDisplay
	}
	return display, nil
}
