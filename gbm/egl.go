package gbm

import (
	"context"
	"log/slog"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"deedles.dev/kms/internal/debug"
)

const (
	extPlatformGBMKHR  = "EGL_KHR_platform_gbm"
	extPlatformGBMMESA = "EGL_MESA_platform_gbm"
)

var (
	_ egl.Resolver                          = GetDisplay
	_ egl.NativeDisplay[drm.CRTC, *Surface] = (*Device)(nil)
	_ egl.NativeSurface                     = (*Surface)(nil)
)

// GetDisplay obtains an EGL display for a GBM device pointer. It
// prefers the platform extensions and falls back to eglGetDisplay when
// neither is available:
//
//  1. EGL_KHR_platform_gbm through eglGetPlatformDisplay
//  2. EGL_MESA_platform_gbm through eglGetPlatformDisplayEXT
//  3. EGL_MESA_platform_gbm through eglGetPlatformDisplay
//  4. eglGetDisplay
//
// It returns egl.NoDisplay if the chosen entry point is missing or
// fails. The display is owned by the EGL implementation.
func GetDisplay(native egl.NativeDisplayType, supports func(string) bool, fns *egl.Functions, log *slog.Logger) egl.Display {
	log = debug.Or(log)
	trace := func(msg string) {
		log.Log(context.Background(), debug.LevelTrace, msg)
	}

	switch {
	case supports(extPlatformGBMKHR) && (fns.GetPlatformDisplay != nil):
		trace("EGL display initialization via EGL_KHR_platform_gbm")
		return fns.GetPlatformDisplay(egl.PlatformGBMKHR, native, nil)

	case supports(extPlatformGBMMESA) && (fns.GetPlatformDisplayEXT != nil):
		trace("EGL display initialization via EGL_MESA_platform_gbm")
		return fns.GetPlatformDisplayEXT(egl.PlatformGBMMESA, native, nil)

	case supports(extPlatformGBMMESA) && (fns.GetPlatformDisplay != nil):
		trace("EGL display initialization via EGL_MESA_platform_gbm")
		return fns.GetPlatformDisplay(egl.PlatformGBMMESA, native, nil)

	default:
		trace("default EGL display initialization via eglGetDisplay")
		if fns.GetDisplay == nil {
			return egl.NoDisplay
		}
		return fns.GetDisplay(native)
	}
}
