package gbm

import (
	"errors"
	"testing"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSurfaceRegistry(t *testing.T) {
	dev, _, alloc, _ := newTestDevice(31, 32, 33)

	surfaces := make(map[drm.CRTC]*Surface)
	for _, crtc := range []drm.CRTC{33, 31, 32} {
		s, err := dev.CreateSurface(crtc)
		require.NoError(t, err)
		surfaces[crtc] = s
	}
	assert.Equal(t, []drm.CRTC{31, 32, 33}, dev.Outputs())
	assert.Len(t, alloc.chains, 3)

	w, h := surfaces[31].Size()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)

	_, err := dev.CreateSurface(32)
	require.ErrorIs(t, err, ErrSurfaceExists)
	var exists *SurfaceExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, drm.CRTC(32), exists.CRTC)
	assert.Len(t, alloc.chains, 3)
}

func TestCreateSurfaceReplacesDestroyed(t *testing.T) {
	dev, _, _, _ := newTestDevice(31)

	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	s.Destroy()
	assert.Equal(t, []drm.CRTC{31}, dev.Outputs())

	s2, err := dev.CreateSurface(31)
	require.NoError(t, err)
	assert.Equal(t, []drm.CRTC{31}, dev.Outputs())

	state, ok := dev.lookup(31)
	require.True(t, ok)
	assert.Same(t, s2.state, state)
}

func TestCreateSurfaceErrors(t *testing.T) {
	dev, _, alloc, _ := newTestDevice(31)

	_, err := dev.CreateSurface(40)
	assert.ErrorIs(t, err, ErrNoMode)

	alloc.createErr = errors.New("out of memory")
	_, err = dev.CreateSurface(31)
	var aerr *AllocatorError
	require.True(t, errors.As(err, &aerr))
	assert.ErrorIs(t, err, alloc.createErr)
	assert.Empty(t, dev.Outputs())
}

func TestDeviceLifetime(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)

	ptr, err := dev.Ptr()
	require.NoError(t, err)
	assert.EqualValues(t, 0xd15, ptr)
	assert.True(t, dev.IsBackend())

	s, err := dev.CreateSurface(31)
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.Zero(t, kms.closed)
	assert.False(t, alloc.destroyed)
	_, err = dev.CreateSurface(31)
	assert.ErrorIs(t, err, ErrDeviceClosed)

	s.Destroy()
	assert.Equal(t, 1, kms.closed)
	assert.True(t, alloc.destroyed)

	_, err = dev.Ptr()
	assert.ErrorIs(t, err, ErrDeviceClosed)
	_, err = dev.CreateSurface(31)
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestHandleEvent(t *testing.T) {
	dev, kms, _, _ := newTestDevice(31, 32)

	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	require.NoError(t, s.SwapBuffers())
	require.Len(t, kms.flips, 1)
	assert.Equal(t, drm.FlipEvent, kms.flips[0].flags)
	assert.Equal(t, uint64(31), kms.flips[0].userData)

	dev.HandleEvent(drm.Event{Type: drm.EventVBlank, UserData: 31})
	assert.True(t, s.FlipPending())

	dev.HandleEvent(drm.Event{Type: drm.EventFlipComplete, UserData: 32})
	assert.True(t, s.FlipPending())

	dev.HandleEvent(drm.Event{Type: drm.EventFlipComplete, UserData: 31})
	assert.False(t, s.FlipPending())
}

func TestDumbDeviceHasNoDisplay(t *testing.T) {
	dev := NewDevice(newFakeKMS(31), newDumbAllocator(newFakeDumbDevice(), 2, nil))
	defer dev.Close()

	_, err := dev.Ptr()
	assert.ErrorIs(t, err, ErrNoNativeDisplay)

	var calls []displayCall
	fns := recordingFunctions(&calls, true, true, true)
	fns.QueryString = func(egl.Display, int32) string { return "EGL_KHR_platform_gbm" }

	display, err := dev.Display(fns)
	assert.ErrorIs(t, err, ErrNoNativeDisplay)
	assert.Equal(t, egl.NoDisplay, display)
	assert.Empty(t, calls)
}
