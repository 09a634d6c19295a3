package gbm

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"deedles.dev/kms/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSwapBuffersPending(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	chain := alloc.chains[0]

	require.NoError(t, s.SwapBuffers())
	err = s.SwapBuffers()
	require.ErrorIs(t, err, ErrFlipPending)
	var serr *SwapBuffersError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, SwapFlipPending, serr.Kind)
	assert.Len(t, kms.flips, 1)

	s.FlipComplete()
	require.NoError(t, s.SwapBuffers())
	assert.Empty(t, chain.released)

	s.FlipComplete()
	require.Len(t, chain.released, 1)
	assert.Same(t, chain.locked[0], chain.released[0])
	assert.Equal(t, []drm.Framebuffer{chain.locked[0].fb, chain.locked[1].fb}, []drm.Framebuffer{kms.flips[0].fb, kms.flips[1].fb})
}

func TestSwapBuffersInactive(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)

	kms.active = false
	err = s.SwapBuffers()
	assert.ErrorIs(t, err, ErrDeviceInactive)
	assert.Empty(t, kms.flips)
	assert.Empty(t, alloc.chains[0].locked)
}

func TestSwapBuffersDeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind SwapErrorKind
		is   error
	}{
		{"Busy", unix.EBUSY, SwapFlipPending, ErrFlipPending},
		{"Access", unix.EACCES, SwapDeviceInactive, ErrDeviceInactive},
		{"Perm", &drm.IoctlError{Op: "page flip", Err: unix.EPERM}, SwapDeviceInactive, ErrDeviceInactive},
		{"Invalid", unix.EINVAL, SwapRejected, ErrFlipRejected},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev, kms, alloc, _ := newTestDevice(31)
			s, err := dev.CreateSurface(31)
			require.NoError(t, err)

			kms.flipErr = test.err
			err = s.SwapBuffers()
			require.ErrorIs(t, err, test.is)
			require.ErrorIs(t, err, test.err)
			var serr *SwapBuffersError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, test.kind, serr.Kind)

			chain := alloc.chains[0]
			assert.Equal(t, chain.locked, chain.released)
			assert.False(t, s.FlipPending())
		})
	}
}

func TestSwapBuffersLockFailure(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)

	alloc.chains[0].lockErr = ErrNothingRendered
	err = s.SwapBuffers()
	var aerr *AllocatorError
	require.True(t, errors.As(err, &aerr))
	assert.ErrorIs(t, err, ErrNothingRendered)
	assert.ErrorIs(t, err, ErrFlipRejected)
	assert.Empty(t, kms.flips)
}

func TestRecreate(t *testing.T) {
	dev, kms, alloc, degraded := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	require.NoError(t, s.SwapBuffers())
	s.FlipComplete()

	assert.False(t, s.NeedsRecreation())
	s.Invalidate()
	assert.True(t, s.NeedsRecreation())
	assert.ErrorIs(t, s.SwapBuffers(), ErrSurfaceOutdated)

	kms.modes[31] = drm.ModeInfo{Hdisplay: 1920, Vdisplay: 1080}
	require.True(t, s.Recreate())
	assert.False(t, s.NeedsRecreation())
	assert.Empty(t, *degraded)

	require.Len(t, alloc.chains, 2)
	old, cur := alloc.chains[0], alloc.chains[1]
	assert.True(t, old.destroyed)
	assert.Equal(t, cur.Ptr(), s.Ptr())
	w, h := s.Size()
	assert.Equal(t, [2]uint32{1920, 1080}, [2]uint32{w, h})

	require.NoError(t, s.SwapBuffers())
	s.FlipComplete()
	require.Len(t, old.released, 1)
	assert.Same(t, old.locked[0], old.released[0])
	assert.Empty(t, cur.released)
}

func TestRecreateDegrades(t *testing.T) {
	dev, _, alloc, degraded := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	s.Invalidate()

	alloc.createErr = errors.New("no memory")
	assert.False(t, s.Recreate())
	assert.True(t, s.NeedsRecreation())
	assert.False(t, alloc.chains[0].destroyed)

	require.Len(t, *degraded, 1)
	d := (*degraded)[0]
	assert.Equal(t, OpRecreate, d.Op)
	assert.Equal(t, drm.CRTC(31), d.CRTC)
	assert.ErrorIs(t, d, alloc.createErr)

	alloc.createErr = nil
	assert.True(t, s.Recreate())
}

func TestRecreateDegradeMayDestroy(t *testing.T) {
	kms := newFakeKMS(31)
	alloc := &fakeAllocator{}
	var s *Surface
	var degraded []Degradation
	dev := NewDevice(kms, alloc, WithDegradeFunc(func(d Degradation) {
		degraded = append(degraded, d)
		s.Destroy()
	}))

	var err error
	s, err = dev.CreateSurface(31)
	require.NoError(t, err)

	alloc.createErr = errors.New("no memory")
	assert.False(t, s.Recreate())
	require.Len(t, degraded, 1)
	assert.True(t, alloc.chains[0].destroyed)

	assert.False(t, s.Recreate())
	assert.Len(t, degraded, 1)
}

func TestDestroyInactiveKeepsCursorCalls(t *testing.T) {
	dev, kms, _, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	require.NoError(t, s.SetCursor(image.NewRGBA(image.Rect(0, 0, 8, 8)), image.Point{}))

	kms.cursors = nil
	kms.active = false
	s.Destroy()
	assert.Empty(t, kms.cursors)
}

func TestDestroyedSurface(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)
	require.NoError(t, s.SwapBuffers())
	require.NoError(t, s.SetCursor(image.NewRGBA(image.Rect(0, 0, 8, 8)), image.Pt(1, 1)))

	kms.cursors = nil
	s.Destroy()
	s.Destroy()
	assert.Equal(t, []cursorCall{{crtc: 31, legacy: true}}, kms.cursors)

	chain := alloc.chains[0]
	assert.True(t, chain.destroyed)
	assert.Equal(t, chain.locked, chain.released)
	assert.Nil(t, s.Cursor())
	assert.Zero(t, s.Ptr())
	assert.ErrorIs(t, s.SwapBuffers(), ErrSurfaceDestroyed)
	assert.ErrorIs(t, s.SetCursor(nil, image.Point{}), ErrSurfaceDestroyed)
	assert.ErrorIs(t, s.MoveCursor(image.Pt(3, 3)), ErrSurfaceDestroyed)
	assert.False(t, s.Recreate())
}

func TestSetCursor(t *testing.T) {
	dev, kms, alloc, _ := newTestDevice(31)
	s, err := dev.CreateSurface(31)
	require.NoError(t, err)

	img := image.NewUniform(color.White)
	require.NoError(t, s.SetCursor(img, image.Pt(4, 5)))
	c := s.Cursor()
	require.NotNil(t, c)
	assert.Equal(t, image.Pt(4, 5), c.Hotspot)
	bo := c.Buffer.(*fakeBuffer)
	assert.Equal(t, img, bo.written)
	w, h := bo.Size()
	assert.Equal(t, [2]uint32{64, 64}, [2]uint32{w, h})
	assert.Equal(t, []cursorCall{{crtc: 31, bo: bo.handle, hot: image.Pt(4, 5)}}, kms.cursors)

	kms.cursors = nil
	kms.cursor2Err = unix.EINVAL
	require.NoError(t, s.SetCursor(img, image.Pt(1, 1)))
	assert.True(t, bo.destroyed)
	require.Len(t, kms.cursors, 2)
	assert.False(t, kms.cursors[0].legacy)
	assert.True(t, kms.cursors[1].legacy)

	kms.cursors = nil
	kms.active = false
	require.NoError(t, s.SetCursor(img, image.Pt(2, 2)))
	assert.Empty(t, kms.cursors)
	assert.Equal(t, image.Pt(2, 2), s.Cursor().Hotspot)

	kms.active = true
	kms.cursorErr = unix.ENXIO
	last := s.Cursor()
	err = s.SetCursor(img, image.Pt(3, 3))
	require.ErrorIs(t, err, unix.ENXIO)
	require.ErrorIs(t, err, unix.EINVAL)
	assert.Same(t, last, s.Cursor())
	assert.True(t, alloc.buffers[len(alloc.buffers)-1].destroyed)

	require.NoError(t, s.MoveCursor(image.Pt(10, 20)))
	assert.Equal(t, []image.Point{{10, 20}}, kms.moves)
}
