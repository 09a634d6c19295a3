package gbm

import (
	"image"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"deedles.dev/kms/session"
)

type flipCall struct {
	crtc     drm.CRTC
	fb       drm.Framebuffer
	flags    drm.PageFlipFlags
	userData uint64
}

type cursorCall struct {
	crtc   drm.CRTC
	bo     drm.BufferHandle
	hot    image.Point
	legacy bool
}

type fakeKMS struct {
	modes  map[drm.CRTC]drm.ModeInfo
	active bool

	flipErr    error
	cursor2Err error
	cursorErr  error

	flips   []flipCall
	cursors []cursorCall
	moves   []image.Point
	closed  int
}

func newFakeKMS(crtcs ...drm.CRTC) *fakeKMS {
	modes := make(map[drm.CRTC]drm.ModeInfo, len(crtcs))
	for _, crtc := range crtcs {
		modes[crtc] = drm.ModeInfo{Hdisplay: 640, Vdisplay: 480}
	}
	return &fakeKMS{modes: modes, active: true}
}

func (kms *fakeKMS) Crtc(crtc drm.CRTC) (*drm.CrtcInfo, error) {
	mode, ok := kms.modes[crtc]
	return &drm.CrtcInfo{ID: crtc, ModeValid: ok, Mode: mode}, nil
}

func (kms *fakeKMS) PageFlip(crtc drm.CRTC, fb drm.Framebuffer, flags drm.PageFlipFlags, userData uint64) error {
	if kms.flipErr != nil {
		return kms.flipErr
	}
	kms.flips = append(kms.flips, flipCall{crtc: crtc, fb: fb, flags: flags, userData: userData})
	return nil
}

func (kms *fakeKMS) SetCursor(crtc drm.CRTC, bo drm.BufferHandle, width, height uint32) error {
	kms.cursors = append(kms.cursors, cursorCall{crtc: crtc, bo: bo, legacy: true})
	return kms.cursorErr
}

func (kms *fakeKMS) SetCursor2(crtc drm.CRTC, bo drm.BufferHandle, width, height uint32, hot image.Point) error {
	kms.cursors = append(kms.cursors, cursorCall{crtc: crtc, bo: bo, hot: hot})
	return kms.cursor2Err
}

func (kms *fakeKMS) MoveCursor(crtc drm.CRTC, p image.Point) error {
	kms.moves = append(kms.moves, p)
	return nil
}

func (kms *fakeKMS) Active() bool {
	return kms.active
}

func (kms *fakeKMS) Close() error {
	kms.closed++
	return nil
}

func (kms *fakeKMS) flipsFor(crtc drm.CRTC) (flips []flipCall) {
	for _, f := range kms.flips {
		if f.crtc == crtc {
			flips = append(flips, f)
		}
	}
	return flips
}

func (kms *fakeKMS) cursorsFor(crtc drm.CRTC) (calls []cursorCall) {
	for _, c := range kms.cursors {
		if c.crtc == crtc {
			calls = append(calls, c)
		}
	}
	return calls
}

// fakeObserver stands in for the drm device's observer.
type fakeObserver struct {
	kms   *fakeKMS
	calls []string
}

func (obs *fakeObserver) Pause(*session.DeviceID) {
	obs.calls = append(obs.calls, "pause")
	obs.kms.active = false
}

func (obs *fakeObserver) Activate(*session.DeviceID, int) {
	obs.calls = append(obs.calls, "activate")
	obs.kms.active = true
}

type fakeAllocator struct {
	createErr error
	nextID    uint32
	chains    []*fakeChain
	buffers   []*fakeBuffer
	destroyed bool
}

func (a *fakeAllocator) id() uint32 {
	a.nextID++
	return a.nextID
}

func (a *fakeAllocator) Ptr() egl.NativeDisplayType {
	return 0xd15
}

func (a *fakeAllocator) CreateSurface(width, height uint32, format Format, usage Usage) (Chain, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	c := fakeChain{alloc: a, ptr: egl.NativeWindowType(a.id()), w: width, h: height}
	a.chains = append(a.chains, &c)
	return &c, nil
}

func (a *fakeAllocator) CreateBuffer(width, height uint32, format Format, usage Usage) (BufferObject, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	bo := a.newBuffer(width, height)
	return bo, nil
}

func (a *fakeAllocator) newBuffer(width, height uint32) *fakeBuffer {
	id := a.id()
	bo := fakeBuffer{handle: drm.BufferHandle(id), fb: drm.Framebuffer(id), w: width, h: height}
	a.buffers = append(a.buffers, &bo)
	return &bo
}

func (a *fakeAllocator) Destroy() {
	a.destroyed = true
}

type fakeChain struct {
	alloc     *fakeAllocator
	ptr       egl.NativeWindowType
	w, h      uint32
	lockErr   error
	locked    []*fakeBuffer
	released  []*fakeBuffer
	destroyed bool
}

func (c *fakeChain) Ptr() egl.NativeWindowType {
	return c.ptr
}

func (c *fakeChain) Size() (width, height uint32) {
	return c.w, c.h
}

func (c *fakeChain) LockFrontBuffer() (BufferObject, error) {
	if c.lockErr != nil {
		return nil, c.lockErr
	}
	bo := c.alloc.newBuffer(c.w, c.h)
	c.locked = append(c.locked, bo)
	return bo, nil
}

func (c *fakeChain) ReleaseBuffer(bo BufferObject) {
	c.released = append(c.released, bo.(*fakeBuffer))
}

func (c *fakeChain) Destroy() {
	c.destroyed = true
}

type fakeBuffer struct {
	handle    drm.BufferHandle
	fb        drm.Framebuffer
	w, h      uint32
	written   image.Image
	destroyed bool
}

func (bo *fakeBuffer) Handle() drm.BufferHandle {
	return bo.handle
}

func (bo *fakeBuffer) Size() (width, height uint32) {
	return bo.w, bo.h
}

func (bo *fakeBuffer) Framebuffer() (drm.Framebuffer, error) {
	return bo.fb, nil
}

func (bo *fakeBuffer) Write(img image.Image) error {
	bo.written = img
	return nil
}

func (bo *fakeBuffer) Destroy() {
	bo.destroyed = true
}

type degradations []Degradation

func (d *degradations) record(deg Degradation) {
	*d = append(*d, deg)
}

func newTestDevice(crtcs ...drm.CRTC) (*Device, *fakeKMS, *fakeAllocator, *degradations) {
	kms := newFakeKMS(crtcs...)
	alloc := &fakeAllocator{}
	var degraded degradations
	dev := NewDevice(kms, alloc, WithDegradeFunc(degraded.record))
	return dev, kms, alloc, &degraded
}
