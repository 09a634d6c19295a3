package gbm

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"deedles.dev/kms/internal/objstore"
)

// Cursor is a cursor image uploaded to a buffer, along with the point
// in it that tracks the pointer position.
type Cursor struct {
	Buffer  BufferObject
	Hotspot image.Point
}

type lockedBuffer struct {
	bo    BufferObject
	chain Chain
}

func (b *lockedBuffer) release() {
	b.chain.ReleaseBuffer(b.bo)
}

type surfaceState struct {
	dev  *Device
	crtc drm.CRTC

	needsRecreation atomic.Bool
	cursor          atomic.Pointer[Cursor]

	m         sync.Mutex
	chain     Chain
	pending   *lockedBuffer
	current   *lockedBuffer
	destroyed bool
}

// Surface is a swap chain scanned out on a single CRTC.
//
// A Surface is not safe for concurrent use, with the exception of
// Invalidate and NeedsRecreation, which may be called from any
// goroutine.
type Surface struct {
	state  *surfaceState
	handle objstore.Handle
}

// CRTC returns the CRTC that the surface drives.
func (s *Surface) CRTC() drm.CRTC {
	return s.state.crtc
}

// Ptr returns the swap chain pointer for creating an EGL window
// surface. It returns zero after the surface is destroyed.
func (s *Surface) Ptr() egl.NativeWindowType {
	s.state.m.Lock()
	defer s.state.m.Unlock()

	if s.state.destroyed {
		return 0
	}
	return s.state.chain.Ptr()
}

// Chain returns the current swap chain, which renderers draw into. It
// is replaced by Recreate. It returns nil after the surface is
// destroyed.
func (s *Surface) Chain() Chain {
	s.state.m.Lock()
	defer s.state.m.Unlock()

	if s.state.destroyed {
		return nil
	}
	return s.state.chain
}

// Size returns the size of the swap chain's buffers.
func (s *Surface) Size() (width, height uint32) {
	s.state.m.Lock()
	defer s.state.m.Unlock()

	if s.state.destroyed {
		return 0, 0
	}
	return s.state.chain.Size()
}

// NeedsRecreation reports whether the mode of the CRTC has changed
// since the swap chain was created.
func (s *Surface) NeedsRecreation() bool {
	return s.state.needsRecreation.Load()
}

// Invalidate marks the swap chain as outdated, for example after a
// mode set. SwapBuffers fails with SwapOutdated until Recreate
// succeeds.
func (s *Surface) Invalidate() {
	s.state.needsRecreation.Store(true)
}

// Recreate replaces the swap chain with one sized to the CRTC's
// current mode. Buffers of the old chain that are being scanned out
// stay alive until the next flip completes. Failures are passed to the
// device's DegradeFunc and reported as false.
func (s *Surface) Recreate() bool {
	err := s.state.recreate()
	if err != nil {
		if !errors.Is(err, ErrSurfaceDestroyed) {
			s.state.dev.opts.degrade(Degradation{CRTC: s.state.crtc, Op: OpRecreate, Err: err})
		}
		return false
	}
	return true
}

func (st *surfaceState) recreate() error {
	st.m.Lock()
	defer st.m.Unlock()

	if st.destroyed {
		return ErrSurfaceDestroyed
	}

	chain, err := st.dev.createChain(st.crtc)
	if err != nil {
		return err
	}

	st.chain.Destroy()
	st.chain = chain
	st.needsRecreation.Store(false)

	w, h := chain.Size()
	st.dev.opts.log.Debug("surface recreated", "crtc", st.crtc, "width", w, "height", h)
	return nil
}

// SwapBuffers schedules the most recently rendered buffer for scanout
// at the next vblank. The flip completes when the device delivers the
// corresponding event to Device.HandleEvent. Until then, further calls
// fail with SwapFlipPending.
func (s *Surface) SwapBuffers() error {
	st := s.state
	st.m.Lock()
	defer st.m.Unlock()

	if st.destroyed {
		return ErrSurfaceDestroyed
	}
	if !st.dev.kms.Active() {
		return &SwapBuffersError{Kind: SwapDeviceInactive}
	}
	if st.pending != nil {
		return &SwapBuffersError{Kind: SwapFlipPending}
	}
	if st.needsRecreation.Load() {
		return &SwapBuffersError{Kind: SwapOutdated}
	}

	bo, err := st.chain.LockFrontBuffer()
	if err != nil {
		return &SwapBuffersError{Kind: SwapRejected, Err: &AllocatorError{Op: "lock front buffer", Err: err}}
	}
	next := lockedBuffer{bo: bo, chain: st.chain}

	fb, err := bo.Framebuffer()
	if err != nil {
		next.release()
		return &SwapBuffersError{Kind: SwapRejected, Err: &AllocatorError{Op: "add framebuffer", Err: err}}
	}

	err = st.dev.kms.PageFlip(st.crtc, fb, drm.FlipEvent, uint64(st.crtc))
	if err != nil {
		next.release()
		kind := classifyFlip(err)
		st.dev.opts.metrics.Flip(kind.String())
		return &SwapBuffersError{Kind: kind, Err: err}
	}

	st.pending = &next
	st.dev.opts.metrics.Flip("ok")
	return nil
}

// FlipComplete acknowledges the completion of the pending page flip.
// The flipped buffer becomes the one on screen and the buffer it
// replaced goes back to its swap chain. Device.HandleEvent calls it
// for flip events read from the device.
func (s *Surface) FlipComplete() {
	s.state.flipComplete()
}

func (st *surfaceState) flipComplete() {
	st.m.Lock()
	defer st.m.Unlock()

	if st.pending == nil {
		return
	}
	if (st.current != nil) && (st.current.bo != st.pending.bo) {
		st.current.release()
	}
	st.current = st.pending
	st.pending = nil
}

// FlipPending reports whether a page flip has been scheduled and has
// not yet completed.
func (s *Surface) FlipPending() bool {
	s.state.m.Lock()
	defer s.state.m.Unlock()

	return s.state.pending != nil
}

// restart re-queues the buffer that was on screen when the session
// was paused. A flip still pending at that point will never complete,
// so it is dropped. Nothing is flipped if no flip was ever
// acknowledged.
func (st *surfaceState) restart() (bool, error) {
	st.m.Lock()
	defer st.m.Unlock()

	if st.destroyed {
		return false, nil
	}

	if st.pending != nil {
		if (st.current == nil) || (st.current.bo != st.pending.bo) {
			st.pending.release()
		}
		st.pending = nil
	}
	if st.current == nil {
		return false, nil
	}

	fb, err := st.current.bo.Framebuffer()
	if err != nil {
		return false, err
	}
	err = st.dev.kms.PageFlip(st.crtc, fb, drm.FlipEvent, uint64(st.crtc))
	if err != nil {
		return false, err
	}
	st.pending = st.current
	return true, nil
}

// SetCursor uploads img as the cursor image of the CRTC. A nil img
// hides the cursor. While the session is inactive the image is only
// stored, and it is shown when the session is activated again.
func (s *Surface) SetCursor(img image.Image, hotspot image.Point) error {
	st := s.state
	st.m.Lock()
	defer st.m.Unlock()

	if st.destroyed {
		return ErrSurfaceDestroyed
	}

	var next *Cursor
	if img != nil {
		size := st.dev.opts.cursorSize
		bo, err := st.dev.alloc.CreateBuffer(uint32(size.X), uint32(size.Y), FormatARGB8888, UseCursor|UseWrite)
		if err != nil {
			return &AllocatorError{Op: "create cursor buffer", Err: err}
		}
		err = bo.Write(img)
		if err != nil {
			bo.Destroy()
			return &AllocatorError{Op: "write cursor buffer", Err: err}
		}
		next = &Cursor{Buffer: bo, Hotspot: hotspot}
	}

	if st.dev.kms.Active() {
		_, err := st.applyCursor(next)
		if err != nil {
			if next != nil {
				next.Buffer.Destroy()
			}
			return fmt.Errorf("set cursor on crtc %v: %w", st.crtc, err)
		}
	}

	old := st.cursor.Swap(next)
	if old != nil {
		old.Buffer.Destroy()
	}
	return nil
}

// MoveCursor moves the cursor's hotspot to p, relative to the CRTC's
// top-left corner.
func (s *Surface) MoveCursor(p image.Point) error {
	if s.state.isDestroyed() {
		return ErrSurfaceDestroyed
	}
	return s.state.dev.kms.MoveCursor(s.state.crtc, p)
}

// Cursor returns the current cursor, or nil if none is set.
func (s *Surface) Cursor() *Cursor {
	return s.state.cursor.Load()
}

// CursorPath is the call that installed a cursor.
type CursorPath int

const (
	CursorNone CursorPath = iota
	CursorWithHotspot
	CursorLegacy
)

func (p CursorPath) String() string {
	switch p {
	case CursorNone:
		return "none"
	case CursorWithHotspot:
		return "cursor2"
	case CursorLegacy:
		return "cursor"
	default:
		return fmt.Sprintf("CursorPath(%d)", int(p))
	}
}

// applyCursor installs c, preferring the call that carries the
// hotspot and falling back to the legacy one once if the device
// refuses it. A nil c hides the cursor.
func (st *surfaceState) applyCursor(c *Cursor) (CursorPath, error) {
	kms := st.dev.kms
	if c == nil {
		return CursorLegacy, kms.SetCursor(st.crtc, 0, 0, 0)
	}

	w, h := c.Buffer.Size()
	err2 := kms.SetCursor2(st.crtc, c.Buffer.Handle(), w, h, c.Hotspot)
	if err2 == nil {
		return CursorWithHotspot, nil
	}

	err := kms.SetCursor(st.crtc, c.Buffer.Handle(), w, h)
	if err != nil {
		return CursorNone, errors.Join(err2, err)
	}
	return CursorLegacy, nil
}

func (st *surfaceState) restoreCursor() (CursorPath, error) {
	if st.isDestroyed() {
		return CursorNone, nil
	}

	c := st.cursor.Load()
	if c == nil {
		return CursorNone, nil
	}
	return st.applyCursor(c)
}

func (st *surfaceState) isDestroyed() bool {
	st.m.Lock()
	defer st.m.Unlock()

	return st.destroyed
}

// Destroy frees the surface and its buffers. Its CRTC stays in the
// device's registry until the next session activation purges it, but
// a new surface may be created for the CRTC immediately. Destroying a
// surface more than once is a no-op.
func (s *Surface) Destroy() {
	st := s.state
	st.m.Lock()
	if st.destroyed {
		st.m.Unlock()
		return
	}
	st.destroyed = true

	if st.pending != nil {
		st.pending.release()
		if (st.current != nil) && (st.current.bo == st.pending.bo) {
			st.current = nil
		}
		st.pending = nil
	}
	if st.current != nil {
		st.current.release()
		st.current = nil
	}
	st.chain.Destroy()
	if c := st.cursor.Swap(nil); c != nil {
		if st.dev.kms.Active() {
			if _, err := st.applyCursor(nil); err != nil {
				st.dev.opts.log.Warn("hide cursor", "crtc", st.crtc, "err", err)
			}
		}
		c.Buffer.Destroy()
	}
	st.m.Unlock()

	st.dev.unregister(s.handle)
	st.dev.opts.metrics.SurfaceRemoved()
	st.dev.opts.log.Debug("surface destroyed", "crtc", st.crtc)
	st.dev.unref()
}
