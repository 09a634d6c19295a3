package gbm

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/set"
	"deedles.dev/kms/shm"
	"deedles.dev/ximage"
	xdraw "golang.org/x/image/draw"
)

// dumbDevice is the part of *drm.Device used by the dumb allocator.
type dumbDevice interface {
	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)
	MapDumb(buf *drm.DumbBuffer) (shm.Mmap, error)
	DestroyDumb(buf *drm.DumbBuffer) error
	AddFB(width, height uint32, depth, bpp uint8, pitch uint32, bo drm.BufferHandle) (drm.Framebuffer, error)
	RmFB(fb drm.Framebuffer) error
	Close() error
}

// DumbAllocator allocates CPU-drawn dumb buffers. Every KMS driver
// supports them, but they cannot be rendered to by EGL, so the
// pointers it hands out are always zero.
type DumbAllocator struct {
	dev     dumbDevice
	buffers int
	log     *slog.Logger
}

// NewDumbAllocator returns an allocator whose swap chains hold up to
// buffers buffers each. It holds its own reference to dev.
func NewDumbAllocator(dev *drm.Device, buffers int, log *slog.Logger) *DumbAllocator {
	return newDumbAllocator(dev.Ref(), buffers, log)
}

func newDumbAllocator(dev dumbDevice, buffers int, log *slog.Logger) *DumbAllocator {
	return &DumbAllocator{
		dev:     dev,
		buffers: max(buffers, 1),
		log:     debug.Or(log),
	}
}

func (a *DumbAllocator) Ptr() egl.NativeDisplayType {
	return 0
}

func (a *DumbAllocator) CreateSurface(width, height uint32, format Format, usage Usage) (Chain, error) {
	if (width == 0) || (height == 0) {
		return nil, fmt.Errorf("create %vx%v chain: %w", width, height, ErrNoMode)
	}
	if _, err := formatDepth(format); err != nil {
		return nil, err
	}

	return &DumbChain{
		alloc:  a,
		width:  width,
		height: height,
		format: format,
		locked: set.New[*DumbBuffer](),
	}, nil
}

func (a *DumbAllocator) CreateBuffer(width, height uint32, format Format, usage Usage) (BufferObject, error) {
	buf, err := a.createBuffer(width, height, format)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *DumbAllocator) createBuffer(width, height uint32, format Format) (*DumbBuffer, error) {
	if _, err := formatDepth(format); err != nil {
		return nil, err
	}

	raw, err := a.dev.CreateDumb(width, height, 32)
	if err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}
	buf := DumbBuffer{
		dev:    a.dev,
		log:    a.log,
		raw:    raw,
		format: format,
	}

	mmap, err := a.dev.MapDumb(raw)
	if err != nil {
		buf.Destroy()
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}
	buf.mmap = mmap

	a.log.Debug("dumb buffer created", "handle", raw.Handle, "width", width, "height", height, "pitch", raw.Pitch)
	return &buf, nil
}

// Destroy releases the allocator's reference to the device.
func (a *DumbAllocator) Destroy() {
	if err := a.dev.Close(); err != nil {
		a.log.Warn("close dumb allocator device", "err", err)
	}
}

func formatDepth(format Format) (uint8, error) {
	switch format {
	case FormatXRGB8888:
		return 24, nil
	case FormatARGB8888:
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

// DumbChain is a swap chain of dumb buffers. Frames are drawn into the
// image returned by BackBuffer, then presented by locking the front
// buffer.
type DumbChain struct {
	alloc         *DumbAllocator
	width, height uint32
	format        Format

	m         sync.Mutex
	all       []*DumbBuffer
	free      []*DumbBuffer
	back      *DumbBuffer
	locked    set.Set[*DumbBuffer]
	destroyed bool
}

func (c *DumbChain) Ptr() egl.NativeWindowType {
	return 0
}

func (c *DumbChain) Size() (width, height uint32) {
	return c.width, c.height
}

// BackBuffer returns the image to draw the next frame into. Repeated
// calls before the frame is presented return the same buffer. It fails
// with ErrNoFreeBuffers if every buffer is locked.
func (c *DumbChain) BackBuffer() (draw.Image, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.destroyed {
		return nil, ErrSurfaceDestroyed
	}
	if c.back != nil {
		return c.back.Image(), nil
	}

	if len(c.free) > 0 {
		c.back = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		return c.back.Image(), nil
	}

	if len(c.all) >= c.alloc.buffers {
		return nil, ErrNoFreeBuffers
	}
	buf, err := c.alloc.createBuffer(c.width, c.height, c.format)
	if err != nil {
		return nil, err
	}
	c.all = append(c.all, buf)
	c.back = buf
	return buf.Image(), nil
}

func (c *DumbChain) LockFrontBuffer() (BufferObject, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.back == nil {
		return nil, ErrNothingRendered
	}
	buf := c.back
	c.back = nil
	c.locked.Add(buf)
	return buf, nil
}

func (c *DumbChain) ReleaseBuffer(bo BufferObject) {
	buf, ok := bo.(*DumbBuffer)
	if !ok {
		return
	}

	c.m.Lock()
	defer c.m.Unlock()

	if !c.locked.Has(buf) {
		return
	}
	c.locked.Delete(buf)

	if c.destroyed {
		buf.Destroy()
		return
	}
	c.free = append(c.free, buf)
}

// Destroy frees every buffer that is not locked. Locked buffers are
// freed when they are released.
func (c *DumbChain) Destroy() {
	c.m.Lock()
	defer c.m.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true

	for _, buf := range c.all {
		if !c.locked.Has(buf) {
			buf.Destroy()
		}
	}
	c.all = nil
	c.free = nil
	c.back = nil
}

// DumbBuffer is a mapped dumb buffer.
type DumbBuffer struct {
	dev    dumbDevice
	log    *slog.Logger
	raw    *drm.DumbBuffer
	format Format
	mmap   shm.Mmap
	fb     drm.Framebuffer
	freed  bool
}

func (b *DumbBuffer) Handle() drm.BufferHandle {
	return b.raw.Handle
}

func (b *DumbBuffer) Size() (width, height uint32) {
	return b.raw.Width, b.raw.Height
}

// Image returns the buffer's memory as an image. Its width is the
// buffer's pitch in pixels, which may exceed the buffer's width.
func (b *DumbBuffer) Image() draw.Image {
	return &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rect(0, 0, int(b.raw.Pitch/4), int(b.raw.Height)),
		Pix:    b.mmap,
	}
}

func (b *DumbBuffer) Write(img image.Image) error {
	if b.mmap == nil {
		return errors.New("dumb buffer is not mapped")
	}

	clear(b.mmap)
	dst := b.Image()
	r := img.Bounds()
	xdraw.Copy(dst, image.Point{}, img, r, xdraw.Src, nil)
	return nil
}

func (b *DumbBuffer) Framebuffer() (drm.Framebuffer, error) {
	if b.fb != 0 {
		return b.fb, nil
	}

	depth, err := formatDepth(b.format)
	if err != nil {
		return 0, err
	}
	fb, err := b.dev.AddFB(b.raw.Width, b.raw.Height, depth, 32, b.raw.Pitch, b.raw.Handle)
	if err != nil {
		return 0, err
	}
	b.fb = fb
	return fb, nil
}

func (b *DumbBuffer) Destroy() {
	if b.freed {
		return
	}
	b.freed = true

	if b.fb != 0 {
		if err := b.dev.RmFB(b.fb); err != nil {
			b.log.Warn("remove framebuffer", "fb", b.fb, "err", err)
		}
		b.fb = 0
	}
	if b.mmap != nil {
		if err := b.mmap.Unmap(); err != nil {
			b.log.Warn("unmap dumb buffer", "handle", b.raw.Handle, "err", err)
		}
		b.mmap = nil
	}
	if err := b.dev.DestroyDumb(b.raw); err != nil {
		b.log.Warn("destroy dumb buffer", "handle", b.raw.Handle, "err", err)
	}
}

var (
	_ Allocator    = (*DumbAllocator)(nil)
	_ Chain        = (*DumbChain)(nil)
	_ BufferObject = (*DumbBuffer)(nil)
	_ dumbDevice   = (*drm.Device)(nil)
)
