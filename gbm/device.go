package gbm

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/egl"
	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/metrics"
	"deedles.dev/kms/internal/objstore"
	"deedles.dev/kms/session"
	"golang.org/x/exp/maps"
)

const (
	defaultCursorSize = 64
	defaultBuffers    = 2
)

type options struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	degrade    DegradeFunc
	format     Format
	cursorSize image.Point
	buffers    int
}

func newOptions(opts []Option) options {
	o := options{
		format:     FormatXRGB8888,
		cursorSize: image.Pt(defaultCursorSize, defaultCursorSize),
		buffers:    defaultBuffers,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = debug.Or(o.log)
	if o.degrade == nil {
		o.degrade = LogDegradations(o.log)
	}
	return o
}

// Option configures a Device.
type Option func(*options)

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDegradeFunc sets the handler for failures that are absorbed
// instead of returned. The default logs them.
func WithDegradeFunc(f DegradeFunc) Option {
	return func(o *options) { o.degrade = f }
}

// WithFormat sets the pixel format of swap chains. The default is
// XRGB8888.
func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// WithCursorSize sets the size of cursor buffers, which should match
// the device's CapCursorWidth and CapCursorHeight. The default is
// 64×64.
func WithCursorSize(w, h int) Option {
	return func(o *options) { o.cursorSize = image.Pt(w, h) }
}

// WithBuffers sets the number of buffers in each swap chain created
// by the allocator that Open sets up. The default is 2. It has no
// effect on NewDevice.
func WithBuffers(n int) Option {
	return func(o *options) { o.buffers = n }
}

// Device is a KMS device paired with a buffer allocator. Surfaces hold
// a reference to the Device, so it stays alive until the caller has
// closed it and every surface has been destroyed.
type Device struct {
	kms   KMS
	alloc Allocator
	opts  options

	refs     atomic.Int32
	closed   atomic.Bool
	released atomic.Bool
	close    sync.Once

	m        sync.Mutex
	surfaces map[drm.CRTC]objstore.Handle
	states   *objstore.Store[*surfaceState]
}

// NewDevice creates a Device. It takes ownership of one reference to
// kms and of alloc.
func NewDevice(kms KMS, alloc Allocator, opts ...Option) *Device {
	dev := Device{
		kms:      kms,
		alloc:    alloc,
		opts:     newOptions(opts),
		surfaces: make(map[drm.CRTC]objstore.Handle),
		states:   objstore.New[*surfaceState](),
	}
	dev.refs.Store(1)
	return &dev
}

// Open creates a Device on dev using dumb buffers. dev stays owned by
// the caller.
func Open(dev *drm.Device, opts ...Option) *Device {
	o := newOptions(opts)
	return NewDevice(dev.Ref(), NewDumbAllocator(dev, o.buffers, o.log), opts...)
}

func (dev *Device) ref() {
	dev.refs.Add(1)
}

func (dev *Device) unref() {
	if dev.refs.Add(-1) != 0 {
		return
	}

	dev.closed.Store(true)
	dev.alloc.Destroy()
	if err := dev.kms.Close(); err != nil {
		dev.opts.log.Warn("close kms device", "err", err)
	}
}

// Close releases the caller's reference. No new surfaces can be
// created afterwards. The allocator and the KMS device are released
// once every surface has been destroyed as well.
func (dev *Device) Close() error {
	dev.close.Do(func() {
		dev.released.Store(true)
		dev.unref()
	})
	return nil
}

// IsBackend is always true. It exists to satisfy egl.NativeDisplay.
func (dev *Device) IsBackend() bool {
	return true
}

// Ptr returns the allocator's device pointer, for obtaining an EGL
// display. It fails with ErrNoNativeDisplay for allocators, such as
// the dumb allocator, that EGL cannot render with.
func (dev *Device) Ptr() (egl.NativeDisplayType, error) {
	if dev.closed.Load() {
		return 0, ErrDeviceClosed
	}

	ptr := dev.alloc.Ptr()
	if ptr == 0 {
		return 0, ErrNoNativeDisplay
	}
	return ptr, nil
}

// Display obtains an EGL display for the device.
func (dev *Device) Display(fns *egl.Functions) (egl.Display, error) {
	return egl.Open[drm.CRTC, *Surface](dev, GetDisplay, fns, dev.opts.log)
}

// CreateSurface creates a surface for crtc, sized to its current mode.
// It fails with a *SurfaceExistsError if crtc is already driven by a
// surface that has not been destroyed.
func (dev *Device) CreateSurface(crtc drm.CRTC) (*Surface, error) {
	if dev.released.Load() {
		return nil, ErrDeviceClosed
	}

	dev.m.Lock()
	defer dev.m.Unlock()

	if h, ok := dev.surfaces[crtc]; ok && dev.states.Live(h) {
		return nil, &SurfaceExistsError{CRTC: crtc}
	}

	chain, err := dev.createChain(crtc)
	if err != nil {
		return nil, err
	}

	state := surfaceState{
		dev:   dev,
		crtc:  crtc,
		chain: chain,
	}
	h := dev.states.Add(&state)
	dev.surfaces[crtc] = h
	dev.ref()
	dev.opts.metrics.SurfaceAdded()

	w, height := chain.Size()
	dev.opts.log.Debug("surface created", "crtc", crtc, "width", w, "height", height, "format", dev.opts.format)
	return &Surface{state: &state, handle: h}, nil
}

func (dev *Device) createChain(crtc drm.CRTC) (Chain, error) {
	info, err := dev.kms.Crtc(crtc)
	if err != nil {
		return nil, fmt.Errorf("query crtc %v: %w", crtc, err)
	}
	if !info.ModeValid {
		return nil, fmt.Errorf("crtc %v: %w", crtc, ErrNoMode)
	}

	w, h := info.Mode.Size()
	chain, err := dev.alloc.CreateSurface(w, h, dev.opts.format, UseScanout|UseRendering)
	if err != nil {
		return nil, &AllocatorError{Op: "create swap chain", Err: err}
	}
	return chain, nil
}

func (dev *Device) unregister(h objstore.Handle) {
	dev.m.Lock()
	defer dev.m.Unlock()

	dev.states.Delete(h)
}

func (dev *Device) lookup(crtc drm.CRTC) (*surfaceState, bool) {
	dev.m.Lock()
	defer dev.m.Unlock()

	h, ok := dev.surfaces[crtc]
	if !ok {
		return nil, false
	}
	return dev.states.Get(h)
}

// Outputs returns the CRTCs in the surface registry in ascending
// order, including entries whose surface has been destroyed but not
// yet purged.
func (dev *Device) Outputs() []drm.CRTC {
	dev.m.Lock()
	defer dev.m.Unlock()

	crtcs := make([]drm.CRTC, 0, len(dev.surfaces))
	for crtc := range dev.surfaces {
		crtcs = append(crtcs, crtc)
	}
	slices.Sort(crtcs)
	return crtcs
}

// HandleEvent passes a page flip completion to the surface that
// requested it. Other events are ignored.
func (dev *Device) HandleEvent(ev drm.Event) {
	if ev.Type != drm.EventFlipComplete {
		return
	}

	crtc := drm.CRTC(ev.UserData)
	state, ok := dev.lookup(crtc)
	if !ok {
		dev.opts.log.Debug("flip completed for unknown surface", "crtc", crtc)
		return
	}
	state.flipComplete()
}

// Observer wraps the device-access layer's observer so that surfaces
// are restored after the session is activated.
func (dev *Device) Observer(inner session.Observer) *Observer {
	return &Observer{
		inner: inner,
		dev:   dev,
	}
}

// resume restarts every live surface and purges registry entries of
// destroyed ones.
func (dev *Device) resume() ResumeReport {
	report := ResumeReport{Cursors: make(map[drm.CRTC]CursorPath)}
	if dev.closed.Load() {
		return report
	}

	dev.m.Lock()
	entries := maps.Clone(dev.surfaces)
	dev.m.Unlock()

	crtcs := make([]drm.CRTC, 0, len(entries))
	for crtc := range entries {
		crtcs = append(crtcs, crtc)
	}
	slices.Sort(crtcs)

	var dead []drm.CRTC
	for _, crtc := range crtcs {
		dev.m.Lock()
		state, ok := dev.states.Get(entries[crtc])
		dev.m.Unlock()
		if !ok {
			dead = append(dead, crtc)
			continue
		}

		restarted, err := state.restart()
		switch {
		case err != nil:
			dev.opts.metrics.FlipRestart("failed")
			report.degrade(dev, Degradation{CRTC: crtc, Op: OpRestart, Err: err})
		case restarted:
			dev.opts.metrics.FlipRestart("ok")
			report.Restarted = append(report.Restarted, crtc)
		}

		path, err := state.restoreCursor()
		if err != nil {
			report.degrade(dev, Degradation{CRTC: crtc, Op: OpCursor, Err: err})
			continue
		}
		if path != CursorNone {
			dev.opts.metrics.CursorRestore(path.String())
			report.Cursors[crtc] = path
		}
	}

	dev.m.Lock()
	defer dev.m.Unlock()
	for _, crtc := range dead {
		h, ok := dev.surfaces[crtc]
		if !ok || (h != entries[crtc]) || dev.states.Live(h) {
			continue
		}
		delete(dev.surfaces, crtc)
		report.Purged = append(report.Purged, crtc)
	}
	dev.opts.metrics.Purged(len(report.Purged))
	dev.opts.log.Log(context.Background(), debug.LevelTrace, "resume processed",
		"restarted", len(report.Restarted),
		"purged", len(report.Purged),
		"degraded", len(report.Degraded),
	)

	return report
}
