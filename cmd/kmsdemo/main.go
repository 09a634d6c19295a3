// Kmsdemo drives every lit output of a DRM device with a slowly
// pulsing solid colour and a cursor from the configured theme. It runs
// on a VT of its own and keeps working across VT switches.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"time"

	"deedles.dev/kms/cursor"
	"deedles.dev/kms/drm"
	"deedles.dev/kms/gbm"
	"deedles.dev/kms/internal/config"
	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/ev"
	"deedles.dev/kms/internal/metrics"
	"deedles.dev/kms/internal/xslices"
	"deedles.dev/kms/session"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sys/unix"
)

const retryInterval = time.Second

type state struct {
	cfg *config.Config
	log *slog.Logger
	bg  color.RGBA

	drm      *drm.Device
	dev      *gbm.Device
	vt       *session.VT
	signaler *session.Signaler
	queue    *ev.Queue

	surfaces []*gbm.Surface
	frame    int
}

func (s *state) init(ctx context.Context) error {
	bg, err := s.cfg.BackgroundColor()
	if err != nil {
		return err
	}
	s.bg = bg

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	if s.cfg.MetricsAddr != "" {
		go s.serveMetrics(ctx, &http.Server{Addr: s.cfg.MetricsAddr, Handler: metrics.Handler(reg)})
	}

	s.vt, err = session.OpenVT(s.cfg.TTY, s.log)
	if err != nil {
		return fmt.Errorf("open vt: %w", err)
	}

	s.drm, err = drm.Open(s.cfg.Device, s.log)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	err = s.drm.SetMaster()
	if err != nil {
		return fmt.Errorf("become drm master: %w", err)
	}

	cw, ch := s.cursorSize()
	s.dev = gbm.Open(
		s.drm,
		gbm.WithLogger(s.log),
		gbm.WithMetrics(m),
		gbm.WithBuffers(s.cfg.Buffers),
		gbm.WithCursorSize(cw, ch),
	)

	s.signaler = session.NewSignaler()
	s.signaler.Register(s.dev.Observer(s.drm.Observer()))

	res, err := s.drm.Resources()
	if err != nil {
		return fmt.Errorf("query resources: %w", err)
	}
	surfaces, errs := xslices.Map(res.CRTCs, s.dev.CreateSurface)
	s.surfaces = surfaces
	errs = xslices.Filter(errs, func(err error) bool { return !errors.Is(err, gbm.ErrNoMode) })
	if len(errs) > 0 {
		return fmt.Errorf("create surfaces: %w", errors.Join(errs...))
	}
	if len(s.surfaces) == 0 {
		return errors.New("no crtc has a mode set")
	}

	s.initCursor(image.Pt(cw, ch))

	s.queue = ev.NewQueue()
	go func() {
		err := ev.Listen(ctx, s.drm, s.queue, s.dev.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("event listener stopped", "err", err)
		}
	}()

	return nil
}

func (s *state) cursorSize() (int, int) {
	size := uint64(s.cfg.CursorSize)
	w, err := s.drm.GetCap(drm.CapCursorWidth)
	if err != nil {
		w = size
	}
	h, err := s.drm.GetCap(drm.CapCursorHeight)
	if err != nil {
		h = size
	}
	return int(w), int(h)
}

func (s *state) initCursor(size image.Point) {
	img, err := cursor.Load(s.cfg.CursorTheme, s.cfg.CursorSize)
	if err != nil {
		s.log.Warn("no cursor", "theme", s.cfg.CursorTheme, "err", err)
		return
	}
	img = img.Fit(size)

	for _, surface := range s.surfaces {
		err := surface.SetCursor(img.Image, img.Hotspot)
		if err != nil {
			s.log.Warn("set cursor", "crtc", surface.CRTC(), "err", err)
			continue
		}

		w, h := surface.Size()
		err = surface.MoveCursor(image.Pt(int(w)/2, int(h)/2).Sub(img.Hotspot))
		if err != nil {
			s.log.Warn("move cursor", "crtc", surface.CRTC(), "err", err)
		}
	}
}

func (s *state) serveMetrics(ctx context.Context, server *http.Server) {
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	s.log.Info("serving metrics", "addr", server.Addr)
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("metrics server", "err", err)
	}
}

func (s *state) stop() {
	for _, surface := range s.surfaces {
		surface.Destroy()
	}
	if s.queue != nil {
		s.queue.Stop()
	}
	if s.dev != nil {
		s.dev.Close()
	}
	if s.drm != nil {
		s.drm.Close()
	}
	if s.vt != nil {
		s.vt.Close()
	}
}

func (s *state) run(ctx context.Context) {
	// Outputs that are not flipping get no events, so retry them
	// periodically.
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	s.present()

	for {
		select {
		case <-ctx.Done():
			return

		case <-retry.C:
			s.present()

		case n := <-s.vt.Notifications():
			s.log.Info("session changed", "kind", n.Kind)
			s.signaler.Signal(n)
			err := s.vt.Ack(n)
			if err != nil {
				s.log.Error("acknowledge vt switch", "err", err)
			}
			if n.Kind == session.Activate {
				s.present()
			}

		case events := <-s.queue.Get():
			err := events.Flush()
			if err != nil {
				s.log.Error("read events", "err", err)
			}
			s.frame++
			s.present()
		}
	}
}

// present starts a new frame on every surface that is not waiting for
// a flip.
func (s *state) present() {
	s.surfaces = slices.DeleteFunc(s.surfaces, func(surface *gbm.Surface) bool {
		if surface.FlipPending() {
			return false
		}
		return !s.presentSurface(surface)
	})
}

func (s *state) presentSurface(surface *gbm.Surface) bool {
	if surface.NeedsRecreation() && !surface.Recreate() {
		return true
	}

	chain, ok := surface.Chain().(*gbm.DumbChain)
	if !ok {
		return true
	}
	img, err := chain.BackBuffer()
	if err != nil {
		s.log.Warn("no back buffer", "crtc", surface.CRTC(), "err", err)
		return true
	}
	xdraw.Draw(img, img.Bounds(), image.NewUniform(s.color()), image.Point{}, xdraw.Src)

	err = surface.SwapBuffers()
	var serr *gbm.SwapBuffersError
	switch {
	case err == nil:
		return true
	case errors.As(err, &serr) && (serr.Kind != gbm.SwapRejected):
		s.log.Debug("swap buffers", "crtc", surface.CRTC(), "err", err)
		return true
	default:
		s.log.Error("output stopped", "crtc", surface.CRTC(), "err", err)
		surface.Destroy()
		return false
	}
}

func (s *state) color() color.RGBA {
	const period = 240

	phase := s.frame % period
	if phase > period/2 {
		phase = period - phase
	}
	scale := func(v uint8) uint8 {
		return uint8(int(v) * (period/2 + phase) / period)
	}
	return color.RGBA{R: scale(s.bg.R), G: scale(s.bg.G), B: scale(s.bg.B), A: 0xff}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	log := slog.New(debug.NewHandler(os.Stderr, debug.ParseLevel(cfg.LogLevel), cfg.LogFormat))
	debug.SetLogger(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	s := state{cfg: cfg, log: log}
	defer s.stop()

	err = s.init(ctx)
	if err != nil {
		log.Error("initialize", "err", err)
		return
	}

	log.Info("running", "device", cfg.Device, "outputs", len(s.surfaces))
	s.run(ctx)
}
