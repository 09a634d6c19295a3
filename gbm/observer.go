package gbm

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"deedles.dev/kms/drm"
	"deedles.dev/kms/session"
)

// Operations that can degrade without failing the caller.
const (
	OpRecreate = "recreate"
	OpRestart  = "restart"
	OpCursor   = "cursor"
)

// Degradation is a failure that left a single output in a degraded
// state, such as a frozen picture or a missing cursor, without
// stopping the operation that ran into it.
type Degradation struct {
	CRTC drm.CRTC
	Op   string
	Err  error
}

func (d Degradation) Error() string {
	return fmt.Sprintf("gbm: %v on crtc %v: %v", d.Op, d.CRTC, d.Err)
}

func (d Degradation) Unwrap() error {
	return d.Err
}

// DegradeFunc handles degradations. It is called synchronously from
// the operation that degraded.
type DegradeFunc func(Degradation)

// LogDegradations returns a DegradeFunc that logs to log. Failed
// restarts only freeze the output until the next frame, so they are
// warnings. Everything else is an error.
func LogDegradations(log *slog.Logger) DegradeFunc {
	return func(d Degradation) {
		switch d.Op {
		case OpRestart:
			log.Warn("failed to restart rendering loop", "crtc", d.CRTC, "err", d.Err)
		case OpCursor:
			log.Error("failed to reset cursor", "crtc", d.CRTC, "err", d.Err)
		default:
			log.Error("surface degraded", "crtc", d.CRTC, "op", d.Op, "err", d.Err)
		}
	}
}

// ResumeReport describes what happened when the session was last
// activated.
type ResumeReport struct {
	// Restarted lists the CRTCs whose on-screen buffer was flipped
	// again.
	Restarted []drm.CRTC

	// Cursors holds the call that restored the cursor of each CRTC
	// that had one.
	Cursors map[drm.CRTC]CursorPath

	// Purged lists registry entries of destroyed surfaces that were
	// removed.
	Purged []drm.CRTC

	Degraded []Degradation
}

func (r *ResumeReport) degrade(dev *Device, d Degradation) {
	r.Degraded = append(r.Degraded, d)
	dev.opts.degrade(d)
}

// Observer is a session.Observer that keeps a Device's outputs alive
// across session switches. When the session is activated it restarts
// the page flip loop of every surface, reinstalls cursors, and purges
// the registry entries of destroyed surfaces.
//
// Pause and Activate must be called from the goroutine that delivers
// session notifications and never concurrently with each other.
type Observer struct {
	inner session.Observer
	dev   *Device
	last  atomic.Pointer[ResumeReport]
}

func (obs *Observer) Pause(dev *session.DeviceID) {
	obs.inner.Pause(dev)
}

func (obs *Observer) Activate(dev *session.DeviceID, fd int) {
	obs.inner.Activate(dev, fd)

	report := obs.dev.resume()
	obs.last.Store(&report)
}

// LastResume returns the report of the most recent activation. It
// returns the zero report if the session has not been activated.
func (obs *Observer) LastResume() ResumeReport {
	r := obs.last.Load()
	if r == nil {
		return ResumeReport{}
	}
	return *r
}
