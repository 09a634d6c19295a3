package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"unsafe"

	"deedles.dev/kms/internal/debug"
	"deedles.dev/kms/internal/ioctl"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// From linux/kd.h and linux/vt.h.
const (
	kdSetMode   = 0x4b3a
	kdGetKbMode = 0x4b44
	kdSetKbMode = 0x4b45
	vtGetMode   = 0x5601
	vtSetMode   = 0x5602
	vtRelDisp   = 0x5605

	kdText     = 0x00
	kdGraphics = 0x01
	kOff       = 0x04

	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 0x02
)

type vtMode struct {
	mode   int8
	waitv  int8
	relsig int16
	acqsig int16
	frsig  int16
}

// ErrNotTerminal is returned by OpenVT if the path is not a tty.
var ErrNotTerminal = errors.New("session: not a terminal")

// VT is a session authority backed directly by a Linux virtual
// terminal. The kernel asks for the display with SIGUSR1 and gives it
// back with SIGUSR2; each becomes a Notification on the channel
// returned by Notifications. The receiver delivers the notification to
// its observers and then calls Ack.
type VT struct {
	tty    *os.File
	fd     int
	state  *term.State
	kbmode int
	log    *slog.Logger

	signals chan os.Signal
	notify  chan Notification
	done    chan struct{}
	close   sync.Once
}

// OpenVT takes over the virtual terminal at path, switching it into
// graphics mode and process-controlled switching.
func OpenVT(path string, log *slog.Logger) (vt *VT, err error) {
	tty, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open tty: %w", err)
	}

	vt = &VT{
		tty:     tty,
		fd:      int(tty.Fd()),
		log:     debug.Or(log),
		signals: make(chan os.Signal, 4),
		notify:  make(chan Notification),
		done:    make(chan struct{}),
	}
	defer func() {
		if err != nil {
			vt.restore()
			tty.Close()
		}
	}()

	if !term.IsTerminal(vt.fd) {
		return nil, fmt.Errorf("%q: %w", path, ErrNotTerminal)
	}

	vt.kbmode, err = unix.IoctlGetInt(vt.fd, kdGetKbMode)
	if err != nil {
		return nil, fmt.Errorf("get keyboard mode: %w", err)
	}

	vt.state, err = term.MakeRaw(vt.fd)
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	err = ioctl.Int(vt.fd, kdSetKbMode, kOff)
	if err != nil {
		return nil, fmt.Errorf("disable keyboard: %w", err)
	}
	err = ioctl.Int(vt.fd, kdSetMode, kdGraphics)
	if err != nil {
		return nil, fmt.Errorf("graphics mode: %w", err)
	}

	signal.Notify(vt.signals, unix.SIGUSR1, unix.SIGUSR2)
	mode := vtMode{
		mode:   vtProcess,
		relsig: int16(unix.SIGUSR1),
		acqsig: int16(unix.SIGUSR2),
	}
	err = ioctl.Do(vt.fd, vtSetMode, unsafe.Pointer(&mode))
	if err != nil {
		signal.Stop(vt.signals)
		return nil, fmt.Errorf("set vt mode: %w", err)
	}

	go vt.listen()
	return vt, nil
}

func (vt *VT) listen() {
	for {
		var sig os.Signal
		select {
		case <-vt.done:
			return
		case sig = <-vt.signals:
		}

		n := Notification{Kind: Activate, FD: NoFD}
		if sig == unix.SIGUSR1 {
			n.Kind = Pause
		}
		vt.log.Debug("vt switch requested", "kind", n.Kind)

		select {
		case <-vt.done:
			return
		case vt.notify <- n:
		}
	}
}

// Notifications returns the channel session events arrive on.
func (vt *VT) Notifications() <-chan Notification {
	return vt.notify
}

// Ack tells the kernel that n has been handled: a pause releases the
// display, an activation acknowledges its acquisition.
func (vt *VT) Ack(n Notification) error {
	arg := uintptr(vtAckAcq)
	if n.Kind == Pause {
		arg = 1
	}
	err := ioctl.Int(vt.fd, vtRelDisp, arg)
	if err != nil {
		return fmt.Errorf("release display: %w", err)
	}
	return nil
}

func (vt *VT) restore() {
	mode := vtMode{mode: vtAuto}
	if err := ioctl.Do(vt.fd, vtSetMode, unsafe.Pointer(&mode)); err != nil {
		vt.log.Warn("restore vt mode", "err", err)
	}
	if err := ioctl.Int(vt.fd, kdSetMode, kdText); err != nil {
		vt.log.Warn("restore text mode", "err", err)
	}
	if err := ioctl.Int(vt.fd, kdSetKbMode, uintptr(vt.kbmode)); err != nil {
		vt.log.Warn("restore keyboard mode", "err", err)
	}
	if vt.state != nil {
		if err := term.Restore(vt.fd, vt.state); err != nil {
			vt.log.Warn("restore terminal", "err", err)
		}
	}
}

// Close hands the terminal back to the kernel in text mode.
func (vt *VT) Close() error {
	vt.close.Do(func() {
		close(vt.done)
		signal.Stop(vt.signals)
		vt.restore()
	})
	return vt.tty.Close()
}
