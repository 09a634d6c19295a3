package drm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"deedles.dev/kms/internal/bin"
	"golang.org/x/sys/unix"
)

// EventType is the type of an event read from the device.
type EventType uint32

const (
	EventVBlank       EventType = 0x01
	EventFlipComplete EventType = 0x02
)

func (t EventType) String() string {
	switch t {
	case EventVBlank:
		return "vblank"
	case EventFlipComplete:
		return "flip complete"
	default:
		return fmt.Sprintf("EventType(%#x)", uint32(t))
	}
}

const (
	eventHeaderLen = 8
	vblankEventLen = eventHeaderLen + 24
	eventBufLen    = 4096
)

// ErrShortEvent is returned when a device read ends in the middle of
// an event.
var ErrShortEvent = errors.New("drm: truncated event")

// Event is a vblank or page flip completion. For a flip, UserData is
// the value passed to PageFlip and CRTC is the pipeline that flipped;
// kernels older than 4.12 leave CRTC zero.
type Event struct {
	Type     EventType
	UserData uint64
	Time     time.Duration
	Sequence uint32
	CRTC     CRTC
}

// ParseEvents decodes the events in buf. Unknown event types are
// skipped.
func ParseEvents(buf []byte) ([]Event, error) {
	var events []Event
	for len(buf) > 0 {
		if len(buf) < eventHeaderLen {
			return events, ErrShortEvent
		}
		typ := EventType(bin.Uint32(buf[0:]))
		length := int(bin.Uint32(buf[4:]))
		if (length < eventHeaderLen) || (length > len(buf)) {
			return events, ErrShortEvent
		}

		switch typ {
		case EventVBlank, EventFlipComplete:
			if length < vblankEventLen {
				return events, ErrShortEvent
			}
			sec := bin.Uint32(buf[16:])
			usec := bin.Uint32(buf[20:])
			events = append(events, Event{
				Type:     typ,
				UserData: bin.Uint64(buf[8:]),
				Time:     time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond,
				Sequence: bin.Uint32(buf[24:]),
				CRTC:     CRTC(bin.Uint32(buf[28:])),
			})
		}

		buf = buf[length:]
	}
	return events, nil
}

// ReadEvents performs a single read from r and decodes it. The kernel
// never splits an event across reads, so one read of a page-sized
// buffer is enough.
func ReadEvents(r io.Reader) ([]Event, error) {
	buf := make([]byte, eventBufLen)
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	return ParseEvents(buf[:n])
}

// ReadEvents reads pending events from the device. It blocks if none
// are pending; poll the descriptor first to avoid that.
func (dev *Device) ReadEvents() ([]Event, error) {
	return ReadEvents(fdReader(dev.fd))
}

type fdReader int

func (fd fdReader) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(fd), buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, &IoctlError{Op: "read events", Err: err}
		}
		return n, nil
	}
}
