// Package session models the loss and reacquisition of exclusive
// device access, such as a virtual terminal switch.
package session

import (
	"fmt"
	"sync"
)

// NoFD is passed to Observer.Activate when the session authority did
// not hand over a new file descriptor.
const NoFD = -1

// DeviceID identifies a character device by its major and minor
// numbers.
type DeviceID struct {
	Major, Minor uint32
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%d:%d", id.Major, id.Minor)
}

// Matches reports whether a notification about other concerns id. A
// nil other concerns every device.
func (id DeviceID) Matches(other *DeviceID) bool {
	return (other == nil) || (*other == id)
}

// Observer is notified when the session is paused and activated.
// Observers are called synchronously from the goroutine that delivers
// session notifications and must not call back into the Signaler.
type Observer interface {
	Pause(dev *DeviceID)
	Activate(dev *DeviceID, fd int)
}

// Kind discriminates a Notification.
type Kind int

const (
	Pause Kind = iota
	Activate
)

func (k Kind) String() string {
	switch k {
	case Pause:
		return "pause"
	case Activate:
		return "activate"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Notification is a single session event. FD is only meaningful for
// Activate and is NoFD when absent.
type Notification struct {
	Kind   Kind
	Device *DeviceID
	FD     int
}

// Deliver calls the matching method of obs.
func (n Notification) Deliver(obs Observer) {
	switch n.Kind {
	case Pause:
		obs.Pause(n.Device)
	case Activate:
		obs.Activate(n.Device, n.FD)
	}
}

// Signaler fans notifications out to registered observers in
// registration order.
type Signaler struct {
	m         sync.Mutex
	observers []Observer
	active    bool
}

func NewSignaler() *Signaler {
	return &Signaler{active: true}
}

// Register adds obs. Observers are never removed; a device that goes
// away keeps its observer, which then has nothing left to restore.
func (s *Signaler) Register(obs Observer) {
	s.m.Lock()
	defer s.m.Unlock()

	s.observers = append(s.observers, obs)
}

// Signal delivers n to every observer before returning.
func (s *Signaler) Signal(n Notification) {
	s.m.Lock()
	observers := s.observers
	s.active = n.Kind == Activate
	s.m.Unlock()

	for _, obs := range observers {
		n.Deliver(obs)
	}
}

// Active reports whether the last notification was an activation.
func (s *Signaler) Active() bool {
	s.m.Lock()
	defer s.m.Unlock()

	return s.active
}
