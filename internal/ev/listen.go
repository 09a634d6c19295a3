package ev

import (
	"context"
	"errors"
	"time"

	"deedles.dev/kms/drm"
	"golang.org/x/sys/unix"
)

const pollInterval = 100 * time.Millisecond

// Source is a device that delivers events through its file
// descriptor. It is implemented by *drm.Device.
type Source interface {
	Fd() int
	ReadEvents() ([]drm.Event, error)
}

// Listen waits for events from src and queues a call to handle for
// each batch of them. Read errors are queued as well, so that they
// surface on the event loop. It returns when ctx is canceled or the
// descriptor is closed.
func Listen(ctx context.Context, src Source, q *Queue, handle func(drm.Event)) error {
	for {
		ready, err := wait(ctx, src.Fd())
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		events, err := src.ReadEvents()
		if err != nil {
			if errors.Is(err, unix.EBADF) {
				return err
			}
			if !enqueue(ctx, q, func() error { return err }) {
				return ctx.Err()
			}
			continue
		}

		ok := enqueue(ctx, q, func() error {
			for _, ev := range events {
				handle(ev)
			}
			return nil
		})
		if !ok {
			return ctx.Err()
		}
	}
}

func enqueue(ctx context.Context, q *Queue, f func() error) bool {
	select {
	case <-ctx.Done():
		return false
	case q.Add() <- f:
		return true
	}
}

func wait(ctx context.Context, fd int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(pollInterval.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, unix.EBADF
	}
	return true, nil
}
