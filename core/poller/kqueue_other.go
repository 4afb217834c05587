//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is a kqueue-based I/O multiplexer. Read and write
// interest are tracked as separate filters so Modify can add or drop
// either independently, normalized to edge-triggered (EV_CLEAR) with
// explicit re-arm on every Modify call.
type kqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// New creates the platform Poller.
func New() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, MinBatch),
	}, nil
}

func (p *kqueuePoller) changeList(fd int, interest Interest, add bool) []unix.Kevent_t {
	var flags uint16
	if add {
		flags = unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR
	} else {
		flags = unix.EV_DELETE
	}

	changes := make([]unix.Kevent_t, 0, 2)
	if interest&InterestRead != 0 || !add {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags,
		})
	}
	if interest&InterestWrite != 0 || !add {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags,
		})
	}
	return changes
}

func (p *kqueuePoller) Register(fd int, interest Interest) error {
	changes := p.changeList(fd, interest, true)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	// Drop both filters then re-add only the interested ones: kqueue
	// has no single "set interest mask" call like epoll_ctl(MOD).
	drop := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(p.kqfd, drop, nil, nil)
	return p.Register(fd, interest)
}

func (p *kqueuePoller) Unregister(fd int) error {
	changes := p.changeList(fd, 0, false)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(timeout time.Duration, max int) ([]Event, error) {
	if max > len(p.events) {
		max = len(p.events)
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events[:max], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, Event{
			FD:       int(e.Ident),
			Readable: e.Filter == unix.EVFILT_READ,
			Writable: e.Filter == unix.EVFILT_WRITE,
			Error:    e.Flags&unix.EV_ERROR != 0,
		})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
