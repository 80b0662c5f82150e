//go:build linux

package strand

import (
	"time"

	"golang.org/x/sys/unix"
)

type pollEvent struct {
	fd    int
	ready Interest
}

// poller multiplexes descriptor readiness through epoll. An eventfd is
// registered permanently so other goroutines can interrupt the wait.
type poller struct {
	epfd   int
	wakefd int
	buf    [128]unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &poller{epfd: epfd, wakefd: wakefd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// wake interrupts a wait in progress. Safe from any goroutine; the eventfd
// write coalesces repeated wakes.
func (p *poller) wake() {
	one := [8]byte{0: 1} // eventfd counter increment, host byte order
	unix.Write(p.wakefd, one[:])
}

func (p *poller) arm(fd int, interest Interest) error {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return err
}

func (p *poller) disarm(fd int) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) wait(timeout time.Duration) ([]pollEvent, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, p.buf[:], ms)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events := make([]pollEvent, 0, n)
	for _, e := range p.buf[:n] {
		if int(e.Fd) == p.wakefd {
			var drain [8]byte
			unix.Read(p.wakefd, drain[:])
			continue
		}
		var ready Interest
		if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= Readable
		}
		if e.Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			// Let the owner's next read or write observe the error.
			ready |= Readable | Writable
		}
		events = append(events, pollEvent{fd: int(e.Fd), ready: ready})
	}
	return events, nil
}

func (p *poller) close() {
	unix.Close(p.wakefd)
	unix.Close(p.epfd)
}
