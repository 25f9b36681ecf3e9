//go:build linux

package reactorcore

import "golang.org/x/sys/unix"

const epollEventBufSize = 256

// epollNotifier is the Linux implementation of notifier, backed by epoll.
// The registration table is a plain map: it is mutated and read only by the
// owning loop's goroutine, so it needs no synchronization of its own.
type epollNotifier struct {
	epfd          int
	wakeReadFD    int
	wakeWriteFD   int
	registrations map[int]*Registration
	eventBuf      [epollEventBufSize]unix.EpollEvent
}

func newPlatformNotifier() (notifier, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	readFD, writeFD, err := createWakeFD()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	n := &epollNotifier{
		epfd:          epfd,
		wakeReadFD:    readFD,
		wakeWriteFD:   writeFD,
		registrations: make(map[int]*Registration),
	}
	wakeEv := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(readFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, readFD, wakeEv); err != nil {
		closeWakeFD(readFD, writeFD)
		_ = unix.Close(epfd)
		return nil, err
	}
	return n, nil
}

func ioEventsToEpoll(ops IOEvents) uint32 {
	var e uint32
	if ops&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if ops&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToIOEvents(e uint32) IOEvents {
	var ops IOEvents
	if e&unix.EPOLLIN != 0 {
		ops |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ops |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		ops |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		ops |= EventHangup
	}
	return ops
}

func (n *epollNotifier) registerFD(fd int, ops IOEvents, reg *Registration) error {
	ev := &unix.EpollEvent{Events: ioEventsToEpoll(ops), Fd: int32(fd)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	n.registrations[fd] = reg
	return nil
}

func (n *epollNotifier) modifyFD(fd int, ops IOEvents) error {
	ev := &unix.EpollEvent{Events: ioEventsToEpoll(ops), Fd: int32(fd)}
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (n *epollNotifier) cancelFD(fd int) error {
	delete(n.registrations, fd)
	err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (n *epollNotifier) wait(timeoutNanos int64, ready *keySet) (int, error) {
	timeoutMs := nanosToPollTimeoutMs(timeoutNanos)
	num, err := unix.EpollWait(n.epfd, n.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for i := 0; i < num; i++ {
		fd := int(n.eventBuf[i].Fd)
		if fd == n.wakeReadFD {
			drainWake(n.wakeReadFD)
			continue
		}
		reg, ok := n.registrations[fd]
		if !ok {
			continue
		}
		reg.readyOps = epollToIOEvents(n.eventBuf[i].Events)
		reg.key = ready.add(reg)
		count++
	}
	return count, nil
}

func (n *epollNotifier) triggerWakeup() error {
	return writeWake(n.wakeWriteFD)
}

func (n *epollNotifier) snapshot() []*Registration {
	regs := make([]*Registration, 0, len(n.registrations))
	for _, r := range n.registrations {
		regs = append(regs, r)
	}
	return regs
}

func (n *epollNotifier) close() error {
	closeWakeFD(n.wakeReadFD, n.wakeWriteFD)
	return unix.Close(n.epfd)
}

// nanosToPollTimeoutMs converts a notifier-wait budget to the millisecond
// timeout epoll_wait expects: negative means block indefinitely, 0
// means a non-blocking poll, and any positive duration is rounded up so a
// sub-millisecond deadline never degrades to a busy-spin.
func nanosToPollTimeoutMs(timeoutNanos int64) int {
	if timeoutNanos < 0 {
		return -1
	}
	if timeoutNanos == 0 {
		return 0
	}
	ms := timeoutNanos / 1_000_000
	if timeoutNanos%1_000_000 != 0 {
		ms++
	}
	return int(ms)
}
