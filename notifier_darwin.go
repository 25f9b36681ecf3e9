//go:build darwin

package reactorcore

import "golang.org/x/sys/unix"

const kqueueEventBufSize = 256

// kqueueNotifier is the Darwin implementation of notifier, backed by
// kqueue. Read and write interest are independent EVFILT_READ/EVFILT_WRITE
// registrations against the same fd, unlike epoll's single combined
// interest mask, so modifyFD always resets both filters to the wanted set
// rather than trying to diff against the previous one.
type kqueueNotifier struct {
	kq            int
	wakeReadFD    int
	wakeWriteFD   int
	registrations map[int]*Registration
	eventBuf      [kqueueEventBufSize]unix.Kevent_t
}

func newPlatformNotifier() (notifier, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	readFD, writeFD, err := createWakeFD()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	n := &kqueueNotifier{
		kq:            kq,
		wakeReadFD:    readFD,
		wakeWriteFD:   writeFD,
		registrations: make(map[int]*Registration),
	}
	wake := []unix.Kevent_t{{Ident: uint64(readFD), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}}
	if _, err := unix.Kevent(kq, wake, nil, nil); err != nil {
		closeWakeFD(readFD, writeFD)
		_ = unix.Close(kq)
		return nil, err
	}
	return n, nil
}

func (n *kqueueNotifier) addFilters(fd int, ops IOEvents) error {
	var kevents []unix.Kevent_t
	if ops&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if ops&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(n.kq, kevents, nil, nil)
	return err
}

func (n *kqueueNotifier) deleteFilters(fd int) {
	del := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Deleting a filter that was never added returns ENOENT; both legs are
	// attempted unconditionally and any such error is immaterial.
	_, _ = unix.Kevent(n.kq, del, nil, nil)
}

func (n *kqueueNotifier) registerFD(fd int, ops IOEvents, reg *Registration) error {
	if err := n.addFilters(fd, ops); err != nil {
		return err
	}
	n.registrations[fd] = reg
	return nil
}

func (n *kqueueNotifier) modifyFD(fd int, ops IOEvents) error {
	n.deleteFilters(fd)
	return n.addFilters(fd, ops)
}

func (n *kqueueNotifier) cancelFD(fd int) error {
	n.deleteFilters(fd)
	delete(n.registrations, fd)
	return nil
}

func keventToIOEvents(kev *unix.Kevent_t) IOEvents {
	var ops IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		ops |= EventRead
	case unix.EVFILT_WRITE:
		ops |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		ops |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		ops |= EventHangup
	}
	return ops
}

func (n *kqueueNotifier) wait(timeoutNanos int64, ready *keySet) (int, error) {
	ts, hasTimeout := nanosToTimespec(timeoutNanos)
	var tsp *unix.Timespec
	if hasTimeout {
		tsp = &ts
	}
	num, err := unix.Kevent(n.kq, nil, n.eventBuf[:], tsp)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	pending := make(map[int]IOEvents, num)
	for i := 0; i < num; i++ {
		fd := int(n.eventBuf[i].Ident)
		if fd == n.wakeReadFD {
			drainWake(n.wakeReadFD)
			continue
		}
		pending[fd] |= keventToIOEvents(&n.eventBuf[i])
	}
	count := 0
	for fd, ops := range pending {
		reg, ok := n.registrations[fd]
		if !ok {
			continue
		}
		reg.readyOps = ops
		reg.key = ready.add(reg)
		count++
	}
	return count, nil
}

func (n *kqueueNotifier) triggerWakeup() error {
	return writeWake(n.wakeWriteFD)
}

func (n *kqueueNotifier) snapshot() []*Registration {
	regs := make([]*Registration, 0, len(n.registrations))
	for _, r := range n.registrations {
		regs = append(regs, r)
	}
	return regs
}

func (n *kqueueNotifier) close() error {
	closeWakeFD(n.wakeReadFD, n.wakeWriteFD)
	return unix.Close(n.kq)
}

// nanosToTimespec converts a notifier-wait budget to a kevent timeout:
// (zero Timespec, false) means block indefinitely (pass a nil *Timespec),
// otherwise the returned Timespec is ready to use directly, even when it is
// the zero duration (a non-blocking poll).
func nanosToTimespec(timeoutNanos int64) (unix.Timespec, bool) {
	if timeoutNanos < 0 {
		return unix.Timespec{}, false
	}
	return unix.NsecToTimespec(timeoutNanos), true
}
