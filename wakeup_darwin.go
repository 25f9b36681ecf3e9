//go:build darwin

package reactorcore

import "golang.org/x/sys/unix"

// createWakeFD creates a self-pipe for wake-up notifications (Darwin has no
// eventfd equivalent exposed by the kqueue family).
func createWakeFD() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return fds[0], fds[1], nil
}

// writeWake writes a single byte to the pipe.
func writeWake(writeFD int) error {
	_, err := unix.Write(writeFD, []byte{1})
	return err
}

// drainWake drains all pending bytes from the pipe.
func drainWake(readFD int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}

// closeWakeFD closes both ends of the self-pipe.
func closeWakeFD(readFD, writeFD int) {
	_ = unix.Close(readFD)
	if writeFD != readFD {
		_ = unix.Close(writeFD)
	}
}
