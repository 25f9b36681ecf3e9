//go:build linux

package reactorcore

import (
	"golang.org/x/sys/unix"
)

// createWakeFD creates an eventfd for wake-up notifications (Linux). The
// same fd serves as both the read and write end.
func createWakeFD() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return 0, 0, err
	}
	return fd, fd, nil
}

// writeWake signals the eventfd.
func writeWake(writeFD int) error {
	var one uint64 = 1
	buf := [8]byte{}
	buf[0] = byte(one)
	_, err := unix.Write(writeFD, buf[:])
	return err
}

// drainWake drains all pending eventfd signals.
func drainWake(readFD int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(readFD, buf[:]); err != nil {
			return
		}
	}
}

// closeWakeFD closes the wake eventfd.
func closeWakeFD(readFD, writeFD int) {
	_ = unix.Close(readFD)
}
