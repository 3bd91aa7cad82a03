//go:build linux

package dispatch

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// recvBufferSize is requested on the UDP socket so bursts of client
// polls survive a slow reconciliation pass.
const recvBufferSize = 1 << 20

// controlSocket applies socket options before bind. SO_REUSEADDR lets a
// restarted server grab the port while old client packets are still in
// flight.
func controlSocket(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = err
			return
		}
		// best effort; the kernel clamps to rmem_max
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize)
	})
	if err != nil {
		return err
	}
	return opErr
}
