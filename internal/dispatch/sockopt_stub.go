//go:build !linux

package dispatch

import "syscall"

// controlSocket is a no-op on platforms where we don't tune the socket.
func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
