package dispatch

import (
	"context"
	"fmt"
	"net"
)

// ListenUDP binds the server socket with the platform socket options
// applied.
func ListenUDP(bindAddr string, port uint16) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlSocket}
	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}
