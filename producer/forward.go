package producer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/wire"
	"github.com/dsuwu/go-dsuwu/pad"
)

// Forward mirrors a slot from another DSU server into the local one. It
// speaks the client side of the protocol: a version handshake, a
// periodic pad-data subscription (servers forget silent clients after
// five seconds), and CRC-checked parsing of the resulting stream.
type Forward struct {
	// RemoteAddr is the upstream server, host:port.
	RemoteAddr string

	// RemoteSlot is the slot requested from the upstream server.
	RemoteSlot uint8

	// RequestInterval is the re-subscription cadence (default: 1s).
	RequestInterval time.Duration
}

// NewForward mirrors remoteSlot of the DSU server at addr.
func NewForward(addr string, remoteSlot uint8) *Forward {
	return &Forward{RemoteAddr: addr, RemoteSlot: remoteSlot}
}

// readTimeout bounds a single blocking read so cancellation is observed
// between packets.
const readTimeout = 250 * time.Millisecond

// Run implements the producer contract.
func (f *Forward) Run(ctx context.Context, pads *pad.Store, slot int) error {
	interval := f.RequestInterval
	if interval <= 0 {
		interval = time.Second
	}

	raddr, err := net.ResolveUDPAddr("udp", f.RemoteAddr)
	if err != nil {
		return fmt.Errorf("resolve remote server: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial remote server: %w", err)
	}
	defer conn.Close()

	if err := pads.Ensure(slot); err != nil {
		return err
	}

	f.sendVersionRequest(conn)
	f.sendPadDataRequest(conn)
	lastRequest := time.Now()

	buf := make([]byte, constants.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastRequest) >= interval {
			f.sendPadDataRequest(conn)
			lastRequest = time.Now()
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			// upstream unreachable: keep retrying, the subscription
			// loop doubles as the reconnect path
			continue
		}

		pkt, err := wire.Parse(buf[:n], wire.MagicServer)
		if err != nil || pkt.MsgType != constants.MsgPadData {
			continue
		}
		resp, err := wire.ParseButtonResponse(pkt.Payload)
		if err != nil || resp.Slot != f.RemoteSlot {
			continue
		}

		if err := pads.Update(slot, func(s *pad.State) { applyRemote(s, resp) }); err != nil {
			return err
		}
	}
}

// client-side request builders

func (f *Forward) sendVersionRequest(conn *net.UDPConn) {
	pkt := wire.Encode(wire.MagicClient, constants.ProtocolVersion, 0, constants.MsgVersion, nil)
	_, _ = conn.Write(pkt)
}

func (f *Forward) sendPadDataRequest(conn *net.UDPConn) {
	payload := make([]byte, 8)
	payload[0] = wire.RegisterSlot
	payload[1] = f.RemoteSlot
	pkt := wire.Encode(wire.MagicClient, constants.ProtocolVersion, 0, constants.MsgPadData, payload)
	_, _ = conn.Write(pkt)
}

// applyRemote copies a decoded upstream snapshot into the local slot.
// ParseButtonResponse already undid the wire-level inversions, so this
// is a straight field copy.
func applyRemote(s *pad.State, r *wire.ButtonResponse) {
	s.Connected = r.Connected
	s.Buttons1 = r.Buttons1
	s.Buttons2 = r.Buttons2
	s.Home = r.Home
	s.TouchButton = r.TouchButton
	s.LStickX = r.LStickX
	s.LStickY = r.LStickY
	s.RStickX = r.RStickX
	s.RStickY = r.RStickY
	s.DpadAnalog = r.DpadAnalog
	s.FaceAnalog = r.FaceAnalog
	s.AnalogR1 = r.AnalogR1
	s.AnalogL1 = r.AnalogL1
	s.AnalogR2 = r.AnalogR2
	s.AnalogL2 = r.AnalogL2
	s.Touch1 = pad.Touch(r.Touch1)
	s.Touch2 = pad.Touch(r.Touch2)
	s.MotionTimestamp = r.MotionTimestamp
	s.Accel = r.Accel
	s.Gyro = r.Gyro
	s.ConnectionType = r.ConnectionType
	s.Battery = r.Battery
}
