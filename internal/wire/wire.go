// Package wire implements the DSU packet framing: the 16-byte header, the
// CRC-32 integrity check and the little-endian payload layouts exchanged
// between DSU clients and servers.
package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/dsuwu/go-dsuwu/internal/constants"
)

// Packet magics. The server always stamps MagicServer on outgoing packets;
// anything received without MagicClient is dropped.
var (
	MagicServer = [4]byte{'D', 'S', 'U', 'S'}
	MagicClient = [4]byte{'D', 'S', 'U', 'C'}
)

// Error definitions
type WireError string

func (e WireError) Error() string {
	return string(e)
}

const (
	ErrShortPacket  WireError = "packet too short"
	ErrBadMagic     WireError = "bad magic"
	ErrBadLength    WireError = "declared length mismatch"
	ErrBadCRC       WireError = "crc mismatch"
	ErrShortPayload WireError = "payload too short"
)

// Header is the 16-byte DSU packet header.
type Header struct {
	Magic           [4]byte
	ProtocolVersion uint16
	Length          uint16 // bytes after the header, including the message type
	CRC             uint32
	ID              uint32 // server id for DSUS packets, 0 for DSUC
}

// Packet is a validated, decoded DSU packet.
type Packet struct {
	Header  Header
	MsgType uint32
	Payload []byte // payload after the message type; aliases the input buffer
}

// Checksum computes the packet CRC: CRC-32 (IEEE) over the header with its
// CRC field zeroed, followed by the message (type plus payload).
func Checksum(header []byte, msg []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(header[0:8])
	crc.Write([]byte{0, 0, 0, 0})
	crc.Write(header[12:16])
	crc.Write(msg)
	return crc.Sum32()
}

// Encode builds a complete DSU packet: header, message type and payload,
// with the CRC filled in.
func Encode(magic [4]byte, protocolVersion uint16, id uint32, msgType uint32, payload []byte) []byte {
	msgLen := 4 + len(payload)
	buf := make([]byte, constants.HeaderSize+msgLen)

	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], protocolVersion)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(msgLen))
	// CRC stays zero until computed
	binary.LittleEndian.PutUint32(buf[12:16], id)
	binary.LittleEndian.PutUint32(buf[16:20], msgType)
	copy(buf[20:], payload)

	crc := Checksum(buf[:constants.HeaderSize], buf[constants.HeaderSize:])
	binary.LittleEndian.PutUint32(buf[8:12], crc)
	return buf
}

// Parse validates buf against magic and returns the decoded packet.
// Callers drop packets on any error; the DSU protocol has no NACK.
func Parse(buf []byte, magic [4]byte) (*Packet, error) {
	if len(buf) < constants.MinPacketSize {
		return nil, ErrShortPacket
	}

	var h Header
	copy(h.Magic[:], buf[0:4])
	if h.Magic != magic {
		return nil, ErrBadMagic
	}
	h.ProtocolVersion = binary.LittleEndian.Uint16(buf[4:6])
	h.Length = binary.LittleEndian.Uint16(buf[6:8])
	h.CRC = binary.LittleEndian.Uint32(buf[8:12])
	h.ID = binary.LittleEndian.Uint32(buf[12:16])

	if h.Length < 4 {
		return nil, ErrBadLength
	}
	if int(h.Length) != len(buf)-constants.HeaderSize {
		return nil, ErrBadLength
	}
	if Checksum(buf[:constants.HeaderSize], buf[constants.HeaderSize:]) != h.CRC {
		return nil, ErrBadCRC
	}

	return &Packet{
		Header:  h,
		MsgType: binary.LittleEndian.Uint32(buf[16:20]),
		Payload: buf[20:],
	}, nil
}
