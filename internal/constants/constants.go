package constants

import "time"

// DSU message types. Requests and responses share values; the magic in the
// header tells the two directions apart.
const (
	MsgVersion  = 0x100000
	MsgPortInfo = 0x100001
	MsgPadData  = 0x100002
	MsgMotor    = 0x110001
	MsgRumble   = 0x110002
)

// ProtocolVersion is the highest DSU protocol version the server speaks.
// Responses mirror the client's requested version so a v1001 client sees
// v1001 even if the server tolerates something newer.
const ProtocolVersion = 1001

// Wire framing constants
const (
	// HeaderSize is the size of the DSU packet header in bytes:
	// magic[4] + version(u16) + length(u16) + crc(u32) + id(u32)
	HeaderSize = 16

	// MinPacketSize is header plus the 4-byte message type; anything
	// shorter cannot be classified and is dropped.
	MinPacketSize = HeaderSize + 4

	// MaxDatagramSize bounds a single receive. DSU packets are under 100
	// bytes; 2KB matches the original server's recv buffer.
	MaxDatagramSize = 2048
)

// Default configuration constants
const (
	// DefaultPort is the UDP port DSU clients probe by convention.
	DefaultPort = 26760

	// DefaultBindAddr listens on all interfaces.
	DefaultBindAddr = "0.0.0.0"

	// DefaultStickDeadzone is the tolerance around the 128,128 stick
	// centre used by the idle test.
	DefaultStickDeadzone = 3

	// DefaultMotorCount is the number of rumble motors reported per slot.
	DefaultMotorCount = 2

	// SoftSlotLimit caps the slots visible on the wire. The slot field is
	// a u8, so slots 256 and above exist internally but can never be
	// reported to a client.
	SoftSlotLimit = 256
)

// Timing constants
const (
	// DSUTimeout governs client liveness, registration entry expiry and
	// rumble motor auto-zero.
	DSUTimeout = 5 * time.Second

	// DefaultUpdateTimeout bounds the latency between a producer write
	// and the outgoing packet when no socket traffic arrives. Zero means
	// the dispatcher only wakes on dirty state or inbound packets.
	DefaultUpdateTimeout = 5 * time.Millisecond

	// FrameDelay is one frame at the 60Hz pad update cadence. Pulse
	// helpers convert frame counts to deadlines with it.
	FrameDelay = time.Second / 60
)

// Queue sizing constants
const (
	// SendQueueDepth bounds the asynchronous outbound packet queue.
	// When full, the oldest packet is dropped so the dispatcher never
	// blocks past its update timeout.
	SendQueueDepth = 1024
)
