package wire

import (
	"encoding/binary"
	"math"
)

// Slot-state and device-model bytes used in port-info style payloads.
const (
	SlotStateConnected  = 2
	DeviceModelFullGyro = 2
)

// Payload sizes after the message type.
const (
	VersionResponseSize = 4
	PortInfoSize        = 11
	MotorResponseSize   = 12
	ButtonResponseSize  = 80
)

// Touch is a single touchpad contact as it appears on the wire.
type Touch struct {
	Active bool
	ID     uint8
	X      uint16
	Y      uint16
}

// ButtonResponse is the full per-slot input snapshot carried by a pad-data
// packet. Field order matches the wire layout; the stick Y inversion, dpad
// reordering and accelerometer Z negation happen in Marshal/ParseButtonResponse
// so this struct always holds the server-side representation.
type ButtonResponse struct {
	Slot           uint8
	ConnectionType int8
	MAC            [6]byte
	Battery        uint8
	Connected      bool

	PacketNum uint32

	Buttons1    uint8
	Buttons2    uint8
	Home        bool
	TouchButton bool

	LStickX uint8
	LStickY uint8
	RStickX uint8
	RStickY uint8

	// Analog dpad pressure in up, right, down, left order.
	DpadAnalog [4]uint8
	FaceAnalog [4]uint8

	AnalogR1 uint8
	AnalogL1 uint8
	AnalogR2 uint8
	AnalogL2 uint8

	Touch1 Touch
	Touch2 Touch

	MotionTimestamp uint64
	Accel           [3]float32
	Gyro            [3]float32
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// PortInfoPayload builds the 11-byte payload advertising a connected slot.
func PortInfoPayload(slot uint8, connectionType int8, mac [6]byte, battery uint8) []byte {
	buf := make([]byte, PortInfoSize)
	buf[0] = slot
	buf[1] = SlotStateConnected
	buf[2] = DeviceModelFullGyro
	buf[3] = uint8(connectionType)
	copy(buf[4:10], mac[:])
	buf[10] = battery
	return buf
}

// PortDisconnectPayload builds the 11-byte payload reporting a slot as gone.
// The slot byte is kept so clients know which controller disappeared; an
// all-zero payload would always report slot 0.
func PortDisconnectPayload(slot uint8) []byte {
	buf := make([]byte, PortInfoSize)
	buf[0] = slot
	return buf
}

// VersionResponsePayload carries the server's protocol version.
func VersionResponsePayload(protocolVersion uint16) []byte {
	buf := make([]byte, VersionResponseSize)
	binary.LittleEndian.PutUint16(buf[0:2], protocolVersion)
	// trailing u16 reserved stays zero
	return buf
}

// MotorResponsePayload reports the rumble motor count for a connected slot.
func MotorResponsePayload(slot uint8, connectionType int8, mac [6]byte, battery uint8, motorCount uint8) []byte {
	buf := make([]byte, MotorResponseSize)
	copy(buf, PortInfoPayload(slot, connectionType, mac, battery))
	buf[11] = motorCount
	return buf
}

// MotorDisconnectPayload is the motor response for an unknown or
// disconnected slot: port info zeroed except for the slot byte, and
// motor count 0.
func MotorDisconnectPayload(slot uint8) []byte {
	buf := make([]byte, MotorResponseSize)
	buf[0] = slot
	return buf
}

// MarshalButtonResponse encodes the input snapshot into its 80-byte wire
// payload. Stick Y axes go out inverted, the dpad is reordered to left,
// down, right, up, and the accelerometer Z axis is negated.
func (r *ButtonResponse) MarshalButtonResponse() []byte {
	buf := make([]byte, ButtonResponseSize)

	buf[0] = r.Slot
	buf[1] = SlotStateConnected
	buf[2] = DeviceModelFullGyro
	buf[3] = uint8(r.ConnectionType)
	copy(buf[4:10], r.MAC[:])
	buf[10] = r.Battery
	buf[11] = b2u8(r.Connected)

	binary.LittleEndian.PutUint32(buf[12:16], r.PacketNum)

	buf[16] = r.Buttons1
	buf[17] = r.Buttons2
	buf[18] = b2u8(r.Home)
	buf[19] = b2u8(r.TouchButton)

	buf[20] = r.LStickX
	buf[21] = 255 - r.LStickY
	buf[22] = r.RStickX
	buf[23] = 255 - r.RStickY

	up, right, down, left := r.DpadAnalog[0], r.DpadAnalog[1], r.DpadAnalog[2], r.DpadAnalog[3]
	buf[24] = left
	buf[25] = down
	buf[26] = right
	buf[27] = up

	copy(buf[28:32], r.FaceAnalog[:])

	buf[32] = r.AnalogR1
	buf[33] = r.AnalogL1
	buf[34] = r.AnalogR2
	buf[35] = r.AnalogL2

	putTouch(buf[36:42], r.Touch1)
	putTouch(buf[42:48], r.Touch2)

	binary.LittleEndian.PutUint64(buf[48:56], r.MotionTimestamp)

	putFloat32(buf[56:60], r.Accel[0])
	putFloat32(buf[60:64], r.Accel[1])
	putFloat32(buf[64:68], -r.Accel[2])
	putFloat32(buf[68:72], r.Gyro[0])
	putFloat32(buf[72:76], r.Gyro[1])
	putFloat32(buf[76:80], r.Gyro[2])

	return buf
}

// ParseButtonResponse decodes an 80-byte pad-data payload back into the
// server-side representation, undoing the Y inversion, dpad reordering and
// accelerometer Z negation symmetrically. Used by the DSU-mirror producer.
func ParseButtonResponse(payload []byte) (*ButtonResponse, error) {
	if len(payload) < ButtonResponseSize {
		return nil, ErrShortPayload
	}

	r := &ButtonResponse{
		Slot:           payload[0],
		ConnectionType: int8(payload[3]),
		Battery:        payload[10],
		Connected:      payload[11] != 0,
	}
	copy(r.MAC[:], payload[4:10])

	r.PacketNum = binary.LittleEndian.Uint32(payload[12:16])

	r.Buttons1 = payload[16]
	r.Buttons2 = payload[17]
	r.Home = payload[18] != 0
	r.TouchButton = payload[19] != 0

	r.LStickX = payload[20]
	r.LStickY = 255 - payload[21]
	r.RStickX = payload[22]
	r.RStickY = 255 - payload[23]

	left, down, right, up := payload[24], payload[25], payload[26], payload[27]
	r.DpadAnalog = [4]uint8{up, right, down, left}

	copy(r.FaceAnalog[:], payload[28:32])

	r.AnalogR1 = payload[32]
	r.AnalogL1 = payload[33]
	r.AnalogR2 = payload[34]
	r.AnalogL2 = payload[35]

	r.Touch1 = getTouch(payload[36:42])
	r.Touch2 = getTouch(payload[42:48])

	r.MotionTimestamp = binary.LittleEndian.Uint64(payload[48:56])

	// the wire carries (x, y, -z)
	r.Accel[0] = getFloat32(payload[56:60])
	r.Accel[1] = getFloat32(payload[60:64])
	r.Accel[2] = -getFloat32(payload[64:68])
	r.Gyro[0] = getFloat32(payload[68:72])
	r.Gyro[1] = getFloat32(payload[72:76])
	r.Gyro[2] = getFloat32(payload[76:80])

	return r, nil
}

// ParseListPorts extracts the requested slot numbers from a list-ports
// request payload. A count that overruns the payload is clamped.
func ParseListPorts(payload []byte) ([]uint8, error) {
	if len(payload) < 4 {
		return nil, ErrShortPayload
	}
	count := int(binary.LittleEndian.Uint32(payload[0:4]))
	if count > len(payload)-4 {
		count = len(payload) - 4
	}
	slots := make([]uint8, count)
	copy(slots, payload[4:4+count])
	return slots, nil
}

// PadDataRequest is a client's subscription declaration.
type PadDataRequest struct {
	Flags uint8
	Slot  uint8
	MAC   [6]byte
}

// Registration flag bits in a pad-data request. A zero flags byte means
// "everything".
const (
	RegisterSlot = 0x01
	RegisterMAC  = 0x02
)

// ParsePadDataRequest decodes a pad-data (button) request payload.
func ParsePadDataRequest(payload []byte) (*PadDataRequest, error) {
	if len(payload) < 8 {
		return nil, ErrShortPayload
	}
	req := &PadDataRequest{
		Flags: payload[0],
		Slot:  payload[1],
	}
	copy(req.MAC[:], payload[2:8])
	return req, nil
}

// ParseMotorRequest extracts the slot from a motor-count request payload.
func ParseMotorRequest(payload []byte) (uint8, error) {
	if len(payload) < 8 {
		return 0, ErrShortPayload
	}
	return payload[0], nil
}

// MotorCommand sets one rumble motor's intensity.
type MotorCommand struct {
	Slot      uint8
	MotorID   uint8
	Intensity uint8
}

// ParseMotorCommand decodes a rumble command payload.
func ParseMotorCommand(payload []byte) (*MotorCommand, error) {
	if len(payload) < 10 {
		return nil, ErrShortPayload
	}
	return &MotorCommand{
		Slot:      payload[0],
		MotorID:   payload[8],
		Intensity: payload[9],
	}, nil
}

func putTouch(buf []byte, t Touch) {
	buf[0] = b2u8(t.Active)
	buf[1] = t.ID
	binary.LittleEndian.PutUint16(buf[2:4], t.X)
	binary.LittleEndian.PutUint16(buf[4:6], t.Y)
}

func getTouch(buf []byte) Touch {
	return Touch{
		Active: buf[0] != 0,
		ID:     buf[1],
		X:      binary.LittleEndian.Uint16(buf[2:4]),
		Y:      binary.LittleEndian.Uint16(buf[4:6]),
	}
}

func putFloat32(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
}

func getFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}
