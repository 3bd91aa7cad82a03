package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/registry"
	"github.com/dsuwu/go-dsuwu/internal/wire"
	"github.com/dsuwu/go-dsuwu/pad"
)

var (
	clientA = netip.MustParseAddrPort("127.0.0.1:40001")
	clientB = netip.MustParseAddrPort("127.0.0.1:40002")
)

// sent is one captured outbound packet.
type sent struct {
	addr netip.AddrPort
	desc string
	pkt  *wire.Packet
	raw  []byte
}

// captureSender collects packets instead of hitting the network.
type captureSender struct {
	items []sent
}

func (c *captureSender) Enqueue(pkt []byte, addr netip.AddrPort, desc string) {
	parsed, err := wire.Parse(pkt, wire.MagicServer)
	if err != nil {
		panic("engine emitted an invalid packet: " + err.Error())
	}
	c.items = append(c.items, sent{addr: addr, desc: desc, pkt: parsed, raw: pkt})
}

func (c *captureSender) reset() {
	c.items = nil
}

// of filters captured packets by destination and message type.
func (c *captureSender) of(addr netip.AddrPort, msgType uint32) []sent {
	var out []sent
	for _, s := range c.items {
		if s.addr == addr && s.pkt.MsgType == msgType {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *pad.Store
	reg    *registry.Registry
	sender *captureSender
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClock()
	store := pad.NewStore(pad.StoreConfig{Clock: fc})
	reg := registry.New(registry.Config{TTL: constants.DSUTimeout, Clock: fc})
	sender := &captureSender{}
	eng := New(Config{
		ServerID: 0xCAFEBABE,
		Store:    store,
		Registry: reg,
		Sender:   sender,
		Clock:    fc,
	})
	return &fixture{engine: eng, store: store, reg: reg, sender: sender, clock: fc}
}

// deliver runs a client request through Parse the way the dispatcher does.
func (f *fixture) deliver(t *testing.T, addr netip.AddrPort, msgType uint32, payload []byte) {
	t.Helper()
	raw := wire.Encode(wire.MagicClient, constants.ProtocolVersion, 0, msgType, payload)
	pkt, err := wire.Parse(raw, wire.MagicClient)
	require.NoError(t, err)
	f.engine.HandlePacket(addr, pkt)
}

// subscribeAll registers a wildcard subscription for addr.
func (f *fixture) subscribeAll(t *testing.T, addr netip.AddrPort) {
	t.Helper()
	f.deliver(t, addr, constants.MsgPadData, make([]byte, 8))
}

func TestVersionHandshake(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, clientA, constants.MsgVersion, nil)

	replies := f.sender.of(clientA, constants.MsgVersion)
	require.Len(t, replies, 1)
	r := replies[0]
	assert.Equal(t, [4]byte{'D', 'S', 'U', 'S'}, r.pkt.Header.Magic)
	assert.Equal(t, uint16(1001), r.pkt.Header.ProtocolVersion)
	assert.Equal(t, uint32(0xCAFEBABE), r.pkt.Header.ID)
	assert.Equal(t, []byte{0xE9, 0x03, 0x00, 0x00}, r.pkt.Payload)
	assert.NotNil(t, f.reg.Get(clientA), "handshake refreshes the client")
}

func TestVersionMirrorsClientVersion(t *testing.T) {
	f := newFixture(t)

	raw := wire.Encode(wire.MagicClient, 1000, 0, constants.MsgVersion, nil)
	pkt, err := wire.Parse(raw, wire.MagicClient)
	require.NoError(t, err)
	f.engine.HandlePacket(clientA, pkt)

	replies := f.sender.of(clientA, constants.MsgVersion)
	require.Len(t, replies, 1)
	assert.Equal(t, uint16(1000), replies[0].pkt.Header.ProtocolVersion,
		"response header carries the client's negotiated version")
}

func TestListPorts(t *testing.T) {
	f := newFixture(t)

	// only slot 0 is advertised
	require.NoError(t, f.store.SetIdle(0, true))
	f.engine.SetAdvertised(0)
	for slot := 1; slot < 4; slot++ {
		require.NoError(t, f.store.Ensure(slot))
	}

	payload := make([]byte, 8)
	payload[0] = 4 // count, little-endian
	copy(payload[4:], []byte{0, 1, 2, 3})
	f.deliver(t, clientA, constants.MsgPortInfo, payload)

	replies := f.sender.of(clientA, constants.MsgPortInfo)
	require.Len(t, replies, 4)

	info := replies[0].pkt.Payload
	require.Len(t, info, wire.PortInfoSize)
	assert.Equal(t, uint8(0), info[0])
	assert.Equal(t, uint8(wire.SlotStateConnected), info[1])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, info[4:10], "generated MAC for slot 0")

	for i, slot := range []uint8{1, 2, 3} {
		payload := replies[i+1].pkt.Payload
		require.Len(t, payload, wire.PortInfoSize)
		assert.Equal(t, slot, payload[0])
		for _, b := range payload[1:] {
			assert.Zero(t, b)
		}
	}
}

func TestPadDataRequestRegistersWithoutReply(t *testing.T) {
	f := newFixture(t)

	payload := make([]byte, 8)
	payload[0] = wire.RegisterSlot
	payload[1] = 2
	f.deliver(t, clientA, constants.MsgPadData, payload)

	assert.Empty(t, f.sender.items, "button requests get no direct response")
	assert.True(t, f.reg.Subscribed(clientA, 2, [6]byte{0xFF}))
}

func TestPadDataRequestMACRegistration(t *testing.T) {
	f := newFixture(t)
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}

	payload := make([]byte, 8)
	payload[0] = wire.RegisterMAC
	copy(payload[2:8], mac[:])
	f.deliver(t, clientA, constants.MsgPadData, payload)

	assert.True(t, f.reg.Subscribed(clientA, 99, mac))

	// an all-zero MAC with the MAC flag registers nothing
	f.deliver(t, clientB, constants.MsgPadData, []byte{wire.RegisterMAC, 0, 0, 0, 0, 0, 0, 0})
	assert.False(t, f.reg.Subscribed(clientB, 0, [6]byte{}))
}

func TestReconcileFansOutToSubscribers(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Update(0, func(s *pad.State) { s.Buttons2 = 0x20 }))
	f.subscribeAll(t, clientA)

	f.engine.Reconcile()

	infos := f.sender.of(clientA, constants.MsgPortInfo)
	inputs := f.sender.of(clientA, constants.MsgPadData)
	require.Len(t, infos, 1, "port info precedes the first pad data")
	require.Len(t, inputs, 1)
	assert.Equal(t, uint8(0x20), inputs[0].pkt.Payload[17])
	assert.Equal(t, uint8(1), inputs[0].pkt.Payload[11], "connected flag set")
}

func TestPortInfoPrecedesFirstInput(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()

	var sawInfo bool
	for _, s := range f.sender.items {
		switch s.pkt.MsgType {
		case constants.MsgPortInfo:
			sawInfo = true
		case constants.MsgPadData:
			assert.True(t, sawInfo, "pad data before any port info for the slot")
		}
	}
}

func TestUnsubscribedClientGetsNoInput(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.deliver(t, clientA, constants.MsgVersion, nil) // known but not subscribed

	f.sender.reset()
	f.engine.Reconcile()
	assert.Empty(t, f.sender.of(clientA, constants.MsgPadData))
}

func TestPacketNumIncrementsOncePerPass(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)
	f.subscribeAll(t, clientB)

	for pass := 0; pass < 3; pass++ {
		f.sender.reset()
		f.engine.Reconcile()
		for _, c := range []netip.AddrPort{clientA, clientB} {
			inputs := f.sender.of(c, constants.MsgPadData)
			require.Len(t, inputs, 1)
			pktNum := uint32(inputs[0].pkt.Payload[12]) |
				uint32(inputs[0].pkt.Payload[13])<<8 |
				uint32(inputs[0].pkt.Payload[14])<<16 |
				uint32(inputs[0].pkt.Payload[15])<<24
			assert.Equal(t, uint32(pass), pktNum,
				"packet number advances once per pass regardless of subscriber count")
		}
	}
}

func TestDisconnectSentinel(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(2, true))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()
	require.Len(t, f.sender.of(clientA, constants.MsgPadData), 1)

	// soft-delete the slot
	require.NoError(t, f.store.SetConnectionType(2, -1))
	f.sender.reset()
	f.engine.Reconcile()

	infos := f.sender.of(clientA, constants.MsgPortInfo)
	require.Len(t, infos, 1)
	payload := infos[0].pkt.Payload
	assert.Equal(t, uint8(2), payload[0])
	assert.Equal(t, uint8(0), payload[1], "slot state zero on disconnect")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, payload[4:10])
	assert.Empty(t, f.sender.of(clientA, constants.MsgPadData), "no pad data for a dropped slot")

	// later passes stay silent for that slot
	f.sender.reset()
	f.engine.Reconcile()
	assert.Empty(t, f.sender.of(clientA, constants.MsgPadData))
}

func TestReconnectAfterSentinel(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()

	require.NoError(t, f.store.SetConnectionType(0, -1))
	f.engine.Reconcile()

	require.NoError(t, f.store.SetConnectionType(0, 2))
	f.sender.reset()
	f.engine.Reconcile()

	infos := f.sender.of(clientA, constants.MsgPortInfo)
	require.NotEmpty(t, infos, "reconnect re-advertises the slot")
	assert.Equal(t, uint8(wire.SlotStateConnected), infos[0].pkt.Payload[1])
	assert.NotEmpty(t, f.sender.of(clientA, constants.MsgPadData))
}

func TestClientTimeout(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)

	// within the timeout the client still receives updates
	f.clock.Advance(constants.DSUTimeout)
	f.sender.reset()
	f.engine.Reconcile()
	assert.NotEmpty(t, f.sender.of(clientA, constants.MsgPadData))

	// past it the client is removed and nothing more is queued
	f.clock.Advance(time.Second)
	f.sender.reset()
	f.engine.Reconcile()
	assert.Empty(t, f.sender.items)
	assert.Nil(t, f.reg.Get(clientA))
}

func TestMotorRequest(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(1, true))
	f.engine.SetAdvertised(1)
	f.engine.Reconcile()
	f.sender.reset()

	payload := make([]byte, 8)
	payload[0] = 1
	f.deliver(t, clientA, constants.MsgMotor, payload)

	replies := f.sender.of(clientA, constants.MsgMotor)
	require.Len(t, replies, 1)
	resp := replies[0].pkt.Payload
	require.Len(t, resp, wire.MotorResponseSize)
	assert.Equal(t, uint8(1), resp[0])
	assert.Equal(t, uint8(wire.SlotStateConnected), resp[1])
	assert.Equal(t, uint8(constants.DefaultMotorCount), resp[11])
}

func TestMotorRequestDisconnectedSlot(t *testing.T) {
	f := newFixture(t)

	payload := make([]byte, 8)
	payload[0] = 6 // never addressed
	f.deliver(t, clientA, constants.MsgMotor, payload)

	replies := f.sender.of(clientA, constants.MsgMotor)
	require.Len(t, replies, 1)
	resp := replies[0].pkt.Payload
	assert.Equal(t, uint8(6), resp[0])
	assert.Equal(t, uint8(0), resp[1])
	assert.Equal(t, uint8(0), resp[11], "motor count zero for unknown slot")
}

func TestMotorCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Ensure(0))

	payload := make([]byte, 10)
	payload[0] = 0
	payload[8] = 1
	payload[9] = 0xC0
	f.deliver(t, clientA, constants.MsgRumble, payload)

	assert.Empty(t, f.sender.items, "motor commands are silent")
	snap, _ := f.store.Snapshot(0)
	assert.Equal(t, uint8(0xC0), snap.Motors[1])

	// out-of-range motor ids are ignored
	payload[8] = 9
	f.deliver(t, clientA, constants.MsgRumble, payload)
	snap, _ = f.store.Snapshot(0)
	assert.Equal(t, uint8(0xC0), snap.Motors[1])
}

func TestMotorAutoZeroAfterTimeout(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)
	require.NoError(t, f.store.SetMotor(0, 0, 128))

	f.engine.Reconcile()
	snap, _ := f.store.Snapshot(0)
	require.Equal(t, uint8(128), snap.Motors[0])

	f.clock.Advance(constants.DSUTimeout + time.Second)
	f.subscribeAll(t, clientA) // keep the client alive
	f.engine.Reconcile()
	snap, _ = f.store.Snapshot(0)
	assert.Equal(t, uint8(0), snap.Motors[0])
}

func TestIdleSlotStaysConnectedWithoutInput(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SetIdle(0, true))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()

	inputs := f.sender.of(clientA, constants.MsgPadData)
	require.Len(t, inputs, 1)
	assert.Equal(t, uint8(1), inputs[0].pkt.Payload[11])
}

func TestActivityConnectsThenIdleDisconnects(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Update(0, func(s *pad.State) { s.Buttons1 = 0x10 }))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()
	inputs := f.sender.of(clientA, constants.MsgPadData)
	require.Len(t, inputs, 1)
	assert.Equal(t, uint8(1), inputs[0].pkt.Payload[11])

	require.NoError(t, f.store.Update(0, func(s *pad.State) { s.Buttons1 = 0 }))
	f.sender.reset()
	f.engine.Reconcile()
	inputs = f.sender.of(clientA, constants.MsgPadData)
	require.Len(t, inputs, 1)
	assert.Equal(t, uint8(0), inputs[0].pkt.Payload[11], "released slot reports disconnected")
}

func TestStickYInversionOnTheWire(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Update(0, func(s *pad.State) {
		s.LStickX = 200
		s.LStickY = 60
	}))
	f.subscribeAll(t, clientA)
	f.engine.Reconcile()

	inputs := f.sender.of(clientA, constants.MsgPadData)
	require.Len(t, inputs, 1)
	assert.Equal(t, uint8(0xC8), inputs[0].pkt.Payload[20])
	assert.Equal(t, uint8(195), inputs[0].pkt.Payload[21])
}

func TestMalformedPayloadsDropSilently(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, clientA, constants.MsgPortInfo, []byte{1}) // short list ports
	f.deliver(t, clientA, constants.MsgPadData, []byte{0})  // short button request
	f.deliver(t, clientA, constants.MsgRumble, []byte{0})   // short motor command
	f.deliver(t, clientA, 0xDEADBEEF, nil)                  // unknown type

	assert.Empty(t, f.sender.items)
}
