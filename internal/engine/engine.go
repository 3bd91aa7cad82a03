// Package engine implements the DSU protocol logic: request handling,
// port-info diffing against the previous pass, and the per-reconciliation
// fan-out of pad data to subscribed clients.
package engine

import (
	"net/netip"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
	"github.com/dsuwu/go-dsuwu/internal/registry"
	"github.com/dsuwu/go-dsuwu/internal/wire"
	"github.com/dsuwu/go-dsuwu/pad"
)

// Sender queues an outbound packet. Implemented by the dispatch send
// queue; handlers never block on the network.
type Sender interface {
	Enqueue(pkt []byte, addr netip.AddrPort, desc string)
}

// Config configures a protocol engine.
type Config struct {
	ServerID uint32
	Store    *pad.Store
	Registry *registry.Registry
	Sender   Sender
	TTL      time.Duration
	Clock    clockwork.Clock
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Engine owns the request handlers and the reconciliation pass. It runs
// entirely on the dispatcher goroutine; the maps below need no locking.
type Engine struct {
	serverID uint32
	store    *pad.Store
	reg      *registry.Registry
	send     Sender
	ttl      time.Duration
	clock    clockwork.Clock
	logger   interfaces.Logger
	observer interfaces.Observer

	// advertised is the set of slots announced to the world, the
	// server-wide view list-ports answers from.
	advertised map[int]bool

	// prevConnectionTypes drives the port-info diffing.
	prevConnectionTypes map[int]int8

	// lastButtons tracks per-slot button bytes so state changes are
	// logged once, not per packet.
	lastButtons map[int][2]uint8

	// loggedPadRequests keeps the per-slot registration log one-time.
	loggedPadRequests map[uint8]bool

	warnedSlotLimit bool
}

// New creates an engine.
func New(config Config) *Engine {
	if config.TTL <= 0 {
		config.TTL = constants.DSUTimeout
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	return &Engine{
		serverID:            config.ServerID,
		store:               config.Store,
		reg:                 config.Registry,
		send:                config.Sender,
		ttl:                 config.TTL,
		clock:               config.Clock,
		logger:              config.Logger,
		observer:            config.Observer,
		advertised:          make(map[int]bool),
		prevConnectionTypes: make(map[int]int8),
		lastButtons:         make(map[int][2]uint8),
		loggedPadRequests:   make(map[uint8]bool),
	}
}

// SetAdvertised seeds a slot's advertisement state, used for slots the
// host marks idle before the first pass.
func (e *Engine) SetAdvertised(slot int) {
	e.advertised[slot] = true
}

// HandlePacket dispatches a validated client packet to its handler.
// Unknown message types are dropped silently.
func (e *Engine) HandlePacket(addr netip.AddrPort, pkt *wire.Packet) {
	switch pkt.MsgType {
	case constants.MsgVersion:
		e.handleVersionRequest(addr, pkt)
	case constants.MsgPortInfo:
		e.handleListPorts(addr, pkt)
	case constants.MsgPadData:
		e.handlePadDataRequest(addr, pkt)
	case constants.MsgMotor:
		e.handleMotorRequest(addr, pkt)
	case constants.MsgRumble:
		e.handleMotorCommand(addr, pkt)
	default:
		if e.observer != nil {
			e.observer.ObserveDrop("unknown message type")
		}
	}
}

// encode stamps the server magic and id on a response.
func (e *Engine) encode(protocolVersion uint16, msgType uint32, payload []byte) []byte {
	return wire.Encode(wire.MagicServer, protocolVersion, e.serverID, msgType, payload)
}

func (e *Engine) handleVersionRequest(addr netip.AddrPort, pkt *wire.Packet) {
	info := e.reg.Touch(addr, pkt.Header.ProtocolVersion)
	resp := e.encode(info.ProtocolVersion, constants.MsgVersion,
		wire.VersionResponsePayload(constants.ProtocolVersion))
	e.send.Enqueue(resp, addr, "version response")
}

func (e *Engine) handleListPorts(addr netip.AddrPort, pkt *wire.Packet) {
	slots, err := wire.ParseListPorts(pkt.Payload)
	if err != nil {
		return
	}
	info := e.reg.Touch(addr, pkt.Header.ProtocolVersion)
	for _, slot := range slots {
		if e.advertised[int(slot)] {
			e.sendPortInfo(addr, info.ProtocolVersion, int(slot))
		} else {
			e.sendPortDisconnect(addr, info.ProtocolVersion, int(slot))
		}
	}
}

func (e *Engine) handlePadDataRequest(addr netip.AddrPort, pkt *wire.Packet) {
	req, err := wire.ParsePadDataRequest(pkt.Payload)
	if err != nil {
		return
	}
	e.reg.Touch(addr, pkt.Header.ProtocolVersion)

	if req.Flags == 0 {
		e.reg.Register(addr, registry.ModeAll, 0, [6]byte{})
	}
	if req.Flags&wire.RegisterSlot != 0 {
		e.reg.Register(addr, registry.ModeSlot, req.Slot, [6]byte{})
		if state, ok := e.store.Snapshot(int(req.Slot)); ok && state.Connected {
			e.advertised[int(req.Slot)] = true
		}
		if !e.loggedPadRequests[req.Slot] {
			e.loggedPadRequests[req.Slot] = true
			e.logger.Printf("registered input request from %s for slot %d", addr, req.Slot)
		}
	}
	if req.Flags&wire.RegisterMAC != 0 && req.MAC != ([6]byte{}) {
		e.reg.Register(addr, registry.ModeMAC, 0, req.MAC)
	}
	// pad data is emitted by the reconciliation pass, not here
}

func (e *Engine) handleMotorRequest(addr netip.AddrPort, pkt *wire.Packet) {
	slot, err := wire.ParseMotorRequest(pkt.Payload)
	if err != nil {
		return
	}
	info := e.reg.Touch(addr, pkt.Header.ProtocolVersion)
	if int(slot) >= constants.SoftSlotLimit {
		e.warnSlotLimit()
		return
	}

	state, ok := e.store.Snapshot(int(slot))
	if !ok || state.ConnectionType == -1 || !state.Connected || !e.advertised[int(slot)] {
		resp := e.encode(info.ProtocolVersion, constants.MsgMotor, wire.MotorDisconnectPayload(slot))
		e.send.Enqueue(resp, addr, "motor count (disconnected)")
		return
	}

	payload := wire.MotorResponsePayload(slot, state.ConnectionType, e.store.MAC(int(slot)),
		state.Battery, uint8(len(state.Motors)))
	e.send.Enqueue(e.encode(info.ProtocolVersion, constants.MsgMotor, payload), addr, "motor count")
}

func (e *Engine) handleMotorCommand(addr netip.AddrPort, pkt *wire.Packet) {
	cmd, err := wire.ParseMotorCommand(pkt.Payload)
	if err != nil {
		return
	}
	e.reg.Touch(addr, pkt.Header.ProtocolVersion)
	if _, ok := e.store.Snapshot(int(cmd.Slot)); !ok {
		return
	}
	if err := e.store.SetMotor(int(cmd.Slot), cmd.MotorID, cmd.Intensity); err != nil {
		return
	}
	e.logger.Debugf("rumble motor %d of slot %d set to %d", cmd.MotorID, cmd.Slot, cmd.Intensity)
}

// sendPortInfo advertises a slot to one client.
func (e *Engine) sendPortInfo(addr netip.AddrPort, protocolVersion uint16, slot int) {
	if slot >= constants.SoftSlotLimit {
		e.warnSlotLimit()
		return
	}
	state, ok := e.store.Snapshot(slot)
	if !ok {
		return
	}
	var payload []byte
	if state.ConnectionType == -1 {
		payload = make([]byte, wire.PortInfoSize)
	} else {
		payload = wire.PortInfoPayload(uint8(slot), state.ConnectionType, e.store.MAC(slot), state.Battery)
	}
	e.send.Enqueue(e.encode(protocolVersion, constants.MsgPortInfo, payload), addr, "port info")
	e.reg.MarkKnown(addr, slot)
}

// sendPortDisconnect reports a slot as gone. The payload keeps the slot
// byte so the client knows which controller disappeared.
func (e *Engine) sendPortDisconnect(addr netip.AddrPort, protocolVersion uint16, slot int) {
	if slot >= constants.SoftSlotLimit {
		e.warnSlotLimit()
		return
	}
	payload := wire.PortDisconnectPayload(uint8(slot))
	e.send.Enqueue(e.encode(protocolVersion, constants.MsgPortInfo, payload), addr, "port disconnect")
}

// sendInput emits one pad-data packet for a slot snapshot.
func (e *Engine) sendInput(addr netip.AddrPort, protocolVersion uint16, slot int, state pad.State) {
	resp := wire.ButtonResponse{
		Slot:            uint8(slot),
		ConnectionType:  state.ConnectionType,
		MAC:             e.store.MAC(slot),
		Battery:         state.Battery,
		Connected:       state.Connected,
		PacketNum:       state.PacketNum,
		Buttons1:        state.Buttons1,
		Buttons2:        state.Buttons2,
		Home:            state.Home,
		TouchButton:     state.TouchButton,
		LStickX:         state.LStickX,
		LStickY:         state.LStickY,
		RStickX:         state.RStickX,
		RStickY:         state.RStickY,
		DpadAnalog:      state.DpadAnalog,
		FaceAnalog:      state.FaceAnalog,
		AnalogR1:        state.AnalogR1,
		AnalogL1:        state.AnalogL1,
		AnalogR2:        state.AnalogR2,
		AnalogL2:        state.AnalogL2,
		Touch1:          wire.Touch(state.Touch1),
		Touch2:          wire.Touch(state.Touch2),
		MotionTimestamp: state.MotionTimestamp,
		Accel:           state.Accel,
		Gyro:            state.Gyro,
	}
	if resp.MotionTimestamp == 0 {
		resp.MotionTimestamp = uint64(e.clock.Now().UnixMicro())
	}
	e.send.Enqueue(e.encode(protocolVersion, constants.MsgPadData, resp.MarshalButtonResponse()),
		addr, "input")
}

// Reconcile is the periodic pass: expire clients, diff slot visibility,
// fan out pad data, then advance packet numbers and expire stale motors.
// Port-info transitions for all slots go out strictly before any pad
// data of the same pass.
func (e *Engine) Reconcile() {
	for _, addr := range e.reg.GC() {
		e.logger.Printf("client %s timed out", addr)
	}

	slots := e.store.Slots()
	snapshots := make(map[int]pad.State, len(slots))

	// phase 1: connection inference and port-info diffing
	for _, slot := range slots {
		state := e.store.UpdateConnection(slot)
		snapshots[slot] = state

		prevType, seen := e.prevConnectionTypes[slot]
		if !seen {
			prevType = state.ConnectionType
			e.prevConnectionTypes[slot] = prevType
		}

		if state.ConnectionType != prevType {
			e.prevConnectionTypes[slot] = state.ConnectionType
			if state.ConnectionType == -1 {
				e.dropSlot(slot)
				state.Connected = false
				snapshots[slot] = state
				continue
			}
			e.advertiseSlot(slot)
		}

		if state.ConnectionType != -1 && state.Connected && !e.advertised[slot] {
			e.advertiseSlot(slot)
		}
	}

	// phase 2: pad data for every subscribed client
	clients := e.reg.Addrs()
	for _, slot := range slots {
		state := snapshots[slot]
		if state.ConnectionType == -1 {
			continue
		}
		if slot >= constants.SoftSlotLimit {
			e.warnSlotLimit()
			continue
		}
		mac := e.store.MAC(slot)
		for _, addr := range clients {
			info := e.reg.Get(addr)
			if info == nil || !e.reg.Subscribed(addr, uint8(slot), mac) {
				continue
			}
			if !info.Knows(slot) {
				e.sendPortInfo(addr, info.ProtocolVersion, slot)
			}
			e.sendInput(addr, info.ProtocolVersion, slot, state)
		}
		e.logButtonChanges(slot, state)
	}

	// phase 3: bookkeeping for the next pass
	for _, slot := range slots {
		e.store.AdvancePacket(slot, e.ttl)
	}

	if e.observer != nil {
		e.observer.ObserveReconcile(len(slots), len(clients))
		e.observer.ObserveClientCount(e.reg.Len())
	}
}

// dropSlot handles the -1 transition: the slot vanishes from
// advertisements and every client hears a port disconnect.
func (e *Engine) dropSlot(slot int) {
	delete(e.advertised, slot)
	e.reg.ForgetSlot(slot)
	e.store.SetQuietConnected(slot, false)
	for _, addr := range e.reg.Addrs() {
		info := e.reg.Get(addr)
		if info == nil {
			continue
		}
		e.sendPortDisconnect(addr, info.ProtocolVersion, slot)
	}
}

// advertiseSlot broadcasts port info for a newly visible slot.
func (e *Engine) advertiseSlot(slot int) {
	e.advertised[slot] = true
	for _, addr := range e.reg.Addrs() {
		info := e.reg.Get(addr)
		if info == nil {
			continue
		}
		e.sendPortInfo(addr, info.ProtocolVersion, slot)
	}
}

// warnSlotLimit fires the over-255 warning a single time.
func (e *Engine) warnSlotLimit() {
	if e.warnedSlotLimit {
		return
	}
	e.warnedSlotLimit = true
	e.logger.Warnf("slots above 255 cannot be reported to the client")
}

// logButtonChanges logs button bytes once per change, not per packet.
func (e *Engine) logButtonChanges(slot int, state pad.State) {
	cur := [2]uint8{state.Buttons1, state.Buttons2}
	if e.lastButtons[slot] != cur {
		e.lastButtons[slot] = cur
		e.logger.Debugf("slot %d buttons1=0x%02X buttons2=0x%02X", slot, cur[0], cur[1])
	}
}
