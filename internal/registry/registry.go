// Package registry tracks DSU clients: when they were last heard from,
// which slots they have been told about, and which registrations
// (wildcard, per-slot, per-MAC) they hold. Registrations and clients
// share the same TTL; clients poll roughly every second, so anything
// silent past the timeout is gone.
package registry

import (
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
)

// Mode selects which registration a pad-data request establishes.
type Mode int

const (
	// ModeAll is the wildcard subscription (flags byte zero).
	ModeAll Mode = iota
	// ModeSlot subscribes to one slot (flags bit 0x01).
	ModeSlot
	// ModeMAC subscribes to one controller MAC (flags bit 0x02).
	ModeMAC
)

// ClientInfo is the per-remote-address state.
type ClientInfo struct {
	LastSeen time.Time

	// KnownSlots records the slots this client has been informed about,
	// so a port-info always precedes the first pad data for a slot.
	KnownSlots map[int]struct{}

	// Registration timestamps. The zero time means never registered.
	RegAll   time.Time
	RegSlots map[uint8]time.Time
	RegMACs  map[[6]byte]time.Time

	// ProtocolVersion is the negotiated version echoed back in response
	// headers: min(client's version, ours).
	ProtocolVersion uint16
}

// Knows reports whether the client has been informed about slot.
func (c *ClientInfo) Knows(slot int) bool {
	_, ok := c.KnownSlots[slot]
	return ok
}

// Config configures a client registry.
type Config struct {
	TTL    time.Duration
	Clock  clockwork.Clock
	Logger interfaces.Logger
}

// Registry is the client table. The dispatcher is the only writer apart
// from Drop, which the sender calls on send failure, so access is
// serialized with a mutex.
type Registry struct {
	mu      sync.Mutex
	clients map[netip.AddrPort]*ClientInfo

	ttl    time.Duration
	clock  clockwork.Clock
	logger interfaces.Logger
}

// New creates an empty registry.
func New(config Config) *Registry {
	if config.TTL <= 0 {
		config.TTL = constants.DSUTimeout
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	return &Registry{
		clients: make(map[netip.AddrPort]*ClientInfo),
		ttl:     config.TTL,
		clock:   config.Clock,
		logger:  config.Logger,
	}
}

// Touch creates or refreshes the client and returns its info. The
// negotiated protocol version is capped at what the server speaks.
func (r *Registry) Touch(addr netip.AddrPort, protocolVersion uint16) *ClientInfo {
	if protocolVersion > constants.ProtocolVersion {
		protocolVersion = constants.ProtocolVersion
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		info = &ClientInfo{
			KnownSlots: make(map[int]struct{}),
			RegSlots:   make(map[uint8]time.Time),
			RegMACs:    make(map[[6]byte]time.Time),
		}
		r.clients[addr] = info
		r.logger.Debugf("new client %s", addr)
	}
	info.LastSeen = r.clock.Now()
	info.ProtocolVersion = protocolVersion
	return info
}

// Get returns the client's info, or nil if unknown.
func (r *Registry) Get(addr netip.AddrPort) *ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[addr]
}

// Register stamps the given registration with the current time. Unknown
// clients are ignored; handlers Touch first.
func (r *Registry) Register(addr netip.AddrPort, mode Mode, slot uint8, mac [6]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		return
	}
	now := r.clock.Now()
	switch mode {
	case ModeAll:
		info.RegAll = now
	case ModeSlot:
		info.RegSlots[slot] = now
	case ModeMAC:
		info.RegMACs[mac] = now
	}
}

// MarkKnown records that the client has been informed about slot.
func (r *Registry) MarkKnown(addr netip.AddrPort, slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.clients[addr]; ok {
		info.KnownSlots[slot] = struct{}{}
	}
}

// ForgetSlot removes slot from every client's known set, so the next
// advertisement after a reconnect goes out again.
func (r *Registry) ForgetSlot(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range r.clients {
		delete(info.KnownSlots, slot)
	}
}

// Subscribed reports whether the client holds a live registration
// covering slot or mac.
func (r *Registry) Subscribed(addr netip.AddrPort, slot uint8, mac [6]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		return false
	}
	now := r.clock.Now()
	if !info.RegAll.IsZero() && now.Sub(info.RegAll) <= r.ttl {
		return true
	}
	if at, ok := info.RegSlots[slot]; ok && now.Sub(at) <= r.ttl {
		return true
	}
	if at, ok := info.RegMACs[mac]; ok && now.Sub(at) <= r.ttl {
		return true
	}
	return false
}

// GC evicts clients silent past the TTL and prunes expired registration
// entries from the survivors. Evicted addresses are returned for logging.
func (r *Registry) GC() []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var evicted []netip.AddrPort
	for addr, info := range r.clients {
		if now.Sub(info.LastSeen) > r.ttl {
			delete(r.clients, addr)
			evicted = append(evicted, addr)
			continue
		}
		if !info.RegAll.IsZero() && now.Sub(info.RegAll) > r.ttl {
			info.RegAll = time.Time{}
		}
		for slot, at := range info.RegSlots {
			if now.Sub(at) > r.ttl {
				delete(info.RegSlots, slot)
			}
		}
		for mac, at := range info.RegMACs {
			if now.Sub(at) > r.ttl {
				delete(info.RegMACs, mac)
			}
		}
	}
	return evicted
}

// Drop removes a client, typically after a send failure. Reports whether
// it was present.
func (r *Registry) Drop(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[addr]; !ok {
		return false
	}
	delete(r.clients, addr)
	return true
}

// Clear flushes the whole table. Used when the OS reports a connection
// reset on the shared socket and per-client attribution is impossible.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.clients)
	r.clients = make(map[netip.AddrPort]*ClientInfo)
	return n
}

// Addrs returns the addresses of all current clients.
func (r *Registry) Addrs() []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]netip.AddrPort, 0, len(r.clients))
	for addr := range r.clients {
		out = append(out, addr)
	}
	return out
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
