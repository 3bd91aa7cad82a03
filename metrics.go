package dsuwu

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a DSU server. It implements
// the dispatcher's observer hooks, so wiring it up is just passing it in
// Params.
type Metrics struct {
	// Packet counters
	PacketsReceived  atomic.Uint64 // Validated inbound packets
	PacketsSent      atomic.Uint64 // Successful sends
	MalformedPackets atomic.Uint64 // Inbound packets that failed validation
	SendFailures     atomic.Uint64 // OS-level send errors
	DroppedPackets   atomic.Uint64 // Packets dropped before the wire (queue overflow, unknown type)

	// Byte counters
	BytesReceived atomic.Uint64
	BytesSent     atomic.Uint64

	// Dispatch statistics
	ReconcilePasses atomic.Uint64
	ActiveClients   atomic.Int64 // Gauge: clients tracked after the last pass

	// Server lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordStart marks the server start time
func (m *Metrics) RecordStart() {
	m.StartTime.Store(time.Now().UnixNano())
}

// RecordStop marks the server stop time
func (m *Metrics) RecordStop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// ObserveReceive records one inbound datagram
func (m *Metrics) ObserveReceive(bytes int, valid bool) {
	m.BytesReceived.Add(uint64(bytes))
	if valid {
		m.PacketsReceived.Add(1)
	} else {
		m.MalformedPackets.Add(1)
	}
}

// ObserveSend records one outbound send attempt
func (m *Metrics) ObserveSend(bytes int, success bool) {
	if success {
		m.PacketsSent.Add(1)
		m.BytesSent.Add(uint64(bytes))
	} else {
		m.SendFailures.Add(1)
	}
}

// ObserveDrop records a packet discarded before reaching the wire
func (m *Metrics) ObserveDrop(reason string) {
	m.DroppedPackets.Add(1)
}

// ObserveReconcile records one reconciliation pass
func (m *Metrics) ObserveReconcile(slots int, clients int) {
	m.ReconcilePasses.Add(1)
}

// ObserveClientCount updates the active client gauge
func (m *Metrics) ObserveClientCount(n int) {
	m.ActiveClients.Store(int64(n))
}

// MetricsSnapshot is a point-in-time copy for display
type MetricsSnapshot struct {
	PacketsReceived  uint64
	PacketsSent      uint64
	MalformedPackets uint64
	SendFailures     uint64
	DroppedPackets   uint64
	BytesReceived    uint64
	BytesSent        uint64
	ReconcilePasses  uint64
	ActiveClients    int64
	Uptime           time.Duration
}

// Snapshot returns a consistent view of the counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsReceived:  m.PacketsReceived.Load(),
		PacketsSent:      m.PacketsSent.Load(),
		MalformedPackets: m.MalformedPackets.Load(),
		SendFailures:     m.SendFailures.Load(),
		DroppedPackets:   m.DroppedPackets.Load(),
		BytesReceived:    m.BytesReceived.Load(),
		BytesSent:        m.BytesSent.Load(),
		ReconcilePasses:  m.ReconcilePasses.Load(),
		ActiveClients:    m.ActiveClients.Load(),
	}

	start := m.StartTime.Load()
	if start != 0 {
		stop := m.StopTime.Load()
		if stop == 0 {
			stop = time.Now().UnixNano()
		}
		snap.Uptime = time.Duration(stop - start)
	}

	return snap
}
