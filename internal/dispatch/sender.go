// Package dispatch owns the UDP socket: the readiness-driven main loop
// that demultiplexes inbound requests, dirty-state wake-ups and the
// update tick, and the asynchronous send queue that keeps protocol
// handlers off the network.
package dispatch

import (
	"context"
	"net/netip"
	"time"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
)

// WriteConn is the outbound half of the UDP socket.
type WriteConn interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Dropper evicts a client after a send failure. Implemented by the
// client registry.
type Dropper interface {
	Drop(addr netip.AddrPort) bool
}

// queueItem is one outbound packet with a description for failure logs.
type queueItem struct {
	pkt  []byte
	addr netip.AddrPort
	desc string
}

// senderDrainTimeout bounds how long Stop waits for queued packets to
// flush before giving up.
const senderDrainTimeout = 250 * time.Millisecond

// SenderConfig configures the send queue.
type SenderConfig struct {
	Conn     WriteConn
	Registry Dropper
	Depth    int
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Sender is the bounded outbound queue. Any goroutine enqueues; one
// worker calls sendto. An OS-level send error drops the packet, logs at
// warn and removes the destination client.
type Sender struct {
	conn     WriteConn
	reg      Dropper
	items    chan queueItem
	logger   interfaces.Logger
	observer interfaces.Observer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a send queue.
func NewSender(config SenderConfig) *Sender {
	if config.Depth <= 0 {
		config.Depth = constants.SendQueueDepth
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		conn:     config.Conn,
		reg:      config.Registry,
		items:    make(chan queueItem, config.Depth),
		logger:   config.Logger,
		observer: config.Observer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (s *Sender) Start() {
	go s.run()
}

// Stop cancels the worker, lets it flush the queue for a short grace
// period, and waits for it to exit.
func (s *Sender) Stop() {
	s.cancel()
	<-s.done
}

// Enqueue queues a packet without ever blocking the caller. When the
// queue is full the oldest packet is discarded so the dispatcher never
// stalls past its update timeout.
func (s *Sender) Enqueue(pkt []byte, addr netip.AddrPort, desc string) {
	for {
		select {
		case s.items <- queueItem{pkt: pkt, addr: addr, desc: desc}:
			return
		default:
		}
		select {
		case old := <-s.items:
			s.logger.Warnf("send queue full, dropping %s to %s", old.desc, old.addr)
			if s.observer != nil {
				s.observer.ObserveDrop("send queue full")
			}
		default:
		}
	}
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case item := <-s.items:
			s.write(item)
		}
	}
}

// drain flushes whatever is queued at shutdown, bounded by the grace
// timeout.
func (s *Sender) drain() {
	deadline := time.NewTimer(senderDrainTimeout)
	defer deadline.Stop()
	for {
		select {
		case item := <-s.items:
			s.write(item)
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

func (s *Sender) write(item queueItem) {
	n, err := s.conn.WriteToUDPAddrPort(item.pkt, item.addr)
	if err != nil {
		s.logger.Warnf("failed to send %s to %s: %v", item.desc, item.addr, err)
		if s.reg != nil && s.reg.Drop(item.addr) {
			s.logger.Printf("removed client %s after send failure", item.addr)
		}
		if s.observer != nil {
			s.observer.ObserveSend(len(item.pkt), false)
		}
		return
	}
	if s.observer != nil {
		s.observer.ObserveSend(n, true)
	}
}
