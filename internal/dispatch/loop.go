package dispatch

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/engine"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
	"github.com/dsuwu/go-dsuwu/internal/registry"
	"github.com/dsuwu/go-dsuwu/internal/wire"
	"github.com/dsuwu/go-dsuwu/pad"
)

// ReadConn is the inbound half of the UDP socket.
type ReadConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// recvResult is one datagram (or read error) handed from the socket
// reader to the dispatcher.
type recvResult struct {
	data []byte
	addr netip.AddrPort
	err  error
}

// Config configures the dispatcher loop.
type Config struct {
	Conn     ReadConn
	Store    *pad.Store
	Engine   *engine.Engine
	Registry *registry.Registry

	// UpdateTimeout bounds producer-write-to-packet latency when the
	// socket is quiet. Zero disables the tick: reconciliation then runs
	// only on dirty state. Inbound traffic still wakes the loop and is
	// answered, but does not start a reconciliation pass.
	UpdateTimeout time.Duration

	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Dispatcher is the single task owning the UDP socket. A small reader
// goroutine turns blocking socket reads into channel sends (the Go shape
// of a self-pipe wake); the loop itself multiplexes inbound packets, the
// store's dirty signal, the update tick and cancellation.
type Dispatcher struct {
	conn          ReadConn
	store         *pad.Store
	engine        *engine.Engine
	reg           *registry.Registry
	updateTimeout time.Duration
	logger        interfaces.Logger
	observer      interfaces.Observer

	packets chan recvResult
}

// New creates a dispatcher.
func New(config Config) *Dispatcher {
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	return &Dispatcher{
		conn:          config.Conn,
		store:         config.Store,
		engine:        config.Engine,
		reg:           config.Registry,
		updateTimeout: config.UpdateTimeout,
		logger:        config.Logger,
		observer:      config.Observer,
		packets:       make(chan recvResult, 64),
	}
}

// Run executes the dispatch loop until ctx is cancelled. The caller
// closes the socket afterwards, once the send queue has drained; closing
// it also unblocks the reader goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	go d.readLoop(ctx)

	var tick <-chan time.Time
	var ticker *time.Ticker
	if d.updateTimeout > 0 {
		ticker = time.NewTicker(d.updateTimeout)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			d.drainInbound()
			return
		case r := <-d.packets:
			d.handleRecv(r)
		case <-d.store.Dirty():
			d.reconcile()
		case <-tick:
			d.reconcile()
		}
	}
}

// readLoop blocks on the socket and forwards datagrams to the loop.
func (d *Dispatcher) readLoop(ctx context.Context) {
	buf := make([]byte, constants.MaxDatagramSize)
	for {
		n, addr, err := d.conn.ReadFromUDPAddrPort(buf)
		var r recvResult
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r = recvResult{err: err}
		} else {
			data := make([]byte, n)
			copy(data, buf[:n])
			r = recvResult{data: data, addr: addr}
		}
		select {
		case d.packets <- r:
		case <-ctx.Done():
			return
		}
	}
}

// handleRecv validates one inbound datagram and hands it to the engine.
func (d *Dispatcher) handleRecv(r recvResult) {
	if r.err != nil {
		// A reset means some previous send bounced; per-client
		// attribution is impossible on a shared UDP socket, so the
		// whole client table flushes and clients re-subscribe.
		if errors.Is(r.err, syscall.ECONNRESET) {
			n := d.reg.Clear()
			d.logger.Warnf("connection reset on receive, flushed %d clients", n)
			return
		}
		d.logger.Warnf("receive error: %v", r.err)
		return
	}

	pkt, err := wire.Parse(r.data, wire.MagicClient)
	if err != nil {
		if d.observer != nil {
			d.observer.ObserveReceive(len(r.data), false)
		}
		return
	}
	if d.observer != nil {
		d.observer.ObserveReceive(len(r.data), true)
	}
	d.engine.HandlePacket(r.addr, pkt)
}

// drainInbound empties whatever the reader already queued, so packets
// received before cancellation still get handled once.
func (d *Dispatcher) drainInbound() {
	for {
		select {
		case r := <-d.packets:
			d.handleRecv(r)
		default:
			return
		}
	}
}

// reconcile runs one engine pass and folds the dirty signal.
func (d *Dispatcher) reconcile() {
	d.engine.Reconcile()
	d.store.ClearDirty()
}
