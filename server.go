// Package dsuwu provides the main API for running a DSU (CemuHook UDP)
// input server: a UDP endpoint advertising virtual gamepad slots whose
// state is driven by pluggable input producers.
package dsuwu

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dsuwu/go-dsuwu/internal/constants"
	"github.com/dsuwu/go-dsuwu/internal/dispatch"
	"github.com/dsuwu/go-dsuwu/internal/engine"
	"github.com/dsuwu/go-dsuwu/internal/interfaces"
	"github.com/dsuwu/go-dsuwu/internal/logging"
	"github.com/dsuwu/go-dsuwu/internal/registry"
	"github.com/dsuwu/go-dsuwu/pad"
)

// Logger is the optional logging hook threaded through all components.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Observer receives operational events. *Metrics implements it.
type Observer interface {
	ObserveReceive(bytes int, valid bool)
	ObserveSend(bytes int, success bool)
	ObserveDrop(reason string)
	ObserveReconcile(slots int, clients int)
	ObserveClientCount(n int)
}

// Params contains parameters for starting a DSU server
type Params struct {
	// Network configuration
	Port     uint16 // UDP port; zero binds an ephemeral port
	BindAddr string // Bind address (default: "0.0.0.0")

	// ServerID is the 32-bit id stamped on every outgoing packet.
	// Zero means "pick a random one".
	ServerID uint32

	// UpdateTimeout bounds the latency between a producer write and the
	// outgoing packet when no socket traffic arrives. Zero applies the
	// 5ms default; negative disables the tick entirely so pad data flows
	// only when the slot store is marked dirty.
	UpdateTimeout time.Duration

	// Slots assigns a producer, the idle sentinel or nothing to each
	// slot, starting at slot 0.
	Slots []SlotSpec

	// Input tuning
	StickDeadzone uint8 // Idle-test stick tolerance (default: 3)
	MotorCount    int   // Rumble motors per slot (default: 2)

	// Hooks
	Logger   Logger
	Observer Observer
	Clock    clockwork.Clock // Tests inject a fake; nil means wall clock
}

// Server is a running DSU server instance
type Server struct {
	store *pad.Store
	sched *pad.ReleaseScheduler
	reg   *registry.Registry
	conn  *net.UDPConn

	cancel     context.CancelFunc
	producerWG sync.WaitGroup
	dispDone   chan struct{}
	sender     *dispatch.Sender
	logger     interfaces.Logger
	observer   Observer

	stopOnce sync.Once
}

// randomServerID derives a 32-bit server id from a random UUID.
func randomServerID() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}

// Start binds the UDP socket, spawns the producer tasks and launches the
// dispatch loop. The returned server runs until Stop is called or ctx is
// cancelled.
func Start(ctx context.Context, params Params) (*Server, error) {
	if params.BindAddr == "" {
		params.BindAddr = constants.DefaultBindAddr
	}
	if params.ServerID == 0 {
		params.ServerID = randomServerID()
	}
	updateTimeout := params.UpdateTimeout
	switch {
	case updateTimeout == 0:
		updateTimeout = constants.DefaultUpdateTimeout
	case updateTimeout < 0:
		updateTimeout = 0
	}
	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var logger interfaces.Logger
	if params.Logger != nil {
		logger = params.Logger
	} else {
		logger = logging.Default()
	}
	var observer interfaces.Observer
	if params.Observer != nil {
		observer = params.Observer
	}

	conn, err := dispatch.ListenUDP(params.BindAddr, params.Port)
	if err != nil {
		return nil, WrapError("BIND", ErrCodeBindFailed, err)
	}

	store := pad.NewStore(pad.StoreConfig{
		Deadzone:   params.StickDeadzone,
		MotorCount: params.MotorCount,
		Clock:      clock,
		Logger:     logger,
	})
	sched := pad.NewReleaseScheduler(clock)
	reg := registry.New(registry.Config{Clock: clock, Logger: logger})
	sender := dispatch.NewSender(dispatch.SenderConfig{
		Conn:     conn,
		Registry: reg,
		Logger:   logger,
		Observer: observer,
	})
	eng := engine.New(engine.Config{
		ServerID: params.ServerID,
		Store:    store,
		Registry: reg,
		Sender:   sender,
		Clock:    clock,
		Logger:   logger,
		Observer: observer,
	})
	disp := dispatch.New(dispatch.Config{
		Conn:          conn,
		Store:         store,
		Engine:        eng,
		Registry:      reg,
		UpdateTimeout: updateTimeout,
		Logger:        logger,
		Observer:      observer,
	})

	// seed the slot table before anything runs
	for slot, spec := range params.Slots {
		if err := store.Ensure(slot); err != nil {
			conn.Close()
			return nil, WrapError("ENSURE_SLOT", ErrCodeInvalidParameters, err)
		}
		if spec.MAC != "" {
			if err := store.SetMACString(slot, spec.MAC); err != nil {
				conn.Close()
				return nil, WrapError("SET_MAC", ErrCodeInvalidParameters, err)
			}
		}
		if spec.Idle {
			if err := store.SetIdle(slot, true); err != nil {
				conn.Close()
				return nil, WrapError("SET_IDLE", ErrCodeInvalidParameters, err)
			}
			eng.SetAdvertised(slot)
		}
	}
	store.ClearDirty()

	runCtx, cancel := context.WithCancel(ctx)
	srv := &Server{
		store:    store,
		sched:    sched,
		reg:      reg,
		conn:     conn,
		cancel:   cancel,
		dispDone: make(chan struct{}),
		sender:   sender,
		logger:   logger,
		observer: params.Observer,
	}

	sched.Start()
	sender.Start()
	go func() {
		disp.Run(runCtx)
		close(srv.dispDone)
	}()

	for slot, spec := range params.Slots {
		if spec.Producer == nil {
			continue
		}
		// hand producers the process-wide release scheduler when they
		// can take one
		if ps, ok := spec.Producer.(interface {
			SetScheduler(*pad.ReleaseScheduler)
		}); ok {
			ps.SetScheduler(sched)
		}
		srv.producerWG.Add(1)
		go func(slot int, p Producer) {
			defer srv.producerWG.Done()
			if err := p.Run(runCtx, store, slot); err != nil && runCtx.Err() == nil {
				logger.Warnf("producer for slot %d exited: %v", slot, err)
			}
		}(slot, spec.Producer)
	}

	if m, ok := params.Observer.(*Metrics); ok {
		m.RecordStart()
	}
	logger.Printf("DSU server listening on %s", conn.LocalAddr())
	return srv, nil
}

// Pads returns the shared slot store. Embedding programs drive slots
// through it the same way producers do.
func (s *Server) Pads() *pad.Store {
	return s.store
}

// Scheduler returns the release scheduler backing the pulse helpers.
func (s *Server) Scheduler() *pad.ReleaseScheduler {
	return s.sched
}

// Addr returns the bound socket address, useful when Port was 0.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Done is closed once the dispatch loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.dispDone
}

// Stop shuts the server down: producers are signalled and joined, the
// dispatcher drains the inbound socket once and exits, the sender
// flushes its queue, and only then does the socket close.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.producerWG.Wait()
		<-s.dispDone
		s.sender.Stop()
		s.conn.Close()
		s.sched.Stop()
		if m, ok := s.observer.(*Metrics); ok {
			m.RecordStop()
		}
		s.logger.Printf("DSU server stopped")
	})
}
