package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/internal/logger"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/reassembly"
	"avaneesh/mctp-go/pkg/routing"
)

var (
	ErrInvalidConfig = errors.New("invalid router configuration")
	ErrInvalidEID    = errors.New("invalid local endpoint ID")
	ErrBusy          = errors.New("router busy")
	ErrNoTag         = errors.New("no free message tag")
	ErrBadCookie     = errors.New("invalid handle cookie")
	ErrAddrInUse     = errors.New("message type already has a listener")
	ErrNoSpace       = errors.New("no free handle")
)

// Handler receives completed local messages.
// The payload is a view into router memory and is only valid during the call.
type Handler interface {
	OnMessage(source packet.EID, tag packet.Tag, payload []byte)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(source packet.EID, tag packet.Tag, payload []byte)

// OnMessage calls f
func (f HandlerFunc) OnMessage(source packet.EID, tag packet.Tag, payload []byte) {
	f(source, tag, payload)
}

// busLister is implemented by transports that know their attached buses
type busLister interface {
	Buses() []binding.BusHandle
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the router logger
func WithLogger(log logger.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithBuses fixes the set of buses Poll drains. Without it, Poll asks the
// transport for its buses when it implements Buses().
func WithBuses(buses ...binding.BusHandle) Option {
	return func(r *Router) {
		list := append([]binding.BusHandle(nil), buses...)
		r.buses.Store(&list)
	}
}

// Router ties the packet codec, reassembly and routing tables to a transport.
// It starts no goroutines; the owner drives it through Poll, Inbound and Tick.
type Router struct {
	config    Config
	tr        binding.Transport
	addressed binding.AddressedTransport
	logger    logger.Logger

	reasm  *reassembly.Table
	routes *routing.Table

	eid   atomic.Uint32
	buses atomic.Pointer[[]binding.BusHandle]

	// Handles (guarded by handleMu)
	handleMu  sync.Mutex
	handler   Handler
	listeners []listener
	requests  []request
	nextTag   uint8

	// Outbound packet buffer (guarded by txMu)
	txMu  sync.Mutex
	txBuf []byte

	// Poll receive buffer (guarded by rxMu)
	rxMu  sync.Mutex
	rxBuf []byte

	stats *Statistics
}

// New creates a router over tr. All tables and buffers are allocated here.
func New(cfg Config, tr binding.Transport, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}

	reasm, err := reassembly.New(cfg.Reassembly)
	if err != nil {
		return nil, err
	}
	routes, err := routing.New(cfg.RouteCapacity, cfg.LocalCapacity)
	if err != nil {
		return nil, err
	}

	r := &Router{
		config:    cfg,
		tr:        tr,
		logger:    logger.NewNoOpLogger(),
		reasm:     reasm,
		routes:    routes,
		listeners: make([]listener, cfg.Listeners),
		requests:  make([]request, cfg.Requests),
		txBuf:     make([]byte, packet.HeaderSize+cfg.MTU),
		rxBuf:     make([]byte, cfg.RxBufferSize),
		stats:     NewStatistics(),
	}
	if at, ok := tr.(binding.AddressedTransport); ok {
		r.addressed = at
	}
	r.eid.Store(uint32(cfg.LocalEID))

	for _, opt := range opts {
		opt(r)
	}

	r.logger.Info("Router: created, EID %s, MTU %d, %d reassembly slots",
		cfg.LocalEID, cfg.MTU, cfg.Reassembly.Slots)
	return r, nil
}

// Config returns the router configuration
func (r *Router) Config() Config {
	return r.config
}

// Routes returns the routing table for registration
func (r *Router) Routes() *routing.Table {
	return r.routes
}

// Reassembly returns the reassembly table
func (r *Router) Reassembly() *reassembly.Table {
	return r.reasm
}

// Statistics returns router statistics
func (r *Router) Statistics() *Statistics {
	return r.stats
}

// EID returns the local endpoint ID
func (r *Router) EID() packet.EID {
	return packet.EID(r.eid.Load())
}

// SetEID assigns the local endpoint ID. Null clears the assignment.
func (r *Router) SetEID(eid packet.EID) error {
	if eid == packet.EIDBroadcast {
		return fmt.Errorf("%w: %s", ErrInvalidEID, eid)
	}
	old := packet.EID(r.eid.Swap(uint32(eid)))
	if old != eid {
		r.logger.Info("Router: EID changed %s -> %s", old, eid)
	}
	return nil
}

// SetHandler sets the default handler for local messages that match no
// listener or request
func (r *Router) SetHandler(h Handler) error {
	if !r.handleMu.TryLock() {
		return ErrBusy
	}
	defer r.handleMu.Unlock()
	r.handler = h
	return nil
}

// AttachBus adds a bus to the set drained by Poll
func (r *Router) AttachBus(bus binding.BusHandle) {
	for {
		old := r.buses.Load()
		var list []binding.BusHandle
		if old != nil {
			for _, b := range *old {
				if b == bus {
					return
				}
			}
			list = append(list, *old...)
		}
		list = append(list, bus)
		if r.buses.CompareAndSwap(old, &list) {
			return
		}
	}
}

// DetachBus stops polling bus and removes every route through it.
// Returns the number of routes removed.
func (r *Router) DetachBus(bus binding.BusHandle) (int, error) {
	for {
		old := r.buses.Load()
		if old == nil {
			break
		}
		list := make([]binding.BusHandle, 0, len(*old))
		for _, b := range *old {
			if b != bus {
				list = append(list, b)
			}
		}
		if r.buses.CompareAndSwap(old, &list) {
			break
		}
	}

	n, err := r.routes.UnregisterBus(bus)
	if err != nil {
		return 0, r.busy(err)
	}
	return n, nil
}

// pollBuses returns the buses Poll should drain
func (r *Router) pollBuses() []binding.BusHandle {
	if list := r.buses.Load(); list != nil {
		return *list
	}
	if bl, ok := r.tr.(busLister); ok {
		return bl.Buses()
	}
	return nil
}

// isLocal reports whether dest is addressed to this node
func (r *Router) isLocal(dest packet.EID) (bool, error) {
	if dest == packet.EIDNull || dest == packet.EIDBroadcast || dest == r.EID() {
		return true, nil
	}
	return r.routes.IsLocal(dest)
}

// busy counts a contended guard and maps table busy errors to ErrBusy
func (r *Router) busy(err error) error {
	if errors.Is(err, routing.ErrBusy) || errors.Is(err, reassembly.ErrBusy) || errors.Is(err, ErrBusy) {
		r.stats.busy.Add(1)
		if errors.Is(err, ErrBusy) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
