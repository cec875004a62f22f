package router

import "sync/atomic"

// Statistics tracks router metrics
type Statistics struct {
	rxPackets    atomic.Uint64
	recvErrors   atomic.Uint64
	decodeErrors atomic.Uint64

	tableFull      atomic.Uint64
	sequenceErrors atomic.Uint64
	overflows      atomic.Uint64
	timeouts       atomic.Uint64

	delivered   atomic.Uint64
	bridged     atomic.Uint64
	bridgeLoops atomic.Uint64
	notLocal    atomic.Uint64
	noHandler   atomic.Uint64
	tagTimeouts atomic.Uint64

	txPackets    atomic.Uint64
	txMessages   atomic.Uint64
	sendFailures atomic.Uint64

	busy atomic.Uint64
}

// Snapshot is a point-in-time copy of router statistics
type Snapshot struct {
	RxPackets    uint64 // Packets handed to the router
	RecvErrors   uint64 // Transport receive errors during Poll
	DecodeErrors uint64 // Packets dropped by the header decoder

	TableFull      uint64 // Start of message dropped, no free reassembly slot
	SequenceErrors uint64 // Messages abandoned on a sequence mismatch
	Overflows      uint64 // Messages abandoned for exceeding the buffer
	Timeouts       uint64 // Messages abandoned by reassembly timeout

	Delivered   uint64 // Messages passed to a handler
	Bridged     uint64 // Messages forwarded to another endpoint
	BridgeLoops uint64 // Bridged messages dropped because the route led back out the ingress bus
	NotLocal    uint64 // Messages for other endpoints dropped without bridging
	NoHandler   uint64 // Local messages with no matching handler
	TagTimeouts uint64 // Request tags released without a response

	TxPackets    uint64 // Packets sent
	TxMessages   uint64 // Messages fully sent
	SendFailures uint64 // Messages that failed on a transport error

	Busy uint64 // Operations refused on a contended guard
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		RxPackets:      s.rxPackets.Load(),
		RecvErrors:     s.recvErrors.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		TableFull:      s.tableFull.Load(),
		SequenceErrors: s.sequenceErrors.Load(),
		Overflows:      s.overflows.Load(),
		Timeouts:       s.timeouts.Load(),
		Delivered:      s.delivered.Load(),
		Bridged:        s.bridged.Load(),
		BridgeLoops:    s.bridgeLoops.Load(),
		NotLocal:       s.notLocal.Load(),
		NoHandler:      s.noHandler.Load(),
		TagTimeouts:    s.tagTimeouts.Load(),
		TxPackets:      s.txPackets.Load(),
		TxMessages:     s.txMessages.Load(),
		SendFailures:   s.sendFailures.Load(),
		Busy:           s.busy.Load(),
	}
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	s.rxPackets.Store(0)
	s.recvErrors.Store(0)
	s.decodeErrors.Store(0)
	s.tableFull.Store(0)
	s.sequenceErrors.Store(0)
	s.overflows.Store(0)
	s.timeouts.Store(0)
	s.delivered.Store(0)
	s.bridged.Store(0)
	s.bridgeLoops.Store(0)
	s.notLocal.Store(0)
	s.noHandler.Store(0)
	s.tagTimeouts.Store(0)
	s.txPackets.Store(0)
	s.txMessages.Store(0)
	s.sendFailures.Store(0)
	s.busy.Store(0)
}
