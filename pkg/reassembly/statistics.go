package reassembly

import "sync/atomic"

// Statistics tracks reassembly metrics
type Statistics struct {
	packets   atomic.Uint64
	completed atomic.Uint64
	restarts  atomic.Uint64
	ignored   atomic.Uint64

	tableFull      atomic.Uint64
	sequenceErrors atomic.Uint64
	overflows      atomic.Uint64
	timeouts       atomic.Uint64
}

// Snapshot is a point-in-time copy of Statistics
type Snapshot struct {
	Packets        uint64 // Packets accepted into a context
	Completed      uint64 // Messages completed and delivered
	Restarts       uint64 // Active contexts replaced by a new SOM
	Ignored        uint64 // Continuation packets with no matching context
	TableFull      uint64 // SOM packets dropped for lack of a free slot
	SequenceErrors uint64 // Contexts evicted on sequence mismatch
	Overflows      uint64 // Contexts evicted for exceeding the buffer
	Timeouts       uint64 // Contexts evicted by AgeTick
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// GetPackets returns accepted packet count
func (s *Statistics) GetPackets() uint64 {
	return s.packets.Load()
}

// GetCompleted returns completed message count
func (s *Statistics) GetCompleted() uint64 {
	return s.completed.Load()
}

// GetRestarts returns restarted context count
func (s *Statistics) GetRestarts() uint64 {
	return s.restarts.Load()
}

// GetIgnored returns ignored packet count
func (s *Statistics) GetIgnored() uint64 {
	return s.ignored.Load()
}

// GetTableFull returns table full count
func (s *Statistics) GetTableFull() uint64 {
	return s.tableFull.Load()
}

// GetSequenceErrors returns sequence error count
func (s *Statistics) GetSequenceErrors() uint64 {
	return s.sequenceErrors.Load()
}

// GetOverflows returns buffer overflow count
func (s *Statistics) GetOverflows() uint64 {
	return s.overflows.Load()
}

// GetTimeouts returns timeout count
func (s *Statistics) GetTimeouts() uint64 {
	return s.timeouts.Load()
}

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Packets:        s.packets.Load(),
		Completed:      s.completed.Load(),
		Restarts:       s.restarts.Load(),
		Ignored:        s.ignored.Load(),
		TableFull:      s.tableFull.Load(),
		SequenceErrors: s.sequenceErrors.Load(),
		Overflows:      s.overflows.Load(),
		Timeouts:       s.timeouts.Load(),
	}
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	s.packets.Store(0)
	s.completed.Store(0)
	s.restarts.Store(0)
	s.ignored.Store(0)
	s.tableFull.Store(0)
	s.sequenceErrors.Store(0)
	s.overflows.Store(0)
	s.timeouts.Store(0)
}
