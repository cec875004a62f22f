package binding

import "sync/atomic"

// Stats provides link level statistics
type Stats struct {
	BytesSent       uint64 // Total bytes sent
	BytesReceived   uint64 // Total bytes received
	PacketsSent     uint64 // Packets handed to the medium
	PacketsReceived uint64 // Packets queued for TryRecv
	WriteErrors     uint64 // Number of write errors
	ReadErrors      uint64 // Number of read or framing errors
	Overruns        uint64 // Packets dropped because the receive queue was full
	Connects        uint64 // Number of connections (for connection-oriented links)
	Disconnects     uint64 // Number of disconnections
}

// linkStats is the atomic form of Stats embedded in each link
type linkStats struct {
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	writeErrors     atomic.Uint64
	readErrors      atomic.Uint64
	overruns        atomic.Uint64
	connects        atomic.Uint64
	disconnects     atomic.Uint64
}

func (s *linkStats) sent(n int) {
	s.bytesSent.Add(uint64(n))
	s.packetsSent.Add(1)
}

func (s *linkStats) received(n int) {
	s.bytesReceived.Add(uint64(n))
	s.packetsReceived.Add(1)
}

func (s *linkStats) snapshot() Stats {
	return Stats{
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		WriteErrors:     s.writeErrors.Load(),
		ReadErrors:      s.readErrors.Load(),
		Overruns:        s.overruns.Load(),
		Connects:        s.connects.Load(),
		Disconnects:     s.disconnects.Load(),
	}
}
