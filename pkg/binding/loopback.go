package binding

import (
	"sync/atomic"
)

// Loopback is an in-memory link. Packets sent on one end of a pair are
// received on the other.
type Loopback struct {
	rx     *ring
	peer   *Loopback
	stats  linkStats
	closed atomic.Bool
}

// NewLoopbackPair creates two connected loopback links. Each end queues
// up to depth packets of at most size bytes.
func NewLoopbackPair(depth, size int) (*Loopback, *Loopback) {
	a := &Loopback{rx: newRing(depth, size)}
	b := &Loopback{rx: newRing(depth, size)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements Link.Send.
// Returns ErrWouldBlock when the peer's queue is full.
func (l *Loopback) Send(pkt []byte) error {
	if l.closed.Load() || l.peer.closed.Load() {
		l.stats.writeErrors.Add(1)
		return ErrClosed
	}
	if len(pkt) > l.peer.rx.size() {
		l.stats.writeErrors.Add(1)
		return ErrPacketTooBig
	}
	if !l.peer.rx.push(pkt) {
		l.peer.stats.overruns.Add(1)
		return ErrWouldBlock
	}
	l.stats.sent(len(pkt))
	l.peer.stats.received(len(pkt))
	return nil
}

// TryRecv implements Link.TryRecv
func (l *Loopback) TryRecv(buf []byte) (int, bool, error) {
	if l.closed.Load() {
		return 0, false, ErrClosed
	}
	n, ok, err := l.rx.pop(buf)
	if err != nil {
		l.stats.readErrors.Add(1)
	}
	return n, ok, err
}

// Pending returns the number of packets waiting in the receive queue
func (l *Loopback) Pending() int {
	return l.rx.len()
}

// Close implements Link.Close
func (l *Loopback) Close() error {
	l.closed.Store(true)
	return nil
}

// Statistics implements Link.Statistics
func (l *Loopback) Statistics() Stats {
	return l.stats.snapshot()
}
