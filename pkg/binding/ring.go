package binding

import (
	"io"
	"sync"
)

// ring is a bounded packet queue with preallocated slots. Reader
// goroutines push into it and TryRecv pops without blocking.
type ring struct {
	mu    sync.Mutex
	slots [][]byte
	lens  []int
	head  int
	count int
}

func newRing(depth, size int) *ring {
	if depth < 1 {
		depth = 1
	}
	if size < 1 {
		size = 1
	}
	r := &ring{
		slots: make([][]byte, depth),
		lens:  make([]int, depth),
	}
	for i := range r.slots {
		r.slots[i] = make([]byte, size)
	}
	return r
}

// push copies pkt into the queue. Returns false when full or too long.
func (r *ring) push(pkt []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.slots) || len(pkt) > r.size() {
		return false
	}
	i := (r.head + r.count) % len(r.slots)
	r.lens[i] = copy(r.slots[i], pkt)
	r.count++
	return true
}

// pop copies the oldest packet into buf. A packet that does not fit in
// buf is dropped and io.ErrShortBuffer returned.
func (r *ring) pop(buf []byte) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0, false, nil
	}
	i := r.head
	r.head = (r.head + 1) % len(r.slots)
	r.count--

	n := r.lens[i]
	if n > len(buf) {
		return 0, false, io.ErrShortBuffer
	}
	copy(buf, r.slots[i][:n])
	return n, true, nil
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// size returns the largest packet the ring accepts
func (r *ring) size() int {
	return len(r.slots[0])
}
