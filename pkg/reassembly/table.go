package reassembly

import (
	"errors"
	"fmt"
	"sync"

	"avaneesh/mctp-go/pkg/packet"
)

var (
	ErrTableFull        = errors.New("reassembly table full")
	ErrSequenceMismatch = errors.New("packet sequence mismatch")
	ErrMessageTooLarge  = errors.New("message exceeds reassembly buffer")
	ErrTimeout          = errors.New("reassembly timed out")
	ErrBusy             = errors.New("reassembly table busy")
	ErrInvalidConfig    = errors.New("invalid reassembly configuration")
)

// Outcome is the result of feeding one packet to the table
type Outcome uint8

const (
	// InProgress means the packet was accepted and more are expected
	InProgress Outcome = iota
	// Completed means the packet finished a message which was delivered
	Completed
	// Ignored means the packet matched no context and was dropped
	Ignored
)

// String returns string representation of outcome
func (o Outcome) String() string {
	switch o {
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	case Ignored:
		return "Ignored"
	default:
		return fmt.Sprintf("Unknown(%d)", o)
	}
}

// Key identifies one inbound conversation
type Key struct {
	Source packet.EID
	Tag    packet.Tag
}

// String returns a string representation of the key
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Source, k.Tag)
}

// Message is a completed inbound message.
// Payload is a view into the slot buffer and is only valid during the
// deliver callback.
type Message struct {
	Key
	Dest    packet.EID
	Payload []byte
}

type slotState uint8

const (
	slotFree slotState = iota
	slotActive
)

// slot is one reassembly context
type slot struct {
	state   slotState
	key     Key
	dest    packet.EID
	buf     []byte
	fill    int
	nextSeq uint8
	age     uint32
}

func (c *slot) release() {
	c.state = slotFree
	c.key = Key{}
	c.dest = 0
	c.fill = 0
	c.nextSeq = 0
	c.age = 0
}

// Table is a fixed size set of reassembly contexts.
// Every public method try-acquires the table guard and returns ErrBusy
// when it is already held, including from inside a deliver callback.
type Table struct {
	mu     sync.Mutex
	config Config
	slots  []slot
	stats  *Statistics
}

// New creates a reassembly table with all slot buffers preallocated
func New(cfg Config) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Table{
		config: cfg,
		slots:  make([]slot, cfg.Slots),
		stats:  NewStatistics(),
	}
	for i := range t.slots {
		t.slots[i].buf = make([]byte, cfg.MaxMessageSize)
	}
	return t, nil
}

// OnPacket feeds one decoded packet into the table.
// When the packet completes a message, deliver is invoked before OnPacket
// returns and the slot is freed after deliver returns. deliver may be nil.
func (t *Table) OnPacket(h packet.Header, payload []byte, deliver func(Message)) (Outcome, error) {
	if !t.mu.TryLock() {
		return Ignored, ErrBusy
	}
	defer t.mu.Unlock()

	key := Key{Source: h.Source, Tag: h.Tag}
	ctx := t.find(key)

	if h.SOM {
		if ctx != nil {
			// Sender restarted the conversation; the stale one is abandoned
			ctx.release()
			t.stats.restarts.Add(1)
		} else {
			ctx = t.free()
			if ctx == nil {
				t.stats.tableFull.Add(1)
				return Ignored, ErrTableFull
			}
		}
		ctx.state = slotActive
		ctx.key = key
		ctx.dest = h.Dest
	} else {
		if ctx == nil {
			t.stats.ignored.Add(1)
			return Ignored, nil
		}
		if expected := ctx.nextSeq; h.Seq != expected {
			ctx.release()
			t.stats.sequenceErrors.Add(1)
			return Ignored, fmt.Errorf("%w: %s expected %d, got %d", ErrSequenceMismatch, key, expected, h.Seq)
		}
	}

	if len(payload) > len(ctx.buf)-ctx.fill {
		ctx.release()
		t.stats.overflows.Add(1)
		return Ignored, fmt.Errorf("%w: %s limit %d", ErrMessageTooLarge, key, t.config.MaxMessageSize)
	}

	copy(ctx.buf[ctx.fill:], payload)
	ctx.fill += len(payload)
	ctx.nextSeq = (ctx.nextSeq + 1) & packet.SeqMask
	ctx.age = 0
	t.stats.packets.Add(1)

	if !h.EOM {
		return InProgress, nil
	}

	defer ctx.release()
	t.stats.completed.Add(1)
	if deliver != nil {
		deliver(Message{Key: ctx.key, Dest: ctx.dest, Payload: ctx.buf[:ctx.fill]})
	}
	return Completed, nil
}

// AgeTick advances the age of every active context by one tick.
// Contexts older than the configured timeout are evicted and reported
// once through drain. Returns the number of evicted contexts; a busy
// table ages nothing and returns ErrBusy.
func (t *Table) AgeTick(drain func(Key, error)) (int, error) {
	if !t.mu.TryLock() {
		return 0, ErrBusy
	}
	defer t.mu.Unlock()

	evicted := 0
	for i := range t.slots {
		ctx := &t.slots[i]
		if ctx.state != slotActive {
			continue
		}
		ctx.age++
		if ctx.age <= t.config.TimeoutTicks {
			continue
		}

		key := ctx.key
		ctx.release()
		evicted++
		t.stats.timeouts.Add(1)
		if drain != nil {
			drain(key, ErrTimeout)
		}
	}
	return evicted, nil
}

// Evict drops the context for key, returning true if one was active
func (t *Table) Evict(key Key) (bool, error) {
	if !t.mu.TryLock() {
		return false, ErrBusy
	}
	defer t.mu.Unlock()

	ctx := t.find(key)
	if ctx == nil {
		return false, nil
	}
	ctx.release()
	return true, nil
}

// Active returns the number of active contexts
func (t *Table) Active() (int, error) {
	if !t.mu.TryLock() {
		return 0, ErrBusy
	}
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].state == slotActive {
			n++
		}
	}
	return n, nil
}

// Capacity returns the number of slots
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Config returns the table configuration
func (t *Table) Config() Config {
	return t.config
}

// Reset frees every slot
func (t *Table) Reset() error {
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	for i := range t.slots {
		t.slots[i].release()
	}
	return nil
}

// Statistics returns table statistics
func (t *Table) Statistics() *Statistics {
	return t.stats
}

// find returns the active context for key, or nil
func (t *Table) find(key Key) *slot {
	for i := range t.slots {
		ctx := &t.slots[i]
		if ctx.state == slotActive && ctx.key == key {
			return ctx
		}
	}
	return nil
}

// free returns the first free slot, or nil
func (t *Table) free() *slot {
	for i := range t.slots {
		if t.slots[i].state == slotFree {
			return &t.slots[i]
		}
	}
	return nil
}
