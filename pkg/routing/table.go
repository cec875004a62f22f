package routing

import (
	"errors"
	"fmt"
	"sync"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/packet"
)

var (
	ErrNoRoute         = errors.New("no route to endpoint")
	ErrInvalidEndpoint = errors.New("invalid endpoint ID")
	ErrRouteExists     = errors.New("route already registered with a different target")
	ErrTableFull       = errors.New("routing table full")
	ErrBusy            = errors.New("routing table busy")
	ErrInvalidBus      = errors.New("invalid bus handle")
)

// Entry routes one endpoint to a bus
type Entry struct {
	EID  packet.EID
	Bus  binding.BusHandle
	Addr binding.PhysAddr // Zero value means no address hint
}

// String returns a string representation of the entry
func (e Entry) String() string {
	if e.Addr.IsZero() {
		return fmt.Sprintf("%s via %s", e.EID, e.Bus)
	}
	return fmt.Sprintf("%s via %s addr %s", e.EID, e.Bus, e.Addr)
}

// Table maps endpoint IDs to buses. Capacity is fixed at construction.
// Every method try-acquires the table guard and returns ErrBusy when it
// is already held.
type Table struct {
	mu sync.Mutex

	entries []Entry
	used    []bool
	count   int

	local      []packet.EID
	localCount int

	def    Entry
	hasDef bool
}

// New creates a table for capacity routes and localCapacity local endpoints
func New(capacity, localCapacity int) (*Table, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("routing table capacity must be positive, got %d", capacity)
	}
	if localCapacity <= 0 {
		return nil, fmt.Errorf("local endpoint capacity must be positive, got %d", localCapacity)
	}
	return &Table{
		entries: make([]Entry, capacity),
		used:    make([]bool, capacity),
		local:   make([]packet.EID, localCapacity),
	}, nil
}

func checkTarget(eid packet.EID) error {
	if !eid.IsValidTarget() {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, eid)
	}
	return nil
}

// Register adds a route for eid. Registering the same route again is a
// no-op; a different route for a registered eid fails with ErrRouteExists
// and must go through Replace.
func (t *Table) Register(eid packet.EID, bus binding.BusHandle, addr binding.PhysAddr) error {
	if err := checkTarget(eid); err != nil {
		return err
	}
	if bus == binding.InvalidBus {
		return ErrInvalidBus
	}
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	e := Entry{EID: eid, Bus: bus, Addr: addr}
	if i := t.find(eid); i >= 0 {
		if t.entries[i] == e {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRouteExists, t.entries[i])
	}
	return t.insert(e)
}

// Replace adds or overwrites the route for eid
func (t *Table) Replace(eid packet.EID, bus binding.BusHandle, addr binding.PhysAddr) error {
	if err := checkTarget(eid); err != nil {
		return err
	}
	if bus == binding.InvalidBus {
		return ErrInvalidBus
	}
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	e := Entry{EID: eid, Bus: bus, Addr: addr}
	if i := t.find(eid); i >= 0 {
		t.entries[i] = e
		return nil
	}
	return t.insert(e)
}

// Resolve returns the route for eid, falling back to the default route.
// Broadcast must be resolved with Broadcast.
func (t *Table) Resolve(eid packet.EID) (Entry, error) {
	if err := checkTarget(eid); err != nil {
		return Entry{}, err
	}
	if !t.mu.TryLock() {
		return Entry{}, ErrBusy
	}
	defer t.mu.Unlock()

	if i := t.find(eid); i >= 0 {
		return t.entries[i], nil
	}
	if t.hasDef {
		e := t.def
		e.EID = eid
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNoRoute, eid)
}

// Broadcast visits one synthetic entry per distinct bus that has a route,
// including the default route's bus. Each entry carries the broadcast EID
// and no address hint. Iteration stops early when visit returns false.
// Returns the number of buses visited, or ErrNoRoute if there are none.
func (t *Table) Broadcast(visit func(Entry) bool) (int, error) {
	if !t.mu.TryLock() {
		return 0, ErrBusy
	}
	var seen [int(binding.InvalidBus)]bool
	var buses [int(binding.InvalidBus)]binding.BusHandle
	n := 0
	add := func(bus binding.BusHandle) {
		if bus == binding.InvalidBus || seen[bus] {
			return
		}
		seen[bus] = true
		buses[n] = bus
		n++
	}
	if t.hasDef {
		add(t.def.Bus)
	}
	for i, e := range t.entries {
		if t.used[i] {
			add(e.Bus)
		}
	}
	t.mu.Unlock()

	if n == 0 {
		return 0, ErrNoRoute
	}

	// visit runs without the guard so it may send on the bus
	visited := 0
	for _, bus := range buses[:n] {
		visited++
		if !visit(Entry{EID: packet.EIDBroadcast, Bus: bus}) {
			break
		}
	}
	return visited, nil
}

// Unregister removes the route for eid. Removing an absent route is not an error.
func (t *Table) Unregister(eid packet.EID) error {
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	if i := t.find(eid); i >= 0 {
		t.used[i] = false
		t.entries[i] = Entry{}
		t.count--
	}
	return nil
}

// UnregisterBus removes every route through bus, including the default
// route, and returns the number removed
func (t *Table) UnregisterBus(bus binding.BusHandle) (int, error) {
	if !t.mu.TryLock() {
		return 0, ErrBusy
	}
	defer t.mu.Unlock()

	removed := 0
	for i, e := range t.entries {
		if t.used[i] && e.Bus == bus {
			t.used[i] = false
			t.entries[i] = Entry{}
			t.count--
			removed++
		}
	}
	if t.hasDef && t.def.Bus == bus {
		t.hasDef = false
		t.def = Entry{}
		removed++
	}
	return removed, nil
}

// SetDefault sets the route used for endpoints with no entry, normally
// towards the bus owner
func (t *Table) SetDefault(bus binding.BusHandle, addr binding.PhysAddr) error {
	if bus == binding.InvalidBus {
		return ErrInvalidBus
	}
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	t.def = Entry{Bus: bus, Addr: addr}
	t.hasDef = true
	return nil
}

// ClearDefault removes the default route
func (t *Table) ClearDefault() error {
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	t.def = Entry{}
	t.hasDef = false
	return nil
}

// Default returns the default route
func (t *Table) Default() (Entry, bool, error) {
	if !t.mu.TryLock() {
		return Entry{}, false, ErrBusy
	}
	defer t.mu.Unlock()
	return t.def, t.hasDef, nil
}

// AddLocal marks eid as an endpoint hosted by this node
func (t *Table) AddLocal(eid packet.EID) error {
	if err := checkTarget(eid); err != nil {
		return err
	}
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	for _, l := range t.local[:t.localCount] {
		if l == eid {
			return nil
		}
	}
	if t.localCount == len(t.local) {
		return ErrTableFull
	}
	t.local[t.localCount] = eid
	t.localCount++
	return nil
}

// RemoveLocal removes eid from the local endpoints
func (t *Table) RemoveLocal(eid packet.EID) error {
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	for i, l := range t.local[:t.localCount] {
		if l == eid {
			last := t.localCount - 1
			t.local[i] = t.local[last]
			t.local[last] = 0
			t.localCount--
			return nil
		}
	}
	return nil
}

// IsLocal returns true if eid is hosted by this node
func (t *Table) IsLocal(eid packet.EID) (bool, error) {
	if !t.mu.TryLock() {
		return false, ErrBusy
	}
	defer t.mu.Unlock()

	for _, l := range t.local[:t.localCount] {
		if l == eid {
			return true, nil
		}
	}
	return false, nil
}

// Locals returns the local endpoints
func (t *Table) Locals() ([]packet.EID, error) {
	if !t.mu.TryLock() {
		return nil, ErrBusy
	}
	defer t.mu.Unlock()
	return append([]packet.EID(nil), t.local[:t.localCount]...), nil
}

// Range calls fn for each route until fn returns false.
// fn must not call back into the table.
func (t *Table) Range(fn func(Entry) bool) error {
	if !t.mu.TryLock() {
		return ErrBusy
	}
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if !t.used[i] {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return nil
}

// Count returns the number of routes, excluding the default route
func (t *Table) Count() (int, error) {
	if !t.mu.TryLock() {
		return 0, ErrBusy
	}
	defer t.mu.Unlock()
	return t.count, nil
}

// Capacity returns the maximum number of routes
func (t *Table) Capacity() int {
	return len(t.entries)
}

func (t *Table) find(eid packet.EID) int {
	for i, e := range t.entries {
		if t.used[i] && e.EID == eid {
			return i
		}
	}
	return -1
}

func (t *Table) insert(e Entry) error {
	for i := range t.entries {
		if !t.used[i] {
			t.entries[i] = e
			t.used[i] = true
			t.count++
			return nil
		}
	}
	return fmt.Errorf("%w: capacity %d", ErrTableFull, len(t.entries))
}
