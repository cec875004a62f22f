package binding

import (
	"fmt"
	"sync"
)

type setEntry struct {
	name string
	link Link
}

// Set is a fixed capacity collection of named links addressed by BusHandle.
// It implements Transport and AddressedTransport.
type Set struct {
	mu    sync.RWMutex
	links []setEntry
}

// NewSet creates a set that holds up to capacity links
func NewSet(capacity int) (*Set, error) {
	if capacity <= 0 || capacity > int(InvalidBus) {
		return nil, fmt.Errorf("bus set capacity must be 1-%d, got %d", InvalidBus, capacity)
	}
	return &Set{links: make([]setEntry, capacity)}, nil
}

// Add registers a link under name and returns its handle
func (s *Set) Add(name string, link Link) (BusHandle, error) {
	if link == nil {
		return InvalidBus, fmt.Errorf("link %q is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	free := -1
	for i, e := range s.links {
		if e.link == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if e.name == name {
			return InvalidBus, fmt.Errorf("%w: %s", ErrBusExists, name)
		}
	}
	if free < 0 {
		return InvalidBus, ErrSetFull
	}

	s.links[free] = setEntry{name: name, link: link}
	return BusHandle(free), nil
}

// Remove closes and removes the link for h
func (s *Set) Remove(h BusHandle) error {
	s.mu.Lock()
	link, err := s.get(h)
	if err == nil {
		s.links[h] = setEntry{}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return link.Close()
}

// Lookup returns the handle registered under name
func (s *Set) Lookup(name string) (BusHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.links {
		if e.link != nil && e.name == name {
			return BusHandle(i), true
		}
	}
	return InvalidBus, false
}

// Name returns the name registered for h
func (s *Set) Name(h BusHandle) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(h) >= len(s.links) || s.links[h].link == nil {
		return ""
	}
	return s.links[h].name
}

// Link returns the link registered for h
func (s *Set) Link(h BusHandle) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(h)
}

// Buses returns the handles of all registered links
func (s *Set) Buses() []BusHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BusHandle
	for i, e := range s.links {
		if e.link != nil {
			out = append(out, BusHandle(i))
		}
	}
	return out
}

// Send implements Transport.Send
func (s *Set) Send(bus BusHandle, pkt []byte) error {
	link, err := s.Link(bus)
	if err != nil {
		return &Error{Bus: bus, Op: "send", Err: err}
	}
	if err := link.Send(pkt); err != nil {
		return &Error{Bus: bus, Op: "send", Err: err}
	}
	return nil
}

// SendTo implements AddressedTransport.SendTo.
// Links without addressing ignore the hint.
func (s *Set) SendTo(bus BusHandle, addr PhysAddr, pkt []byte) error {
	link, err := s.Link(bus)
	if err != nil {
		return &Error{Bus: bus, Op: "send", Err: err}
	}

	if al, ok := link.(AddressedLink); ok && !addr.IsZero() {
		err = al.SendTo(addr, pkt)
	} else {
		err = link.Send(pkt)
	}
	if err != nil {
		return &Error{Bus: bus, Op: "send", Err: err}
	}
	return nil
}

// TryRecv implements Transport.TryRecv
func (s *Set) TryRecv(bus BusHandle, buf []byte) (int, bool, error) {
	link, err := s.Link(bus)
	if err != nil {
		return 0, false, &Error{Bus: bus, Op: "recv", Err: err}
	}
	n, ok, err := link.TryRecv(buf)
	if err != nil {
		return 0, false, &Error{Bus: bus, Op: "recv", Err: err}
	}
	return n, ok, nil
}

// Close closes every link and empties the set
func (s *Set) Close() error {
	s.mu.Lock()
	links := make([]Link, 0, len(s.links))
	for i, e := range s.links {
		if e.link != nil {
			links = append(links, e.link)
		}
		s.links[i] = setEntry{}
	}
	s.mu.Unlock()

	var firstErr error
	for _, l := range links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// get returns the link for h; caller holds mu
func (s *Set) get(h BusHandle) (Link, error) {
	if int(h) >= len(s.links) || s.links[h].link == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBus, h)
	}
	return s.links[h].link, nil
}
