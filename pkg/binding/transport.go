package binding

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrWouldBlock   = errors.New("transport would block")
	ErrClosed       = errors.New("transport closed")
	ErrUnknownBus   = errors.New("unknown bus")
	ErrSetFull      = errors.New("bus set full")
	ErrBusExists    = errors.New("bus name already registered")
	ErrAddrTooLong  = errors.New("physical address too long")
	ErrPacketTooBig = errors.New("packet exceeds binding limit")
)

// BusHandle is an index into a fixed set of links
type BusHandle uint8

// InvalidBus is never assigned to a link
const InvalidBus BusHandle = 0xFF

// String returns string representation of the handle
func (h BusHandle) String() string {
	if h == InvalidBus {
		return "invalid"
	}
	return fmt.Sprintf("bus%d", uint8(h))
}

// Transport is the capability the router sends and receives packets through.
// Neither method may block.
type Transport interface {
	// Send transmits one packet on bus.
	// Returns ErrWouldBlock if the bus cannot take the packet now.
	Send(bus BusHandle, pkt []byte) error

	// TryRecv copies the next received packet on bus into buf.
	// ok is false when no packet is available.
	TryRecv(bus BusHandle, buf []byte) (n int, ok bool, err error)
}

// AddressedTransport is implemented by transports that can target a
// physical address on a shared bus
type AddressedTransport interface {
	Transport
	SendTo(bus BusHandle, addr PhysAddr, pkt []byte) error
}

// Link is a single bus binding
type Link interface {
	Send(pkt []byte) error
	TryRecv(buf []byte) (n int, ok bool, err error)
	Close() error
	Statistics() Stats
}

// AddressedLink is a link that can target a physical address
type AddressedLink interface {
	Link
	SendTo(addr PhysAddr, pkt []byte) error
}

// Error wraps a failure from a specific bus
type Error struct {
	Bus BusHandle
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Bus, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MaxPhysAddrLen fits an IPv6 address and port
const MaxPhysAddrLen = 18

// PhysAddr is a bus specific address hint, such as an I2C slave
// address or a UDP address and port. The zero value means no hint.
type PhysAddr struct {
	n uint8
	b [MaxPhysAddrLen]byte
}

// NewPhysAddr creates an address from raw bytes
func NewPhysAddr(b []byte) (PhysAddr, error) {
	var a PhysAddr
	if len(b) > MaxPhysAddrLen {
		return a, fmt.Errorf("%w: %d bytes", ErrAddrTooLong, len(b))
	}
	a.n = uint8(len(b))
	copy(a.b[:], b)
	return a, nil
}

// ParsePhysAddr parses a hex encoded address. An empty string is the zero address.
func ParsePhysAddr(s string) (PhysAddr, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PhysAddr{}, fmt.Errorf("invalid physical address %q: %w", s, err)
	}
	return NewPhysAddr(b)
}

// AddrPortPhysAddr encodes an IP address and port as 6 or 18 bytes
func AddrPortPhysAddr(ap netip.AddrPort) PhysAddr {
	var a PhysAddr
	ip := ap.Addr().Unmap()
	if ip.Is4() {
		v4 := ip.As4()
		copy(a.b[:], v4[:])
		a.n = 4
	} else {
		v6 := ip.As16()
		copy(a.b[:], v6[:])
		a.n = 16
	}
	a.b[a.n] = byte(ap.Port() >> 8)
	a.b[a.n+1] = byte(ap.Port())
	a.n += 2
	return a
}

// AddrPort decodes an address created by AddrPortPhysAddr
func (a PhysAddr) AddrPort() (netip.AddrPort, bool) {
	var ip netip.Addr
	switch a.n {
	case 6:
		ip = netip.AddrFrom4([4]byte(a.b[:4]))
	case 18:
		ip = netip.AddrFrom16([16]byte(a.b[:16]))
	default:
		return netip.AddrPort{}, false
	}
	port := uint16(a.b[a.n-2])<<8 | uint16(a.b[a.n-1])
	return netip.AddrPortFrom(ip, port), true
}

// Bytes returns the address bytes
func (a PhysAddr) Bytes() []byte {
	return append([]byte(nil), a.b[:a.n]...)
}

// Len returns the address length
func (a PhysAddr) Len() int {
	return int(a.n)
}

// IsZero returns true if no address is set
func (a PhysAddr) IsZero() bool {
	return a.n == 0
}

// String returns the hex encoding of the address
func (a PhysAddr) String() string {
	return hex.EncodeToString(a.b[:a.n])
}
