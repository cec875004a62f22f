package binding

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/mctp-go/pkg/internal/logger"
)

// UDPConfig configures a UDP link
type UDPConfig struct {
	Address       string        // "host:port" format
	IsServer      bool          // true = bind Address, false = send to Address
	WriteTimeout  time.Duration // Write deadline per datagram (default 2ms, at most UDPMaxWriteDeadline)
	QueueDepth    int           // Received packets buffered (default 16)
	MaxPacketSize int           // Largest datagram accepted (default 1024)
	Logger        logger.Logger
}

// UDPMaxWriteDeadline bounds how long Send may wait on a full socket buffer
const UDPMaxWriteDeadline = 10 * time.Millisecond

// UDPLink carries one packet per datagram.
// A server replies to the last peer it heard from; SendTo targets any peer.
type UDPLink struct {
	conn *net.UDPConn

	isServer     bool
	remoteAddr   netip.AddrPort // Client mode destination
	lastPeerAddr netip.AddrPort // Server mode reply address
	peerLock     sync.RWMutex
	writeTimeout time.Duration
	maxPkt       int

	rx     *ring
	stats  linkStats
	logger logger.Logger

	// Lifecycle
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewUDPLink binds a UDP socket and starts receiving
func NewUDPLink(config UDPConfig) (*UDPLink, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Millisecond
	}
	if config.WriteTimeout > UDPMaxWriteDeadline {
		config.WriteTimeout = UDPMaxWriteDeadline
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 16
	}
	if config.MaxPacketSize <= 0 {
		config.MaxPacketSize = 1024
	}
	if config.Logger == nil {
		config.Logger = logger.GetDefault()
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	ul := &UDPLink{
		isServer:     config.IsServer,
		writeTimeout: config.WriteTimeout,
		maxPkt:       config.MaxPacketSize,
		rx:           newRing(config.QueueDepth, config.MaxPacketSize),
		logger:       config.Logger.WithField("link", "udp:"+config.Address),
	}

	var conn *net.UDPConn
	if config.IsServer {
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
		}
	} else {
		ap := addr.AddrPort()
		ul.remoteAddr = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		conn, err = net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return nil, fmt.Errorf("failed to create UDP connection: %w", err)
		}
	}
	ul.conn = conn
	ul.stats.connects.Add(1)

	ul.wg.Add(1)
	go ul.readLoop()

	return ul, nil
}

func (ul *UDPLink) readLoop() {
	defer ul.wg.Done()

	// One spare byte detects oversized datagrams
	buffer := make([]byte, ul.maxPkt+1)
	for {
		n, peer, err := ul.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if ul.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			ul.stats.readErrors.Add(1)
			ul.logger.Warn("UDP read failed: %v", err)
			continue
		}

		if ul.isServer {
			ul.peerLock.Lock()
			ul.lastPeerAddr = peer
			ul.peerLock.Unlock()
		}

		if n > ul.maxPkt {
			ul.stats.readErrors.Add(1)
			continue
		}
		if !ul.rx.push(buffer[:n]) {
			ul.stats.overruns.Add(1)
			continue
		}
		ul.stats.received(n)
	}
}

// Send implements Link.Send
func (ul *UDPLink) Send(pkt []byte) error {
	var dest netip.AddrPort
	if ul.isServer {
		ul.peerLock.RLock()
		dest = ul.lastPeerAddr
		ul.peerLock.RUnlock()

		if !dest.IsValid() {
			ul.stats.writeErrors.Add(1)
			return fmt.Errorf("%w: no peer address available", ErrWouldBlock)
		}
	} else {
		dest = ul.remoteAddr
	}
	return ul.send(dest, pkt)
}

// SendTo implements AddressedLink.SendTo.
// addr must be an address created by AddrPortPhysAddr.
func (ul *UDPLink) SendTo(addr PhysAddr, pkt []byte) error {
	dest, ok := addr.AddrPort()
	if !ok {
		ul.stats.writeErrors.Add(1)
		return fmt.Errorf("physical address %s is not an IP address and port", addr)
	}
	return ul.send(dest, pkt)
}

func (ul *UDPLink) send(dest netip.AddrPort, pkt []byte) error {
	if ul.closed.Load() {
		return ErrClosed
	}

	ul.conn.SetWriteDeadline(time.Now().Add(ul.writeTimeout))
	if _, err := ul.conn.WriteToUDPAddrPort(pkt, dest); err != nil {
		ul.stats.writeErrors.Add(1)
		return writeError(err)
	}
	ul.stats.sent(len(pkt))
	return nil
}

// writeError reports an expired write deadline as ErrWouldBlock
func writeError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrWouldBlock, err)
	}
	return err
}

// TryRecv implements Link.TryRecv
func (ul *UDPLink) TryRecv(buf []byte) (int, bool, error) {
	if ul.closed.Load() {
		return 0, false, ErrClosed
	}
	n, ok, err := ul.rx.pop(buf)
	if err != nil {
		ul.stats.readErrors.Add(1)
	}
	return n, ok, err
}

// Close implements Link.Close
func (ul *UDPLink) Close() error {
	if !ul.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	err := ul.conn.Close()
	ul.stats.disconnects.Add(1)
	ul.wg.Wait()
	return err
}

// Statistics implements Link.Statistics
func (ul *UDPLink) Statistics() Stats {
	return ul.stats.snapshot()
}

// LocalAddr returns the bound socket address
func (ul *UDPLink) LocalAddr() netip.AddrPort {
	ap := ul.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// RemoteAddr returns the configured peer in client mode or the last
// peer heard from in server mode
func (ul *UDPLink) RemoteAddr() netip.AddrPort {
	if ul.isServer {
		ul.peerLock.RLock()
		defer ul.peerLock.RUnlock()
		return ul.lastPeerAddr
	}
	return ul.remoteAddr
}
