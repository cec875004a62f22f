package binding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"avaneesh/mctp-go/pkg/internal/logger"
)

// StreamConfig configures a serial framed stream link
type StreamConfig struct {
	Name          string        // Used in log messages
	QueueDepth    int           // Packets buffered in each direction (default 16)
	MaxPacketSize int           // Largest packet accepted (default SerialMaxPacket)
	Logger        logger.Logger // Defaults to the package default logger
}

func (c *StreamConfig) applyDefaults() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 16
	}
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > SerialMaxPacket {
		c.MaxPacketSize = SerialMaxPacket
	}
	if c.Logger == nil {
		c.Logger = logger.GetDefault()
	}
	if c.Name == "" {
		c.Name = "stream"
	}
}

// StreamLink carries serial framed packets over any byte stream, such as
// a UART device, a TCP connection or a QUIC stream. A reader goroutine
// fills the receive queue and a writer goroutine drains the send queue,
// so Send and TryRecv never block.
type StreamLink struct {
	rwc     io.ReadWriteCloser
	maxPkt  int
	rx      *ring
	tx      *ring
	txReady chan struct{}
	stats   linkStats
	logger  logger.Logger

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewStreamLink starts a link over rwc. The link owns rwc and closes it.
func NewStreamLink(rwc io.ReadWriteCloser, config StreamConfig) *StreamLink {
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	l := &StreamLink{
		rwc:     rwc,
		maxPkt:  config.MaxPacketSize,
		rx:      newRing(config.QueueDepth, config.MaxPacketSize),
		tx:      newRing(config.QueueDepth, config.MaxPacketSize),
		txReady: make(chan struct{}, 1),
		logger:  config.Logger.WithField("link", config.Name),
		ctx:     ctx,
		cancel:  cancel,
	}
	l.stats.connects.Add(1)

	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
	return l
}

// DialStream connects to a TCP peer and returns a stream link over it
func DialStream(ctx context.Context, address string, config StreamConfig) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if config.Name == "" {
		config.Name = address
	}
	return NewStreamLink(conn, config), nil
}

// ListenStream accepts one TCP connection on address and returns a stream
// link over it. The listener is closed once a peer has connected.
func ListenStream(ctx context.Context, address string, config StreamConfig) (*StreamLink, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept on %s: %w", address, err)
	}
	if config.Name == "" {
		config.Name = address
	}
	return NewStreamLink(conn, config), nil
}

// OpenSerialDevice opens a tty device and returns a stream link over it.
// Line settings (baud rate, raw mode) are expected to be configured on
// the device beforehand.
func OpenSerialDevice(path string, config StreamConfig) (*StreamLink, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", path, err)
	}
	if config.Name == "" {
		config.Name = path
	}
	return NewStreamLink(f, config), nil
}

// readLoop decodes frames from the stream into the receive queue
func (l *StreamLink) readLoop() {
	defer l.wg.Done()

	dec := NewSerialDecoder(l.maxPkt)
	buf := make([]byte, 512)
	for {
		n, err := l.rwc.Read(buf)
		for _, c := range buf[:n] {
			pkt, derr := dec.Push(c)
			if derr != nil {
				l.stats.readErrors.Add(1)
				l.logger.Debug("Dropped frame: %v", derr)
				continue
			}
			if pkt == nil {
				continue
			}
			if !l.rx.push(pkt) {
				l.stats.overruns.Add(1)
				continue
			}
			l.stats.received(len(pkt))
		}

		if err != nil {
			if l.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info("Stream closed by peer")
			} else {
				l.stats.readErrors.Add(1)
				l.logger.Warn("Stream read failed: %v", err)
			}
			l.shutdown()
			return
		}
	}
}

// writeLoop frames queued packets onto the stream
func (l *StreamLink) writeLoop() {
	defer l.wg.Done()

	pkt := make([]byte, l.maxPkt)
	frame := make([]byte, serialOverhead+2*l.maxPkt)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.txReady:
		}

		for {
			n, ok, _ := l.tx.pop(pkt)
			if !ok {
				break
			}
			fn, err := EncodeSerialFrame(pkt[:n], frame)
			if err != nil {
				l.stats.writeErrors.Add(1)
				continue
			}
			if _, err := l.rwc.Write(frame[:fn]); err != nil {
				l.stats.writeErrors.Add(1)
				if l.closed.Load() {
					return
				}
				l.logger.Warn("Stream write failed: %v", err)
				continue
			}
			l.stats.sent(n)
		}
	}
}

// Send implements Link.Send.
// The packet is queued for the writer; ErrWouldBlock means the queue is full.
func (l *StreamLink) Send(pkt []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if len(pkt) > l.maxPkt {
		l.stats.writeErrors.Add(1)
		return fmt.Errorf("%w: %d > %d", ErrPacketTooBig, len(pkt), l.maxPkt)
	}
	if !l.tx.push(pkt) {
		return ErrWouldBlock
	}
	select {
	case l.txReady <- struct{}{}:
	default:
	}
	return nil
}

// TryRecv implements Link.TryRecv.
// Packets already queued are returned after the stream has closed.
func (l *StreamLink) TryRecv(buf []byte) (int, bool, error) {
	n, ok, err := l.rx.pop(buf)
	if err != nil {
		l.stats.readErrors.Add(1)
		return 0, false, err
	}
	if !ok && l.closed.Load() {
		return 0, false, ErrClosed
	}
	return n, ok, nil
}

// Closed returns true once the stream has shut down
func (l *StreamLink) Closed() bool {
	return l.closed.Load()
}

// Close implements Link.Close
func (l *StreamLink) Close() error {
	err := l.shutdown()
	l.wg.Wait()
	return err
}

func (l *StreamLink) shutdown() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()
	l.stats.disconnects.Add(1)
	return l.rwc.Close()
}

// Statistics implements Link.Statistics
func (l *StreamLink) Statistics() Stats {
	return l.stats.snapshot()
}
