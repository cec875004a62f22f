package binding

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/mctp-go/pkg/internal/logger"
)

// recvEventually polls l until a packet arrives
func recvEventually(t *testing.T, l Link) []byte {
	t.Helper()

	buf := make([]byte, 512)
	var got []byte
	require.Eventually(t, func() bool {
		n, ok, err := l.TryRecv(buf)
		if err != nil || !ok {
			return false
		}
		got = append([]byte(nil), buf[:n]...)
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestLoopbackBackpressure(t *testing.T) {
	a, b := NewLoopbackPair(2, 8)

	require.NoError(t, a.Send([]byte{1}))
	require.NoError(t, a.Send([]byte{2}))
	assert.ErrorIs(t, a.Send([]byte{3}), ErrWouldBlock)
	assert.ErrorIs(t, a.Send(make([]byte, 9)), ErrPacketTooBig)
	assert.Equal(t, uint64(1), b.Statistics().Overruns)

	// Too small a buffer drops the packet
	_, _, err := b.TryRecv(make([]byte, 0))
	assert.ErrorIs(t, err, io.ErrShortBuffer)

	buf := make([]byte, 8)
	n, ok, err := b.TryRecv(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, buf[:n])

	stats := a.Statistics()
	assert.Equal(t, uint64(2), stats.PacketsSent)
	assert.Equal(t, uint64(2), stats.BytesSent)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, a.Send([]byte{1}), ErrClosed)
	_, _, err = b.TryRecv(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamLinkOverPipe(t *testing.T) {
	c1, c2 := net.Pipe()
	cfg := StreamConfig{QueueDepth: 4, Logger: logger.NewNoOpLogger()}

	a := NewStreamLink(c1, cfg)
	b := NewStreamLink(c2, cfg)
	defer a.Close()
	defer b.Close()

	pkt := []byte{0x01, 0x09, 0x08, 0xC8, 0x7E, 0x7D}
	require.NoError(t, a.Send(pkt))
	assert.Equal(t, pkt, recvEventually(t, b))

	require.NoError(t, b.Send([]byte{0xAB}))
	assert.Equal(t, []byte{0xAB}, recvEventually(t, a))

	assert.ErrorIs(t, a.Send(make([]byte, SerialMaxPacket+1)), ErrPacketTooBig)

	require.Eventually(t, func() bool {
		return a.Statistics().PacketsSent == 1 && b.Statistics().PacketsReceived == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStreamLinkPeerClose(t *testing.T) {
	c1, c2 := net.Pipe()
	cfg := StreamConfig{Logger: logger.NewNoOpLogger()}

	a := NewStreamLink(c1, cfg)
	defer a.Close()

	c2.Close()
	require.Eventually(t, a.Closed, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, a.Send([]byte{1}), ErrClosed)
	_, _, err := a.TryRecv(make([]byte, 16))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, uint64(1), a.Statistics().Disconnects)
}

func TestStreamLinkTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := StreamConfig{Logger: logger.NewNoOpLogger()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		link *StreamLink
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		l, err := ListenStream(ctx, addr, cfg)
		accepted <- result{l, err}
	}()

	var client *StreamLink
	require.Eventually(t, func() bool {
		client, err = DialStream(ctx, addr, cfg)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer client.Close()

	res := <-accepted
	require.NoError(t, res.err)
	server := res.link
	defer server.Close()

	require.NoError(t, client.Send([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, recvEventually(t, server))
}

func TestListenStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ListenStream(ctx, "127.0.0.1:0", StreamConfig{})
	assert.Error(t, err)
}

func TestUDPLink(t *testing.T) {
	nolog := logger.NewNoOpLogger()
	server, err := NewUDPLink(UDPConfig{Address: "127.0.0.1:0", IsServer: true, Logger: nolog})
	require.NoError(t, err)
	defer server.Close()

	// No peer yet to reply to
	assert.ErrorIs(t, server.Send([]byte{1}), ErrWouldBlock)

	client, err := NewUDPLink(UDPConfig{Address: server.LocalAddr().String(), Logger: nolog})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte{0x01, 0x09, 0x08, 0xC0}))
	assert.Equal(t, []byte{0x01, 0x09, 0x08, 0xC0}, recvEventually(t, server))

	require.NoError(t, server.Send([]byte{0xAA}))
	assert.Equal(t, []byte{0xAA}, recvEventually(t, client))

	// Addressed send to an explicit peer
	other, err := NewUDPLink(UDPConfig{Address: "127.0.0.1:0", IsServer: true, Logger: nolog})
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, server.SendTo(AddrPortPhysAddr(other.LocalAddr()), []byte{0xBB}))
	assert.Equal(t, []byte{0xBB}, recvEventually(t, other))

	bad, _ := ParsePhysAddr("1d")
	assert.Error(t, server.SendTo(bad, []byte{1}))

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send([]byte{1}), ErrClosed)
}

func TestUDPLinkWriteDeadline(t *testing.T) {
	nolog := logger.NewNoOpLogger()
	tests := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{"Default", 0, 2 * time.Millisecond},
		{"Configured", 5 * time.Millisecond, 5 * time.Millisecond},
		{"Clamped", time.Second, UDPMaxWriteDeadline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ul, err := NewUDPLink(UDPConfig{Address: "127.0.0.1:0", IsServer: true, WriteTimeout: tt.timeout, Logger: nolog})
			require.NoError(t, err)
			defer ul.Close()
			assert.Equal(t, tt.expected, ul.writeTimeout)
		})
	}

	timeout := &net.OpError{Op: "write", Net: "udp", Err: os.ErrDeadlineExceeded}
	assert.ErrorIs(t, writeError(timeout), ErrWouldBlock)
	assert.NotErrorIs(t, writeError(net.ErrClosed), ErrWouldBlock)
}

func TestQUICLink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping QUIC tunnel test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := StreamConfig{Logger: logger.NewNoOpLogger()}
	server, err := NewQUICLink(ctx, QUICConfig{Address: "127.0.0.1:0", IsServer: true, Stream: stream})
	require.NoError(t, err)
	defer server.Close()

	assert.False(t, server.Connected())
	assert.ErrorIs(t, server.Send([]byte{1}), ErrWouldBlock)

	client, err := NewQUICLink(ctx, QUICConfig{Address: server.LocalAddr().String(), Stream: stream})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte{0x01, 0x09, 0x08, 0xC0, 0x7E}))
	assert.Equal(t, []byte{0x01, 0x09, 0x08, 0xC0, 0x7E}, recvEventually(t, server))
	assert.True(t, server.Connected())

	require.NoError(t, server.Send([]byte{0x55}))
	assert.Equal(t, []byte{0x55}, recvEventually(t, client))

	assert.Equal(t, uint64(1), server.Statistics().Connects)
}
