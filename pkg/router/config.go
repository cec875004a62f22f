package router

import (
	"fmt"

	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/reassembly"
)

// Config holds router configuration. Every buffer is sized from it in New.
type Config struct {
	// LocalEID is the endpoint ID of this node; null until assigned
	LocalEID packet.EID

	// MTU is the payload size of outbound packets
	// Default: 64 (baseline transmission unit)
	MTU int

	// Reassembly configures the inbound slot table
	Reassembly reassembly.Config

	// RouteCapacity is the number of routes the routing table holds
	// Default: 32
	RouteCapacity int

	// LocalCapacity is the number of additional local endpoint IDs
	// Default: 4
	LocalCapacity int

	// Listeners is the number of message type listeners
	// Default: 8
	Listeners int

	// Requests is the number of request handles
	// Default: 8
	Requests int

	// Bridging forwards completed messages for non-local endpoints
	// Default: false
	Bridging bool

	// RxBufferSize is the largest packet Poll accepts from a transport
	// Default: 256 bytes
	RxBufferSize int

	// MaxPollPackets bounds packets drained per bus per Poll call
	// Default: 32
	MaxPollPackets int

	// TagTimeoutTicks is how many Ticks an unanswered request tag stays reserved
	// Default: 60
	TagTimeoutTicks uint32
}

// DefaultConfig returns default router configuration
func DefaultConfig() Config {
	return Config{
		LocalEID:        packet.EIDNull,
		MTU:             packet.BaselineMTU,
		Reassembly:      reassembly.DefaultConfig(),
		RouteCapacity:   32,
		LocalCapacity:   4,
		Listeners:       8,
		Requests:        8,
		Bridging:        false,
		RxBufferSize:    256,
		MaxPollPackets:  32,
		TagTimeoutTicks: 60,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.LocalEID == packet.EIDBroadcast {
		return fmt.Errorf("%w: local EID cannot be broadcast", ErrInvalidConfig)
	}
	if c.MTU < packet.BaselineMTU {
		return fmt.Errorf("%w: MTU %d below baseline %d", ErrInvalidConfig, c.MTU, packet.BaselineMTU)
	}
	if c.RxBufferSize < packet.HeaderSize+c.MTU {
		return fmt.Errorf("%w: rx buffer %d cannot hold a %d byte packet",
			ErrInvalidConfig, c.RxBufferSize, packet.HeaderSize+c.MTU)
	}
	if c.RouteCapacity <= 0 || c.LocalCapacity <= 0 {
		return fmt.Errorf("%w: route and local capacity must be positive", ErrInvalidConfig)
	}
	if c.Listeners <= 0 || c.Requests <= 0 {
		return fmt.Errorf("%w: listener and request counts must be positive", ErrInvalidConfig)
	}
	if c.Listeners+c.Requests > maxCookies {
		return fmt.Errorf("%w: at most %d listeners and requests", ErrInvalidConfig, maxCookies)
	}
	if c.MaxPollPackets <= 0 {
		return fmt.Errorf("%w: max poll packets must be positive", ErrInvalidConfig)
	}
	if c.TagTimeoutTicks == 0 {
		return fmt.Errorf("%w: tag timeout must be positive", ErrInvalidConfig)
	}
	if err := c.Reassembly.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
