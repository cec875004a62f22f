package reassembly

import "fmt"

// Config holds configuration for the reassembly slot table.
// All buffers are sized from it once, in New.
type Config struct {
	// Slots is the number of concurrent inbound messages tracked
	// Default: 16
	Slots int

	// MaxMessageSize is the capacity of each slot's message buffer
	// Default: 1024 bytes
	MaxMessageSize int

	// TimeoutTicks is the number of AgeTick calls a context may stay idle
	// Default: 60 (6 seconds at a 100ms tick)
	TimeoutTicks uint32
}

// DefaultConfig returns default reassembly configuration
func DefaultConfig() Config {
	return Config{
		Slots:          16,
		MaxMessageSize: 1024,
		TimeoutTicks:   60,
	}
}

// Validate checks that the configuration can build a table
func (c Config) Validate() error {
	if c.Slots <= 0 {
		return fmt.Errorf("%w: slots must be positive, got %d", ErrInvalidConfig, c.Slots)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.TimeoutTicks == 0 {
		return fmt.Errorf("%w: timeout ticks must be positive", ErrInvalidConfig)
	}
	return nil
}
