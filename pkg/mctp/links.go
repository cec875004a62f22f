package mctp

import (
	"context"
	"fmt"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/config"
	"avaneesh/mctp-go/pkg/internal/logger"
)

// openLinks creates every enabled bus and adds it to a new set.
// Loopback buses are created in pairs when the first end is seen.
func openLinks(ctx context.Context, buses []config.BusConfig, log logger.Logger) (*binding.Set, error) {
	capacity := len(buses)
	if capacity == 0 {
		capacity = 1
	}
	set, err := binding.NewSet(capacity)
	if err != nil {
		return nil, err
	}

	pending := make(map[string]*binding.Loopback)
	for _, bc := range buses {
		if bc.Disabled {
			log.Info("Endpoint: bus %s disabled", bc.Name)
			continue
		}

		var link binding.Link
		if bc.Type == config.BusLoopback {
			if peer, ok := pending[bc.Name]; ok {
				link = peer
				delete(pending, bc.Name)
			} else {
				a, b := binding.NewLoopbackPair(bc.QueueDepth, bc.MaxPacketSize)
				pending[bc.Peer] = b
				link = a
			}
		} else {
			link, err = openLink(ctx, bc, log)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("bus %s: %w", bc.Name, err)
			}
		}

		h, err := set.Add(bc.Name, link)
		if err != nil {
			link.Close()
			set.Close()
			return nil, fmt.Errorf("bus %s: %w", bc.Name, err)
		}
		log.Info("Endpoint: bus %s (%s) attached as %s", bc.Name, bc.Type, h)
	}

	// Ends whose peer is disabled have nowhere to go
	for name, l := range pending {
		log.Warn("Endpoint: loopback peer %s not attached", name)
		l.Close()
	}
	return set, nil
}

// openLink creates one non-loopback link
func openLink(ctx context.Context, bc config.BusConfig, log logger.Logger) (binding.Link, error) {
	stream := binding.StreamConfig{
		Name:          bc.Name,
		QueueDepth:    bc.QueueDepth,
		MaxPacketSize: bc.MaxPacketSize,
		Logger:        log,
	}

	switch bc.Type {
	case config.BusUDP:
		return binding.NewUDPLink(binding.UDPConfig{
			Address:       bc.Address,
			IsServer:      bc.Server,
			WriteTimeout:  bc.WriteTimeout,
			QueueDepth:    bc.QueueDepth,
			MaxPacketSize: bc.MaxPacketSize,
			Logger:        log,
		})
	case config.BusTCP:
		if bc.Server {
			log.Info("Endpoint: bus %s waiting for a peer on %s", bc.Name, bc.Address)
			return binding.ListenStream(ctx, bc.Address, stream)
		}
		return binding.DialStream(ctx, bc.Address, stream)
	case config.BusSerial:
		return binding.OpenSerialDevice(bc.Device, stream)
	case config.BusQUIC:
		return binding.NewQUICLink(ctx, binding.QUICConfig{
			Address:  bc.Address,
			IsServer: bc.Server,
			Stream:   stream,
		})
	default:
		return nil, fmt.Errorf("unsupported bus type %q", bc.Type)
	}
}
