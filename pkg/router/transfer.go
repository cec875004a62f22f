package router

import (
	"errors"
	"fmt"
	"io"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/reassembly"
	"avaneesh/mctp-go/pkg/routing"
)

// Send fragments msg and sends it to dest from the local EID.
// The first transport error aborts the message and is returned; packets
// already sent are not recalled and nothing is retried.
func (r *Router) Send(dest packet.EID, tag packet.Tag, msg []byte) error {
	return r.send(r.EID(), dest, tag, msg)
}

func (r *Router) send(src, dest packet.EID, tag packet.Tag, msg []byte) error {
	if len(msg) == 0 {
		return packet.ErrEmptyMessage
	}

	if dest == packet.EIDBroadcast {
		var sendErr error
		_, err := r.routes.Broadcast(func(e routing.Entry) bool {
			sendErr = r.sendOn(e, src, tag, msg)
			return sendErr == nil
		})
		if err != nil {
			return r.busy(err)
		}
		return sendErr
	}

	e, err := r.routes.Resolve(dest)
	if err != nil {
		return r.busy(err)
	}
	return r.sendOn(e, src, tag, msg)
}

// sendOn sends every packet of msg over the route e
func (r *Router) sendOn(e routing.Entry, src packet.EID, tag packet.Tag, msg []byte) error {
	if !r.txMu.TryLock() {
		r.stats.busy.Add(1)
		return ErrBusy
	}
	defer r.txMu.Unlock()

	frag, err := packet.NewFragmenter(src, e.EID, tag, r.config.MTU, msg)
	if err != nil {
		return err
	}

	for i := 1; ; i++ {
		n, err := frag.Next(r.txBuf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if r.addressed != nil && !e.Addr.IsZero() {
			err = r.addressed.SendTo(e.Bus, e.Addr, r.txBuf[:n])
		} else {
			err = r.tr.Send(e.Bus, r.txBuf[:n])
		}
		if err != nil {
			r.stats.sendFailures.Add(1)
			r.logger.Debug("Router: send to %s failed at packet %d/%d: %v", e, i, frag.Count(), err)
			return fmt.Errorf("send to %s packet %d/%d: %w", e.EID, i, frag.Count(), err)
		}
		r.stats.txPackets.Add(1)
	}

	r.stats.txMessages.Add(1)
	return nil
}

// Inbound processes one packet received on bus. Dropped packets are
// counted, not returned; the only error is ErrBusy when a guard is held.
func (r *Router) Inbound(bus binding.BusHandle, pkt []byte) error {
	r.stats.rxPackets.Add(1)

	h, payload, err := packet.Decode(pkt)
	if err != nil {
		r.stats.decodeErrors.Add(1)
		r.logger.Debug("Router: %s: dropped %d byte packet: %v", bus, len(pkt), err)
		return nil
	}

	_, err = r.reasm.OnPacket(h, payload, func(m reassembly.Message) {
		r.onMessage(bus, m)
	})
	switch {
	case err == nil:
	case errors.Is(err, reassembly.ErrBusy):
		return r.busy(err)
	case errors.Is(err, reassembly.ErrTableFull):
		r.stats.tableFull.Add(1)
		r.logger.Debug("Router: %s: %s from %s dropped: %v", bus, h.Tag, h.Source, err)
	case errors.Is(err, reassembly.ErrSequenceMismatch):
		r.stats.sequenceErrors.Add(1)
		r.logger.Debug("Router: %s: message from %s abandoned: %v", bus, h.Source, err)
	case errors.Is(err, reassembly.ErrMessageTooLarge):
		r.stats.overflows.Add(1)
		r.logger.Debug("Router: %s: message from %s abandoned: %v", bus, h.Source, err)
	default:
		r.logger.Warn("Router: %s: reassembly error: %v", bus, err)
	}
	return nil
}

// onMessage runs for every completed message while the reassembly slot
// is held. bus is the bus the final packet arrived on.
func (r *Router) onMessage(bus binding.BusHandle, m reassembly.Message) {
	local, err := r.isLocal(m.Dest)
	if err != nil {
		r.busy(err)
		r.logger.Warn("Router: message %s -> %s dropped: %v", m.Key, m.Dest, err)
		return
	}

	if !local {
		if !r.config.Bridging {
			r.stats.notLocal.Add(1)
			return
		}
		r.bridge(bus, m)
		return
	}

	h, err := r.lookupHandler(m.Source, m.Tag, m.Payload)
	if err != nil {
		r.stats.busy.Add(1)
		r.logger.Warn("Router: message %s dropped: %v", m.Key, err)
		return
	}
	if h == nil {
		r.stats.noHandler.Add(1)
		return
	}

	r.stats.delivered.Add(1)
	h.OnMessage(m.Source, m.Tag, m.Payload)
}

// bridge forwards m toward its destination with source and tag preserved.
// A route leading back out of the ingress bus is dropped.
func (r *Router) bridge(ingress binding.BusHandle, m reassembly.Message) {
	e, err := r.routes.Resolve(m.Dest)
	if err != nil {
		r.busy(err)
		r.logger.Debug("Router: bridge %s -> %s failed: %v", m.Key, m.Dest, err)
		return
	}
	if e.Bus == ingress {
		r.stats.bridgeLoops.Add(1)
		r.logger.Debug("Router: bridge %s -> %s dropped: route leads back to %s", m.Key, m.Dest, ingress)
		return
	}
	if err := r.sendOn(e, m.Source, m.Tag, m.Payload); err != nil {
		r.logger.Debug("Router: bridge %s -> %s failed: %v", m.Key, m.Dest, err)
		return
	}
	r.stats.bridged.Add(1)
}

// Poll drains every attached bus, at most MaxPollPackets per bus.
// Receive errors are counted and skipped; a closed or unknown bus is
// left for the next call. Returns the number of packets processed.
func (r *Router) Poll() (int, error) {
	if !r.rxMu.TryLock() {
		r.stats.busy.Add(1)
		return 0, ErrBusy
	}
	defer r.rxMu.Unlock()

	total := 0
	var busyErr error
	for _, bus := range r.pollBuses() {
		for i := 0; i < r.config.MaxPollPackets; i++ {
			n, ok, err := r.tr.TryRecv(bus, r.rxBuf)
			if err != nil {
				r.stats.recvErrors.Add(1)
				r.logger.Debug("Router: %s: receive failed: %v", bus, err)
				if errors.Is(err, binding.ErrClosed) || errors.Is(err, binding.ErrUnknownBus) {
					break
				}
				continue
			}
			if !ok {
				break
			}
			total++
			if err := r.Inbound(bus, r.rxBuf[:n]); err != nil {
				busyErr = err
			}
		}
	}
	return total, busyErr
}

// Tick advances reassembly and request tag ages by one tick.
// Request tags age even when the reassembly table is busy; the returned
// ErrBusy means the reassembly tick was skipped and should be retried.
func (r *Router) Tick() error {
	_, err := r.reasm.AgeTick(func(k reassembly.Key, err error) {
		r.stats.timeouts.Add(1)
		r.logger.Info("Router: message %s abandoned: %v", k, err)
	})
	if err != nil {
		err = r.busy(err)
	}
	return errors.Join(err, r.ageRequests())
}
