package router

import (
	"fmt"

	"avaneesh/mctp-go/pkg/packet"
)

// Cookie identifies a listener or request handle.
// Listener cookies come first, followed by request cookies.
type Cookie uint16

const maxCookies = 1024

// listener receives owned-tag messages of one type
type listener struct {
	used    bool
	typ     packet.MsgType
	handler Handler
}

// request tracks owned tags sent to one destination
type request struct {
	used    bool
	dest    packet.EID
	handler Handler

	tag     packet.Tag
	pending bool
	age     uint32
}

// Listen registers h for incoming requests of message type typ
func (r *Router) Listen(typ packet.MsgType, h Handler) (Cookie, error) {
	if h == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidConfig)
	}
	if !r.handleMu.TryLock() {
		r.stats.busy.Add(1)
		return 0, ErrBusy
	}
	defer r.handleMu.Unlock()

	free := -1
	for i := range r.listeners {
		l := &r.listeners[i]
		if l.used && l.typ == typ {
			return 0, fmt.Errorf("%w: %s", ErrAddrInUse, typ)
		}
		if !l.used && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return 0, ErrNoSpace
	}

	r.listeners[free] = listener{used: true, typ: typ, handler: h}
	r.logger.Debug("Router: listening for %s", typ)
	return Cookie(free), nil
}

// Request opens a request handle to dest. Responses to requests sent
// through the handle are delivered to h.
func (r *Router) Request(dest packet.EID, h Handler) (Cookie, error) {
	if h == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidConfig)
	}
	if !dest.IsValidTarget() {
		return 0, fmt.Errorf("request to %s: %w", dest, ErrInvalidEID)
	}
	if !r.handleMu.TryLock() {
		r.stats.busy.Add(1)
		return 0, ErrBusy
	}
	defer r.handleMu.Unlock()

	for i := range r.requests {
		q := &r.requests[i]
		if !q.used {
			*q = request{used: true, dest: dest, handler: h}
			return Cookie(len(r.listeners) + i), nil
		}
	}
	return 0, ErrNoSpace
}

// SendRequest sends msg through request handle c with a freshly allocated
// owned tag, releasing any tag the handle still held.
func (r *Router) SendRequest(c Cookie, msg []byte) (packet.Tag, error) {
	if !r.handleMu.TryLock() {
		r.stats.busy.Add(1)
		return packet.Tag{}, ErrBusy
	}
	q, err := r.requestFor(c)
	if err != nil {
		r.handleMu.Unlock()
		return packet.Tag{}, err
	}
	q.pending = false
	v, ok := r.allocTag(q.dest)
	if !ok {
		r.handleMu.Unlock()
		return packet.Tag{}, fmt.Errorf("request to %s: %w", q.dest, ErrNoTag)
	}
	tag := packet.OwnedTag(v)
	q.tag = tag
	q.pending = true
	q.age = 0
	dest := q.dest
	r.handleMu.Unlock()

	if err := r.Send(dest, tag, msg); err != nil {
		// Release the tag unless the handle moved on; a busy guard leaves
		// it to expire.
		if r.handleMu.TryLock() {
			if q, qerr := r.requestFor(c); qerr == nil && q.pending && q.tag == tag {
				q.pending = false
			}
			r.handleMu.Unlock()
		}
		return packet.Tag{}, err
	}
	return tag, nil
}

// Respond sends msg back to dest using tag with the owner bit cleared
func (r *Router) Respond(dest packet.EID, tag packet.Tag, msg []byte) error {
	return r.Send(dest, packet.UnownedTag(tag.Value), msg)
}

// Unbind releases a listener or request handle
func (r *Router) Unbind(c Cookie) error {
	if !r.handleMu.TryLock() {
		r.stats.busy.Add(1)
		return ErrBusy
	}
	defer r.handleMu.Unlock()

	idx := int(c)
	if idx < len(r.listeners) {
		if !r.listeners[idx].used {
			return fmt.Errorf("%w: %d", ErrBadCookie, c)
		}
		r.listeners[idx] = listener{}
		return nil
	}

	q, err := r.requestFor(c)
	if err != nil {
		return err
	}
	*q = request{}
	return nil
}

// requestFor returns the used request handle for c. Caller holds handleMu.
func (r *Router) requestFor(c Cookie) (*request, error) {
	idx := int(c) - len(r.listeners)
	if idx < 0 || idx >= len(r.requests) || !r.requests[idx].used {
		return nil, fmt.Errorf("%w: %d", ErrBadCookie, c)
	}
	return &r.requests[idx], nil
}

// allocTag picks a tag value not in flight to dest, rotating so a just
// released value is not handed out again immediately. Caller holds handleMu.
func (r *Router) allocTag(dest packet.EID) (uint8, bool) {
	var inUse [packet.MaxTag + 1]bool
	for i := range r.requests {
		q := &r.requests[i]
		if q.used && q.pending && q.dest == dest {
			inUse[q.tag.Value] = true
		}
	}

	for i := 0; i <= packet.MaxTag; i++ {
		v := (r.nextTag + uint8(i)) & packet.TagMask
		if !inUse[v] {
			r.nextTag = (v + 1) & packet.TagMask
			return v, true
		}
	}
	return 0, false
}

// lookupHandler picks the handler for a completed local message
func (r *Router) lookupHandler(source packet.EID, tag packet.Tag, payload []byte) (Handler, error) {
	if !r.handleMu.TryLock() {
		return nil, ErrBusy
	}
	defer r.handleMu.Unlock()

	if !tag.Owner {
		for i := range r.requests {
			q := &r.requests[i]
			if q.used && q.pending && q.dest == source && q.tag.Value == tag.Value {
				q.pending = false
				return q.handler, nil
			}
		}
	} else if typ, _, ok := packet.MessageType(payload); ok {
		for i := range r.listeners {
			l := &r.listeners[i]
			if l.used && l.typ == typ {
				return l.handler, nil
			}
		}
	}
	return r.handler, nil
}

// ageRequests expires request tags that went unanswered
func (r *Router) ageRequests() error {
	if !r.handleMu.TryLock() {
		r.stats.busy.Add(1)
		return ErrBusy
	}
	defer r.handleMu.Unlock()

	for i := range r.requests {
		q := &r.requests[i]
		if !q.used || !q.pending {
			continue
		}
		q.age++
		if q.age > r.config.TagTimeoutTicks {
			q.pending = false
			r.stats.tagTimeouts.Add(1)
			r.logger.Debug("Router: request tag %s to %s expired", q.tag, q.dest)
		}
	}
	return nil
}
