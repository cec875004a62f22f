package binding

import (
	"errors"
	"fmt"
)

// Serial framing constants
const (
	SerialFlag     = 0x7E
	SerialEscape   = 0x7D
	SerialRevision = 0x01

	// SerialMaxPacket is the largest packet a one byte count can describe
	SerialMaxPacket = 255

	serialEscapeMask = 0x20
	serialOverhead   = 6 // flag, revision, count, fcs msb, fcs lsb, flag
)

var (
	ErrBadFCS       = errors.New("serial frame FCS mismatch")
	ErrBadRevision  = errors.New("unsupported serial revision")
	ErrFrameTooLong = errors.New("serial frame too long")
	ErrBadFrame     = errors.New("malformed serial frame")
)

func needsEscape(b byte) bool {
	return b == SerialFlag || b == SerialEscape
}

// SerialFrameLen returns the encoded length of pkt including escapes
func SerialFrameLen(pkt []byte) int {
	n := serialOverhead + len(pkt)
	for _, b := range pkt {
		if needsEscape(b) {
			n++
		}
	}
	return n
}

// EncodeSerialFrame writes pkt as one serial frame into out.
// Only packet bytes are escaped; the count and FCS are positional.
func EncodeSerialFrame(pkt []byte, out []byte) (int, error) {
	if len(pkt) == 0 || len(pkt) > SerialMaxPacket {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(pkt))
	}
	need := SerialFrameLen(pkt)
	if len(out) < need {
		return 0, fmt.Errorf("serial frame needs %d bytes, have %d", need, len(out))
	}

	out[0] = SerialFlag
	out[1] = SerialRevision
	out[2] = byte(len(pkt))
	fcs := UpdateFCS(FCSInit, out[1:3])

	pos := 3
	for _, b := range pkt {
		fcs = updateFCSByte(fcs, b)
		if needsEscape(b) {
			out[pos] = SerialEscape
			out[pos+1] = b &^ serialEscapeMask
			pos += 2
			continue
		}
		out[pos] = b
		pos++
	}

	out[pos] = byte(fcs >> 8)
	out[pos+1] = byte(fcs)
	out[pos+2] = SerialFlag
	return pos + 3, nil
}

// AppendSerialFrame appends the frame for pkt to dst
func AppendSerialFrame(dst, pkt []byte) ([]byte, error) {
	start := len(dst)
	need := SerialFrameLen(pkt)
	if cap(dst)-start < need {
		grown := make([]byte, start, start+need)
		copy(grown, dst)
		dst = grown
	}
	n, err := EncodeSerialFrame(pkt, dst[start:start+need])
	if err != nil {
		return dst[:start], err
	}
	return dst[:start+n], nil
}

type serialState uint8

const (
	serialIdle serialState = iota
	serialRevisionByte
	serialCountByte
	serialData
	serialDataEscape
	serialFCSHigh
	serialFCSLow
	serialEnd
	serialResync
)

// SerialDecoder extracts packets from a serial byte stream one byte at a time
type SerialDecoder struct {
	state serialState
	buf   []byte
	count int
	fill  int
	fcs   uint16
	rxFCS uint16
}

// NewSerialDecoder creates a decoder accepting packets up to maxPacket bytes
func NewSerialDecoder(maxPacket int) *SerialDecoder {
	if maxPacket <= 0 || maxPacket > SerialMaxPacket {
		maxPacket = SerialMaxPacket
	}
	return &SerialDecoder{buf: make([]byte, maxPacket)}
}

// Reset discards any partial frame
func (d *SerialDecoder) Reset() {
	d.state = serialIdle
	d.count = 0
	d.fill = 0
}

// Push feeds one byte. When it completes a valid frame the packet is
// returned; the slice is only valid until the next call to Push.
// A framing error discards the partial frame and the decoder resyncs
// on the next flag.
func (d *SerialDecoder) Push(c byte) ([]byte, error) {
	switch d.state {
	case serialIdle:
		if c == SerialFlag {
			d.state = serialRevisionByte
		}

	case serialResync:
		if c == SerialFlag {
			d.state = serialRevisionByte
		}

	case serialRevisionByte:
		if c == SerialFlag {
			// Back to back flags between frames
			return nil, nil
		}
		if c != SerialRevision {
			return nil, d.fail(fmt.Errorf("%w: 0x%02x", ErrBadRevision, c))
		}
		d.fcs = updateFCSByte(FCSInit, c)
		d.state = serialCountByte

	case serialCountByte:
		if c == 0 || int(c) > len(d.buf) {
			return nil, d.fail(fmt.Errorf("%w: count %d", ErrFrameTooLong, c))
		}
		d.count = int(c)
		d.fill = 0
		d.fcs = updateFCSByte(d.fcs, c)
		d.state = serialData

	case serialData:
		switch c {
		case SerialFlag:
			d.state = serialRevisionByte
			return nil, fmt.Errorf("%w: flag inside packet", ErrBadFrame)
		case SerialEscape:
			d.state = serialDataEscape
		default:
			d.appendData(c)
		}

	case serialDataEscape:
		if c == SerialFlag {
			d.state = serialRevisionByte
			return nil, fmt.Errorf("%w: flag after escape", ErrBadFrame)
		}
		d.state = serialData
		d.appendData(c | serialEscapeMask)

	case serialFCSHigh:
		d.rxFCS = uint16(c) << 8
		d.state = serialFCSLow

	case serialFCSLow:
		d.rxFCS |= uint16(c)
		d.state = serialEnd

	case serialEnd:
		if c != SerialFlag {
			return nil, d.fail(fmt.Errorf("%w: missing end flag", ErrBadFrame))
		}
		// The closing flag may also open the next frame
		d.state = serialRevisionByte
		if d.rxFCS != d.fcs {
			return nil, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrBadFCS, d.rxFCS, d.fcs)
		}
		return d.buf[:d.count], nil
	}
	return nil, nil
}

func (d *SerialDecoder) appendData(c byte) {
	d.buf[d.fill] = c
	d.fill++
	d.fcs = updateFCSByte(d.fcs, c)
	if d.fill == d.count {
		d.state = serialFCSHigh
	}
}

func (d *SerialDecoder) fail(err error) error {
	d.state = serialResync
	return err
}
