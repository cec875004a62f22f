package packet

import (
	"fmt"
)

// Header represents the MCTP transport header of one packet
type Header struct {
	Version uint8 // Header version
	Dest    EID   // Destination endpoint ID
	Source  EID   // Source endpoint ID
	SOM     bool  // Start of message
	EOM     bool  // End of message
	Seq     uint8 // Packet sequence number (0-3)
	Tag     Tag   // Message tag and tag owner
}

// NewHeader creates a header for the current header version
func NewHeader(dest, src EID, som, eom bool, seq uint8, tag Tag) Header {
	return Header{
		Version: HeaderVersion,
		Dest:    dest,
		Source:  src,
		SOM:     som,
		EOM:     eom,
		Seq:     seq & SeqMask,
		Tag:     Tag{Value: tag.Value & TagMask, Owner: tag.Owner},
	}
}

// flags builds header byte 3
func (h Header) flags() uint8 {
	b := (h.Seq & SeqMask) << SeqShift
	b |= h.Tag.Value & TagMask
	if h.SOM {
		b |= FlagSOM
	}
	if h.EOM {
		b |= FlagEOM
	}
	if h.Tag.Owner {
		b |= FlagTO
	}
	return b
}

// parseFlags parses header byte 3 into header fields
func (h *Header) parseFlags(b uint8) {
	h.SOM = b&FlagSOM != 0
	h.EOM = b&FlagEOM != 0
	h.Seq = (b >> SeqShift) & SeqMask
	h.Tag = Tag{Value: b & TagMask, Owner: b&FlagTO != 0}
}

// Encode writes the header into the first HeaderSize bytes of out
func (h Header) Encode(out []byte) error {
	if len(out) < HeaderSize {
		return ErrBufferTooSmall
	}
	out[0] = h.Version & VersionMask
	out[1] = byte(h.Dest)
	out[2] = byte(h.Source)
	out[3] = h.flags()
	return nil
}

// Decode parses a raw packet.
// The returned payload aliases b and is only valid as long as b is.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, ErrTooShort
	}

	var h Header
	h.Version = b[0] & VersionMask
	if h.Version != HeaderVersion {
		return Header{}, nil, ErrUnsupportedVersion
	}
	h.Dest = EID(b[1])
	h.Source = EID(b[2])
	h.parseFlags(b[3])

	// A message always starts at sequence 0
	if h.SOM && h.Seq != 0 {
		return Header{}, nil, ErrInvalidFlags
	}

	return h, b[HeaderSize:], nil
}

// EncodeFragment writes one packet (header + chunk) into out.
// Returns the number of bytes written.
func EncodeFragment(h Header, chunk []byte, out []byte) (int, error) {
	n := HeaderSize + len(chunk)
	if len(out) < n {
		return 0, ErrBufferTooSmall
	}
	if err := h.Encode(out); err != nil {
		return 0, err
	}
	copy(out[HeaderSize:n], chunk)
	return n, nil
}

// String returns a string representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{Dst=%s, Src=%s, SOM=%t, EOM=%t, Seq=%d, Tag=%s}",
		h.Dest, h.Source, h.SOM, h.EOM, h.Seq, h.Tag)
}
