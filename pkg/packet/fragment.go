package packet

import "io"

// Fragmenter splits one outbound message into MTU sized packets.
// It keeps only offsets into the caller's message; packets are written
// into caller supplied buffers.
type Fragmenter struct {
	src  EID
	dest EID
	tag  Tag
	mtu  int
	msg  []byte

	offset int
	seq    uint8
}

// NewFragmenter creates a fragmenter for msg
func NewFragmenter(src, dest EID, tag Tag, mtu int, msg []byte) (Fragmenter, error) {
	if mtu < 1 {
		return Fragmenter{}, ErrInvalidMTU
	}
	if len(msg) == 0 {
		return Fragmenter{}, ErrEmptyMessage
	}
	return Fragmenter{
		src:  src,
		dest: dest,
		tag:  Tag{Value: tag.Value & TagMask, Owner: tag.Owner},
		mtu:  mtu,
		msg:  msg,
	}, nil
}

// PacketCount returns the number of packets a message of msgLen bytes needs
func PacketCount(msgLen, mtu int) int {
	if msgLen <= 0 || mtu <= 0 {
		return 0
	}
	return (msgLen + mtu - 1) / mtu
}

// Count returns the total number of packets for the message
func (f *Fragmenter) Count() int {
	return PacketCount(len(f.msg), f.mtu)
}

// Done returns true once every packet has been produced
func (f *Fragmenter) Done() bool {
	return f.offset >= len(f.msg)
}

// Tag returns the tag used for every packet of the message
func (f *Fragmenter) Tag() Tag {
	return f.tag
}

// Next writes the next packet into out and returns its length.
// Returns io.EOF when the message has been fully fragmented.
// On ErrBufferTooSmall the fragmenter does not advance.
func (f *Fragmenter) Next(out []byte) (int, error) {
	if f.Done() {
		return 0, io.EOF
	}

	remaining := len(f.msg) - f.offset
	size := f.mtu
	if remaining < size {
		size = remaining
	}

	som := f.offset == 0
	eom := f.offset+size >= len(f.msg)

	h := NewHeader(f.dest, f.src, som, eom, f.seq, f.tag)
	n, err := EncodeFragment(h, f.msg[f.offset:f.offset+size], out)
	if err != nil {
		return 0, err
	}

	f.offset += size
	f.seq = (f.seq + 1) & SeqMask
	return n, nil
}
