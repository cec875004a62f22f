package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeaderRoundTrip checks every flag/sequence/tag combination survives encode+decode
func TestHeaderRoundTrip(t *testing.T) {
	out := make([]byte, HeaderSize)

	for _, som := range []bool{false, true} {
		for _, eom := range []bool{false, true} {
			for seq := uint8(0); seq <= SeqMask; seq++ {
				if som && seq != 0 {
					continue
				}
				for tag := uint8(0); tag <= MaxTag; tag++ {
					for _, owner := range []bool{false, true} {
						h := NewHeader(9, 8, som, eom, seq, Tag{Value: tag, Owner: owner})
						require.NoError(t, h.Encode(out))

						got, payload, err := Decode(out)
						require.NoError(t, err)
						assert.Equal(t, h, got)
						assert.Empty(t, payload)
					}
				}
			}
		}
	}
}

// TestHeaderWireLayout checks the bit positions against the base header layout
func TestHeaderWireLayout(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
		want []byte
	}{
		{
			name: "Single packet request",
			hdr:  NewHeader(0x1D, 0x08, true, true, 0, OwnedTag(3)),
			want: []byte{0x01, 0x1D, 0x08, 0xCB},
		},
		{
			name: "Middle packet response",
			hdr:  NewHeader(0x08, 0x1D, false, false, 2, UnownedTag(5)),
			want: []byte{0x01, 0x08, 0x1D, 0x25},
		},
		{
			name: "Last packet broadcast",
			hdr:  NewHeader(EIDBroadcast, 0x0A, false, true, 3, OwnedTag(7)),
			want: []byte{0x01, 0xFF, 0x0A, 0x7F},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]byte, HeaderSize)
			require.NoError(t, tt.hdr.Encode(out))
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"Nil", nil, ErrTooShort},
		{"Three bytes", []byte{0x01, 0x08, 0x09}, ErrTooShort},
		{"Version zero", []byte{0x00, 0x08, 0x09, 0xC0}, ErrUnsupportedVersion},
		{"Version two", []byte{0x02, 0x08, 0x09, 0xC0}, ErrUnsupportedVersion},
		{"SOM with sequence 1", []byte{0x01, 0x08, 0x09, 0x90}, ErrInvalidFlags},
		{"SOM with sequence 3", []byte{0x01, 0x08, 0x09, 0xB0}, ErrInvalidFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecodeIgnoresReservedBits(t *testing.T) {
	h, payload, err := Decode([]byte{0xF1, 0x08, 0x09, 0xC0, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, uint8(HeaderVersion), h.Version)
	assert.Equal(t, []byte{0xAA}, payload)
}

func TestEncodeFragment(t *testing.T) {
	h := NewHeader(9, 8, true, true, 0, OwnedTag(1))
	chunk := []byte{0x7E, 0x01, 0x02}

	out := make([]byte, HeaderSize+len(chunk))
	n, err := EncodeFragment(h, chunk, out)
	require.NoError(t, err)
	assert.Equal(t, len(out), n)
	assert.Equal(t, chunk, out[HeaderSize:])

	_, err = EncodeFragment(h, chunk, out[:n-1])
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestMessageType(t *testing.T) {
	typ, ic, ok := MessageType([]byte{0x85, 0x00})
	assert.True(t, ok)
	assert.True(t, ic)
	assert.Equal(t, MsgTypeSPDM, typ)

	typ, ic, ok = MessageType([]byte{0x7E})
	assert.True(t, ok)
	assert.False(t, ic)
	assert.Equal(t, MsgTypeVendorPCI, typ)

	_, _, ok = MessageType(nil)
	assert.False(t, ok)
}

func TestEIDIsValidTarget(t *testing.T) {
	assert.False(t, EIDNull.IsValidTarget())
	assert.False(t, EIDBroadcast.IsValidTarget())
	assert.True(t, EID(8).IsValidTarget())
	assert.Equal(t, "broadcast", EIDBroadcast.String())
	assert.Equal(t, "8", EID(8).String())
}
