package packet

import (
	"errors"
	"fmt"
)

// MCTP base transport header constants (DSP0236)

// Sizes
const (
	HeaderSize    = 4  // Transport header is 4 bytes
	HeaderVersion = 1  // Header version supported by this stack
	BaselineMTU   = 64 // Baseline transmission unit every endpoint must accept
)

// Header byte 0
const (
	VersionMask uint8 = 0x0F // Header version (lower 4 bits, upper 4 reserved)
)

// Header byte 3 (flags, sequence, tag)
const (
	FlagSOM   uint8 = 0x80 // Start of message
	FlagEOM   uint8 = 0x40 // End of message
	SeqShift        = 4    // Packet sequence position
	SeqMask   uint8 = 0x03 // Packet sequence number mask (2 bits)
	FlagTO    uint8 = 0x08 // Tag owner
	TagMask   uint8 = 0x07 // Message tag mask (3 bits)
	MaxTag          = 7
)

// Message body byte 0
const (
	MsgTypeIC   uint8 = 0x80 // Integrity check present
	MsgTypeMask uint8 = 0x7F
)

// Errors
var (
	ErrTooShort           = errors.New("packet too short")
	ErrUnsupportedVersion = errors.New("unsupported header version")
	ErrInvalidFlags       = errors.New("invalid header flags")
	ErrBufferTooSmall     = errors.New("output buffer too small")
	ErrInvalidMTU         = errors.New("invalid MTU")
	ErrEmptyMessage       = errors.New("empty message")
)

// EID is an MCTP endpoint ID
type EID uint8

// Reserved endpoint IDs
const (
	EIDNull      EID = 0x00 // Null (unassigned) endpoint ID
	EIDBroadcast EID = 0xFF // Broadcast endpoint ID
)

// IsValidTarget reports whether the EID can be used as a unicast target
func (e EID) IsValidTarget() bool {
	return e != EIDNull && e != EIDBroadcast
}

// String returns string representation of EID
func (e EID) String() string {
	switch e {
	case EIDNull:
		return "null"
	case EIDBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("%d", uint8(e))
	}
}

// Tag is a message tag plus its tag-owner bit
type Tag struct {
	Value uint8 // Message tag (0-7)
	Owner bool  // Tag owner (set by the requester)
}

// OwnedTag returns a tag with the owner bit set
func OwnedTag(v uint8) Tag {
	return Tag{Value: v & TagMask, Owner: true}
}

// UnownedTag returns a tag with the owner bit cleared
func UnownedTag(v uint8) Tag {
	return Tag{Value: v & TagMask}
}

// String returns string representation of Tag
func (t Tag) String() string {
	if t.Owner {
		return fmt.Sprintf("%d(TO)", t.Value)
	}
	return fmt.Sprintf("%d", t.Value)
}

// MsgType is the MCTP message type carried in the first body byte
type MsgType uint8

// Well known message types (DSP0239)
const (
	MsgTypeControl    MsgType = 0x00
	MsgTypePLDM       MsgType = 0x01
	MsgTypeNCSI       MsgType = 0x02
	MsgTypeEthernet   MsgType = 0x03
	MsgTypeNVMeMI     MsgType = 0x04
	MsgTypeSPDM       MsgType = 0x05
	MsgTypeVendorPCI  MsgType = 0x7E
	MsgTypeVendorIANA MsgType = 0x7F
)

// String returns string representation of MsgType
func (m MsgType) String() string {
	switch m {
	case MsgTypeControl:
		return "Control"
	case MsgTypePLDM:
		return "PLDM"
	case MsgTypeNCSI:
		return "NC-SI"
	case MsgTypeEthernet:
		return "Ethernet"
	case MsgTypeNVMeMI:
		return "NVMe-MI"
	case MsgTypeSPDM:
		return "SPDM"
	case MsgTypeVendorPCI:
		return "VendorPCI"
	case MsgTypeVendorIANA:
		return "VendorIANA"
	default:
		return fmt.Sprintf("0x%02X", uint8(m))
	}
}

// MessageType reads the message type and IC bit from the first body byte.
// The rest of the body is not interpreted.
func MessageType(body []byte) (typ MsgType, ic bool, ok bool) {
	if len(body) == 0 {
		return 0, false, false
	}
	return MsgType(body[0] & MsgTypeMask), body[0]&MsgTypeIC != 0, true
}
