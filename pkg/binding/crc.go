package binding

// Serial binding FCS-16.
// CRC-16/CCITT with reflected polynomial 0x8408 (x^16 + x^12 + x^5 + 1),
// initial value 0xFFFF and no final inversion.

// FCSInit is the initial FCS value
const FCSInit uint16 = 0xFFFF

var fcsTable [256]uint16

func init() {
	const poly uint16 = 0x8408

	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

// UpdateFCS folds data into a running FCS
func UpdateFCS(fcs uint16, data []byte) uint16 {
	for _, b := range data {
		fcs = (fcs >> 8) ^ fcsTable[byte(fcs)^b]
	}
	return fcs
}

// updateFCSByte folds one byte into a running FCS
func updateFCSByte(fcs uint16, b byte) uint16 {
	return (fcs >> 8) ^ fcsTable[byte(fcs)^b]
}
