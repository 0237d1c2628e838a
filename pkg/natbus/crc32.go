// pkg/natbus/crc32.go
package natbus

// STM32 hardware CRC unit parameters: polynomial 0x04C11DB7, seed
// 0xFFFFFFFF, MSB-first, no input/output reflection, no final XOR. The
// unit consumes 32-bit words; Cortex-M is little-endian, so a 4-byte slice
// is read the way `*(uint32_t*)ptr` would see it on that core.
const (
	stm32CrcPoly uint32 = 0x04C11DB7
	stm32CrcInit uint32 = 0xFFFFFFFF
)

// Crc32 computes the STM32-compatible CRC32 over buf. buf's length must be
// a multiple of 4; callers needing fewer than 4 bytes, or a non-multiple,
// must round down and zero-pad first (see PadToWord). Crc32 panics if that
// invariant is violated; callers in this package either go through
// PadToWord (Crc32Padded) or pass a fixed 12-byte buffer
// (CanonicalHeaderCrc).
func Crc32(buf []byte) uint32 {
	if len(buf)%4 != 0 {
		panic("natbus: Crc32 requires a buffer length that is a multiple of 4")
	}

	crc := stm32CrcInit
	for i := 0; i < len(buf); i += 4 {
		word := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
		crc ^= word
		for bit := 0; bit < 32; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ stm32CrcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// PadToWord applies the round-down/zero-pad rule in spec section 4.2: a
// buffer shorter than 4 bytes is zero-padded to 4; a longer one is cut
// down to the largest multiple of 4 (trailing bytes are dropped).
func PadToWord(buf []byte) []byte {
	n := len(buf)
	if n < 4 {
		padded := make([]byte, 4)
		copy(padded, buf)
		return padded
	}
	return buf[:n-n%4]
}

// Crc32Padded is the convenience most callers want: pad then checksum.
func Crc32Padded(buf []byte) uint32 {
	return Crc32(PadToWord(buf))
}
