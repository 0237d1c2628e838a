// pkg/natbus/configrecord.go
package natbus

import "encoding/binary"

// ConfigRecord is the parsed Miniserver configuration (spec section 3):
// a fixed 8-byte header, an extension-specific trailer, and a trailing
// CRC32 the Miniserver persists alongside it.
type ConfigRecord struct {
	ConfigSize            byte
	ConfigVersion         byte
	LedSyncOffset         byte
	Reserved              byte
	OfflineTimeoutSeconds uint32
	Trailer               []byte
}

const configHeaderLen = 8

// ParseConfigRecord parses the wire layout. It fails only when the
// payload is shorter than the fixed header; a short payload leaves the
// stored ConfigurationCrc untouched (spec section 7).
func ParseConfigRecord(payload []byte) (ConfigRecord, error) {
	if len(payload) < configHeaderLen {
		return ConfigRecord{}, ErrConfigTooShort
	}
	rec := ConfigRecord{
		ConfigSize:            payload[0],
		ConfigVersion:         payload[1],
		LedSyncOffset:         payload[2],
		Reserved:              payload[3],
		OfflineTimeoutSeconds: binary.LittleEndian.Uint32(payload[4:8]),
	}
	if len(payload) > configHeaderLen {
		rec.Trailer = append([]byte(nil), payload[configHeaderLen:]...)
	}
	return rec, nil
}

// CanonicalHeaderCrc computes ConfigurationCrc: the STM32 CRC over the
// first 12 bytes of the canonical record: the 8-byte header followed by
// the first four trailer bytes, zero-padded to 12 when the trailer is
// shorter. Trailer bytes past the first four do not affect it (spec
// section 3 invariant).
func (r ConfigRecord) CanonicalHeaderCrc() uint32 {
	buf := make([]byte, configHeaderLen)
	buf[0] = r.ConfigSize
	buf[1] = r.ConfigVersion
	buf[2] = r.LedSyncOffset
	buf[3] = r.Reserved
	binary.LittleEndian.PutUint32(buf[4:8], r.OfflineTimeoutSeconds)

	const canonicalLen = 12
	if len(r.Trailer) > 0 {
		n := len(r.Trailer)
		if n > canonicalLen-configHeaderLen {
			n = canonicalLen - configHeaderLen
		}
		buf = append(buf, r.Trailer[:n]...)
	}
	if len(buf) < canonicalLen {
		padded := make([]byte, canonicalLen)
		copy(padded, buf)
		buf = padded
	}
	return Crc32(buf)
}
