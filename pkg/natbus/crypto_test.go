package natbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCryptoConfig() *CryptoConfig {
	return &CryptoConfig{
		AESKeyHex:      []byte{0x01, 0x02, 0x03, 0x04},
		AESIVHex:       []byte{0x05, 0x06, 0x07, 0x08},
		LegacyKey:      [4]uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444},
		LegacyIV:       [4]uint32{0x55555555, 0x66666666, 0x77777777, 0x88888888},
		MasterDeviceID: [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}
}

func TestLegacyScheduleIsDeterministicAndSerialSensitive(t *testing.T) {
	cfg := testCryptoConfig()
	a := legacySchedule(cfg, 42)
	b := legacySchedule(cfg, 42)
	assert.Equal(t, a, b)

	c := legacySchedule(cfg, 43)
	assert.NotEqual(t, a, c, "a different serial must derive a different key/IV")
}

func TestModernScheduleDiffersFromLegacy(t *testing.T) {
	cfg := testCryptoConfig()
	legacy := legacySchedule(cfg, 7)
	modern := modernSchedule(cfg, 7)
	// Spec section 9: legacy uses ~(serial ^ x), modern uses ~serial ^ x.
	// They are deliberately not the same formula; assert they diverge
	// given the same serial and similarly-shaped key material.
	assert.NotEqual(t, legacy.Key, modern.Key)
}

func TestSolveChallengeDeterministic(t *testing.T) {
	deviceID := [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	a := SolveChallenge(deviceID, 0xCAFEBABE, 99)
	b := SolveChallenge(deviceID, 0xCAFEBABE, 99)
	assert.Equal(t, a, b)
}

func TestSolveChallengeSensitiveToRandomAndSerial(t *testing.T) {
	deviceID := [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	base := SolveChallenge(deviceID, 1, 1)
	diffRandom := SolveChallenge(deviceID, 2, 1)
	diffSerial := SolveChallenge(deviceID, 1, 2)
	assert.NotEqual(t, base, diffRandom)
	assert.NotEqual(t, base, diffSerial)
}

func TestAESCBCRoundTrip(t *testing.T) {
	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i)
		iv[i] = byte(32 - i)
	}
	plain := []byte("0123456789ABCDEF") // exactly one AES block
	enc, err := aesCBCEncrypt(key, iv, plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)

	dec, err := aesCBCDecrypt(key, iv, enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestAESCBCRejectsUnalignedInput(t *testing.T) {
	var key, iv [16]byte
	_, err := aesCBCEncrypt(key, iv, []byte("short"))
	assert.Error(t, err)
}
