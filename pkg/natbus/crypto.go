// pkg/natbus/crypto.go
package natbus

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// CryptoConfig is the immutable crypto material the core consumes, set
// once at boot and passed into each device (spec sections 6 and 9 forbid
// mutation after start — there is deliberately no setter here).
type CryptoConfig struct {
	// AESKeyHex / AESIVHex are the device's encrypted-AES-key / -IV hex
	// blobs, hashed via [DEK, JS, DJB, RS] into the modern key schedule.
	AESKeyHex []byte
	AESIVHex  []byte

	// LegacyKey / LegacyIV key the legacy device-ID exchange.
	LegacyKey [4]uint32
	LegacyIV  [4]uint32

	// MasterDeviceID is the 12-byte STM32 device-ID hex blob.
	MasterDeviceID [12]byte
}

// aesKeyIV is a derived 128-bit AES key and IV, each assembled from four
// little-endian uint32 words as spec section 4.3 describes.
type aesKeyIV struct {
	Key [16]byte
	IV  [16]byte
}

func wordsToBytes(words [4]uint32) [16]byte {
	var out [16]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], w)
	}
	return out
}

// legacySchedule derives the legacy AES key/IV for the device-ID exchange:
// aesKey[i] = ~(serial ^ LegacyKey[i]); aesIV[i] = serial ^ LegacyIV[i].
func legacySchedule(cfg *CryptoConfig, serial uint32) aesKeyIV {
	var keyWords, ivWords [4]uint32
	for i := 0; i < 4; i++ {
		keyWords[i] = ^(serial ^ cfg.LegacyKey[i])
		ivWords[i] = serial ^ cfg.LegacyIV[i]
	}
	return aesKeyIV{Key: wordsToBytes(keyWords), IV: wordsToBytes(ivWords)}
}

// canAlgoWords derives the modern CanAlgoKey/CanAlgoIV arrays by hashing a
// hex blob with [DEK, JS, DJB, RS], in that order.
func canAlgoWords(blob []byte) [4]uint32 {
	return [4]uint32{HashDEK(blob), HashJS(blob), HashDJB(blob), HashRS(blob)}
}

// modernSchedule derives the modern challenge AES key/IV:
// aesKey[i] = ~serial ^ CanAlgoKey[i]; aesIV[i] = serial ^ CanAlgoIV[i].
// Note the formula is intentionally NOT the legacy ~(serial ^ x) shape
// (spec section 9 open questions) — do not normalise the two.
func modernSchedule(cfg *CryptoConfig, serial uint32) aesKeyIV {
	canKey := canAlgoWords(cfg.AESKeyHex)
	canIV := canAlgoWords(cfg.AESIVHex)

	var keyWords, ivWords [4]uint32
	for i := 0; i < 4; i++ {
		keyWords[i] = ^serial ^ canKey[i]
		ivWords[i] = serial ^ canIV[i]
	}
	return aesKeyIV{Key: wordsToBytes(keyWords), IV: wordsToBytes(ivWords)}
}

// SessionKeys holds the per-challenge AES key/IV negotiated during
// CryptChallengeAuthRequest, used to encrypt/decrypt subsequent data
// packets (spec section 4.3).
type SessionKeys struct {
	Key [16]byte
	IV  [16]byte
}

// SolveChallenge derives the session key/IV for a crypt challenge:
// buffer = deviceID || random_LE || serial_LE; sessionKey = [RS,JS,DJB,DEK]
// over buffer; sessionIV (a scalar u32) = RS(buffer XOR 0xA5 per byte).
// Data-packet keys are then aesKey[i] = iv ^ sessionKey[i], aesIV = {iv}x4.
func SolveChallenge(deviceID [12]byte, random, serial uint32) SessionKeys {
	buf := make([]byte, 20)
	copy(buf[0:12], deviceID[:])
	binary.LittleEndian.PutUint32(buf[12:16], random)
	binary.LittleEndian.PutUint32(buf[16:20], serial)

	sessionKeyWords := [4]uint32{HashRS(buf), HashJS(buf), HashDJB(buf), HashDEK(buf)}

	xored := make([]byte, len(buf))
	for i, b := range buf {
		xored[i] = b ^ 0xA5
	}
	iv := HashRS(xored)

	var aesKeyWords [4]uint32
	var aesIVWords [4]uint32
	for i := 0; i < 4; i++ {
		aesKeyWords[i] = iv ^ sessionKeyWords[i]
		aesIVWords[i] = iv
	}
	return SessionKeys{Key: wordsToBytes(aesKeyWords), IV: wordsToBytes(aesIVWords)}
}

// aesCBCEncrypt encrypts with AES-128-CBC and no padding; data
// length must be a multiple of the AES block size (spec section 4.3).
func aesCBCEncrypt(key, iv [16]byte, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("natbus: AES-CBC data length %d is not a multiple of block size", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv [16]byte, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("natbus: AES-CBC data length %d is not a multiple of block size", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)
	return out, nil
}
