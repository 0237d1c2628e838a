// pkg/natbus/errors.go
package natbus

import "errors"

// ErrNotANatFrame is returned by Decode when a CAN frame's top 5 ID bits
// don't match the NAT prefix. It is the only failure mode of the codec.
var ErrNotANatFrame = errors.New("natbus: not a NAT frame")

// ErrFragmentCrcMismatch signals a reassembled fragmented payload failed
// its STM32-CRC check. The in-flight session is dropped; no nack is sent.
var ErrFragmentCrcMismatch = errors.New("natbus: fragment CRC mismatch")

// ErrNoActiveFragmentSession is returned when a FragmentData frame arrives
// with no FragmentStart having opened a session.
var ErrNoActiveFragmentSession = errors.New("natbus: no active fragment session")

// ErrConfigTooShort is returned by ParseConfigRecord when the payload is
// shorter than the fixed 8-byte header.
var ErrConfigTooShort = errors.New("natbus: configuration record shorter than header")

// ErrFirmwareWrongPhase is returned when a firmware sub-command arrives out
// of sequence for the session's current phase (spec section 4.7).
var ErrFirmwareWrongPhase = errors.New("natbus: firmware sub-command received in wrong phase")

// ErrFirmwareDeviceTypeMismatch aborts a firmware message silently at the
// dispatch boundary (logged, no reply) per spec section 4.7.
var ErrFirmwareDeviceTypeMismatch = errors.New("natbus: firmware update device type mismatch")

// ErrUnhandledCommand marks a firmware sub-command byte with no handler.
// handleFirmwareUpdateFrame logs it and continues; no reply is sent.
var ErrUnhandledCommand = errors.New("natbus: unhandled command")
