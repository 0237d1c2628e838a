package natbus

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingSend records every frame a Device sends, for assertions.
func capturingSend() (func(context.Context, Frame) error, func() []Frame) {
	var mu sync.Mutex
	var sent []Frame
	send := func(_ context.Context, f Frame) error {
		mu.Lock()
		sent = append(sent, f)
		mu.Unlock()
		return nil
	}
	get := func() []Frame {
		mu.Lock()
		defer mu.Unlock()
		return append([]Frame(nil), sent...)
	}
	return send, get
}

func newTestDevice(identity DeviceIdentity, crypto *CryptoConfig) (*Device, func() []Frame) {
	send, get := capturingSend()
	d := NewDevice(identity, crypto, nil, 0, func() byte { return 0x20 }, send, nil)
	return d, get
}

// reassembleFragments feeds a run of FragmentStart/FragmentData frames
// through a fresh Assembler and returns the reassembled payload.
func reassembleFragments(t *testing.T, frames []Frame) FragmentedFrame {
	t.Helper()
	require.NotEmpty(t, frames)
	a := NewAssembler()
	a.OnStart(frames[0])
	for _, f := range frames[1:] {
		ff, complete, err := a.OnData(f)
		require.NoError(t, err)
		if complete {
			return ff
		}
	}
	t.Fatal("fragment run never completed")
	return FragmentedFrame{}
}

func TestHandleVersionRequest(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{Serial: 42, HardwareVersion: 3, FirmwareVersion: 0x01020304, DeviceType: 0x800C}, nil)
	d.FragmentDelay = 0

	var req [7]byte
	binary.LittleEndian.PutUint32(req[3:7], 42)
	d.handleVersionRequest(context.Background(), Frame{Data: req})

	ff := reassembleFragments(t, sent())
	assert.Equal(t, CmdVersionInfo, ff.Command)
	require.Len(t, ff.Data, 20)
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(ff.Data[0:4]))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(ff.Data[12:16]))
	assert.Equal(t, ResetPairing, ff.Data[16])
	assert.Equal(t, uint16(0x800C), binary.LittleEndian.Uint16(ff.Data[17:19]))
	assert.Equal(t, byte(3), ff.Data[19])
}

func TestHandleVersionRequestIgnoresOtherSerials(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{Serial: 42}, nil)
	var req [7]byte
	binary.LittleEndian.PutUint32(req[3:7], 43)
	d.handleVersionRequest(context.Background(), Frame{Data: req})
	assert.Empty(t, sent(), "a VersionRequest for a different serial gets no reply")
}

func TestHandlePingRepliesZeroPayload(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{}, nil)
	req := Frame{Data: [7]byte{1, 2, 3, 4, 5, 6, 7}}
	d.handlePing(context.Background(), req)

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdPong, frames[0].Command)
	assert.Equal(t, [7]byte{}, frames[0].Data)
}

func TestHandleIdentifyTogglesState(t *testing.T) {
	d, _ := newTestDevice(DeviceIdentity{}, nil)
	d.handleIdentify(context.Background(), Frame{Data: [7]byte{1}})
	assert.True(t, d.identifyActive)
	d.handleIdentify(context.Background(), Frame{Data: [7]byte{0}})
	assert.False(t, d.identifyActive)
}

// buildOfferConfirmPayload matches the wire layout spec section 4.6 defines
// for 0xFD NatOfferConfirm and scenario S2's worked example: data[0] =
// assigned NAT, data[1] != 0 <=> parked, serial at data[3..7].
func buildOfferConfirmPayload(assignedNatId byte, parked bool, serial uint32) [7]byte {
	var payload [7]byte
	payload[0] = assignedNatId
	if parked {
		payload[1] = 1
	}
	binary.LittleEndian.PutUint32(payload[3:7], serial)
	return payload
}

func TestHandleNatOfferConfirmIgnoresOtherSerials(t *testing.T) {
	d, _ := newTestDevice(DeviceIdentity{Serial: 100}, nil)
	payload := buildOfferConfirmPayload(0x30, false, 999)
	d.handleNatOfferConfirm(context.Background(), Frame{Data: payload})
	assert.Equal(t, StateOffline, d.State(), "a confirm for a different serial must be ignored")
}

// TestHandleNatOfferConfirmScenarioS2Vector asserts the exact wire bytes
// spec section 8's S2 gives: data=[0x07,0x00,0x00,0x78,0x56,0x34,0x12] for
// serial 0x12345678 assigns NAT 0x07 and brings the device Online.
func TestHandleNatOfferConfirmScenarioS2Vector(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{Serial: 0x12345678}, nil)
	d.FragmentDelay = 0
	var assigned byte
	d.OnNatIdAssigned = func(id byte) { assigned = id }

	payload := [7]byte{0x07, 0x00, 0x00, 0x78, 0x56, 0x34, 0x12}
	d.handleNatOfferConfirm(context.Background(), Frame{Data: payload})

	assert.Equal(t, byte(0x07), assigned)
	assert.Equal(t, StateOnline, d.State())

	ff := reassembleFragments(t, sent())
	assert.Equal(t, CmdStartInfo, ff.Command, "assignment to Online pushes an unsolicited StartInfo")
	require.Len(t, ff.Data, 20)
	assert.Equal(t, uint32(0x12345678), binary.LittleEndian.Uint32(ff.Data[12:16]))
	assert.Equal(t, ResetPowerOnReset, ff.Data[16])
}

func TestHandleNatOfferConfirmAssignsNatIdAndUnparks(t *testing.T) {
	d, _ := newTestDevice(DeviceIdentity{Serial: 100}, nil)
	d.FragmentDelay = 0
	var assigned byte
	d.OnNatIdAssigned = func(id byte) { assigned = id }

	payload := buildOfferConfirmPayload(0x55, false, 100)
	d.handleNatOfferConfirm(context.Background(), Frame{Data: payload})

	assert.Equal(t, byte(0x55), assigned)
	assert.Equal(t, StateOnline, d.State())
}

func TestHandleNatOfferConfirmParked(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{Serial: 100}, nil)
	payload := buildOfferConfirmPayload(0x10, true, 100)
	d.handleNatOfferConfirm(context.Background(), Frame{Data: payload})
	assert.Equal(t, StateParked, d.State())
	assert.Empty(t, sent(), "parking must not push a StartInfo")
}

func TestHandleSendConfigUpdatesCrcAndTimeouts(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{}, nil)

	payload := make([]byte, 8)
	payload[0] = 1
	binary.LittleEndian.PutUint32(payload[4:8], 7200) // 2h offline timeout
	ff := FragmentedFrame{Command: CmdSendConfig, Data: payload}
	d.handleSendConfig(context.Background(), ff)

	rec, err := ParseConfigRecord(payload)
	require.NoError(t, err)
	assert.Equal(t, rec.CanonicalHeaderCrc(), d.configCrc)
	assert.Equal(t, 7200e9, float64(d.offlineTimeout))

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdConfigEqual, frames[0].Command)
}

func TestHandleCryptChallengeAuthRequestDerivesSessionKeys(t *testing.T) {
	crypto := &CryptoConfig{MasterDeviceID: [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
	d, sent := newTestDevice(DeviceIdentity{Serial: 42}, crypto)
	d.lc.OnOfferConfirmed(true) // Parked, so auth can move it Online

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, 0xCAFEBABE)
	d.handleCryptChallengeAuthRequest(context.Background(), FragmentedFrame{Data: payload})

	require.NotNil(t, d.sessionKeys)
	expected := SolveChallenge(crypto.MasterDeviceID, 0xCAFEBABE, 42)
	assert.Equal(t, expected, *d.sessionKeys)
	assert.Equal(t, StateOnline, d.State())

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdCryptChallengeAuthRep, frames[0].Command)
}

func TestHandleFirmwareUpdateFrameSendsReply(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{FirmwareVersion: 5}, nil)
	f := Frame{Data: [7]byte{FwSubCrc}} // wrong phase: no data sent yet
	d.handleFirmwareUpdateFrame(context.Background(), f)

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdFirmwareUpdate, frames[0].Command)
	assert.Equal(t, FwReplyFail, frames[0].Data[0])
}

func TestEmitOfferExtensionShape(t *testing.T) {
	send, sent := capturingSend()
	d := NewDevice(DeviceIdentity{Serial: 0x12345678, DeviceType: 0x0014}, nil, nil, 0, func() byte { return UnassignedNatId }, send, nil)
	d.emitOffer(context.Background())

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdNatOfferRequest, frames[0].Command)
	want := [7]byte{0x00, 0x14, 0x00, 0x78, 0x56, 0x34, 0x12}
	assert.Equal(t, want, frames[0].Data)
}

func TestEmitOfferTreeDeviceShape(t *testing.T) {
	send, sent := capturingSend()
	d := NewDevice(DeviceIdentity{Serial: 0x12345678, DeviceType: 0x8003}, nil, nil, 1, func() byte { return UnassignedNatId }, send, nil)
	d.emitOffer(context.Background())

	frames := sent()
	require.Len(t, frames, 1)
	assert.Equal(t, CmdNatOfferRequest, frames[0].Command)
	// [device_type_hi, device_type_lo, device_type_hi, serial_b0..b3] (spec
	// section 4.5, Tree-device specifics).
	want := [7]byte{0x80, 0x03, 0x80, 0x78, 0x56, 0x34, 0x12}
	assert.Equal(t, want, frames[0].Data)
}

func TestUnhandledCommandLogsAndDoesNotPanic(t *testing.T) {
	d, sent := newTestDevice(DeviceIdentity{}, nil)
	assert.NotPanics(t, func() {
		d.handle(context.Background(), Frame{Command: 0x7E})
	})
	assert.Empty(t, sent())
}
