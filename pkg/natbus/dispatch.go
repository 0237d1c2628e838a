// pkg/natbus/dispatch.go
package natbus

import (
	"context"
	"encoding/binary"
	"log"
	"time"
)

// handle routes one already-addressed, already-ordered Frame through the
// fragment assembler (for 0xF0/0xF1) or straight to the simple-command
// table (spec section 4.6: "two tables keyed by command byte").
func (d *Device) handle(ctx context.Context, f Frame) {
	switch f.Command {
	case CmdFragmentStart:
		d.assembler.OnStart(f)
		return
	case CmdFragmentData:
		ff, complete, err := d.assembler.OnData(f)
		if err != nil {
			if err != ErrNoActiveFragmentSession {
				log.Printf("natbus: serial=%d fragment reassembly error: %v", d.Identity.Serial, err)
			}
			return
		}
		if !complete {
			return
		}
		d.handleFragmented(ctx, ff)
		return
	}

	if handler, ok := simpleHandlers[f.Command]; ok {
		handler(d, ctx, f)
		return
	}
	log.Printf("natbus: serial=%d unhandled command 0x%02x", d.Identity.Serial, f.Command)
}

// handleFragmented dispatches a fully reassembled payload to the
// fragmented-command table (spec section 4.6).
func (d *Device) handleFragmented(ctx context.Context, ff FragmentedFrame) {
	if handler, ok := fragmentedHandlers[ff.Command]; ok {
		handler(d, ctx, ff)
		return
	}
	log.Printf("natbus: serial=%d unhandled fragmented command 0x%02x", d.Identity.Serial, ff.Command)
}

type simpleHandler func(d *Device, ctx context.Context, f Frame)
type fragmentedHandler func(d *Device, ctx context.Context, ff FragmentedFrame)

// simpleHandlers is the non-fragmented dispatch table (spec section 4.6).
var simpleHandlers = map[byte]simpleHandler{
	CmdVersionRequest:        (*Device).handleVersionRequest,
	CmdPing:                  (*Device).handlePing,
	CmdAlive:                 (*Device).handleAlive,
	CmdExtensionsOffline:     (*Device).handleExtensionsOffline,
	CmdTimeSync:              (*Device).handleTimeSync,
	CmdIdentify:              (*Device).handleIdentify,
	CmdIdentifyUnknown:       (*Device).handleIdentifyUnknown,
	CmdSearchDevicesRequest:  (*Device).handleSearchDevicesRequest,
	CmdCanDiagnosticsRequest: (*Device).handleCanDiagnosticsRequest,
	CmdCanErrorRequest:       (*Device).handleCanErrorRequest,
	CmdNatOfferConfirm:       (*Device).handleNatOfferConfirm,
	CmdCryptDeviceIdRequest:  (*Device).handleCryptDeviceIdRequest,
	CmdFirmwareUpdate:        (*Device).handleFirmwareUpdateFrame,
}

// fragmentedHandlers is the reassembled-payload dispatch table.
var fragmentedHandlers = map[byte]fragmentedHandler{
	CmdSendConfig:            (*Device).handleSendConfig,
	CmdWebServiceRequest:     (*Device).handleWebServiceRequest,
	CmdCryptChallengeAuthReq: (*Device).handleCryptChallengeAuthRequest,
}

// --- simple (non-fragmented) handlers ---

// handleVersionRequest replies with the fragmented VersionInfo body, but
// only if the request names our own serial (spec section 4.6).
func (d *Device) handleVersionRequest(ctx context.Context, f Frame) {
	if f.Val32() != d.Identity.Serial {
		return
	}
	_ = d.sendFragmented(ctx, CmdVersionInfo, d.versionInfoPayload(ResetPairing))
}

// versionInfoPayload builds the 20-byte body shared by VersionInfo (0x03,
// reply to VersionRequest) and StartInfo (0x02, pushed once on assignment —
// spec section 4.6, scenario S2): fw(4 LE) ‖ 0000 ‖ cfgCrc(4 LE) ‖
// serial(4 LE) ‖ resetReason ‖ type(2 LE) ‖ hwVersion.
func (d *Device) versionInfoPayload(resetReason byte) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], d.Identity.FirmwareVersion)
	binary.LittleEndian.PutUint32(buf[8:12], d.configCrc)
	binary.LittleEndian.PutUint32(buf[12:16], d.Identity.Serial)
	buf[16] = resetReason
	binary.LittleEndian.PutUint16(buf[17:19], d.Identity.DeviceType)
	buf[19] = d.Identity.HardwareVersion
	return buf
}

// handlePing replies Pong with 7 zero bytes (spec section 4.6 liveness
// check); the request payload is not echoed.
func (d *Device) handlePing(ctx context.Context, f Frame) {
	_ = d.sendSimple(ctx, CmdPong, [7]byte{})
}

// handleAlive is the Miniserver's keep-alive acknowledgement; no reply,
// it only resets the offline countdown (already done by Run's inbox
// branch before handle is called).
func (d *Device) handleAlive(ctx context.Context, f Frame) {}

// handleExtensionsOffline applies the ExtensionsOffline lifecycle
// trigger (spec section 4.5): offer timing resets, is_authorized clears,
// current state is otherwise untouched.
func (d *Device) handleExtensionsOffline(ctx context.Context, f Frame) {
	d.mu.Lock()
	t := d.lc.OnExtensionsOffline()
	d.mu.Unlock()
	d.concrete.OnStateChanged(t)
}

// handleTimeSync has no reply; the device has no real-time clock to set
// in this emulation (spec section 4.6 non-goal), so it's a no-op beyond
// resetting the offline countdown.
func (d *Device) handleTimeSync(ctx context.Context, f Frame) {}

// handleIdentify toggles the visual identify signal.
func (d *Device) handleIdentify(ctx context.Context, f Frame) {
	d.identifyActive = f.B0() != 0
	d.concrete.OnIdentify(d.identifyActive)
}

// handleIdentifyUnknown clears extensions_offline_received and, if
// currently unassigned, resumes offer emission immediately (spec section
// 4.5/4.8).
func (d *Device) handleIdentifyUnknown(ctx context.Context, f Frame) {
	d.mu.Lock()
	d.lc.OnIdentifyUnknown()
	d.mu.Unlock()
}

// handleSearchDevicesRequest replies [branch_tag, type_lo, type_hi,
// serial0..3] so the Miniserver can enumerate devices behind a NatId (spec
// section 4.6/4.8). An unassigned (Offline) device does not reply.
func (d *Device) handleSearchDevicesRequest(ctx context.Context, f Frame) {
	if d.State() == StateOffline {
		return
	}
	var reply [7]byte
	reply[0] = d.BranchTag
	binary.LittleEndian.PutUint16(reply[1:3], d.Identity.DeviceType)
	binary.LittleEndian.PutUint32(reply[3:7], d.Identity.Serial)
	_ = d.sendSimple(ctx, CmdSearchDevicesResponse, reply)
}

// handleCanDiagnosticsRequest reports a bus-health snapshot; this
// emulation has no physical bus to measure, so it reports a clean bus
// (spec section 4.6, diagnostics is explicitly informational only).
func (d *Device) handleCanDiagnosticsRequest(ctx context.Context, f Frame) {
	var reply [7]byte
	_ = d.sendSimple(ctx, CmdCanDiagnosticsReply, reply)
}

// handleCanErrorRequest reports the last CAN error code; none recorded in
// this emulation.
func (d *Device) handleCanErrorRequest(ctx context.Context, f Frame) {
	var reply [7]byte
	_ = d.sendSimple(ctx, CmdCanErrorReply, reply)
}

// handleNatOfferConfirm applies the offer-confirm lifecycle trigger.
// Payload: byte 0 the newly assigned NAT (ExtensionNat for extensions,
// DeviceNat for Tree devices), byte 1 the parked flag, serial at
// data[3..7] (spec section 4.6). A confirm addressed to a different
// serial is ignored here; Extension.route hands a confirm carrying a
// child's serial to that child (spec section 4.8).
func (d *Device) handleNatOfferConfirm(ctx context.Context, f Frame) {
	confirmedSerial := binary.LittleEndian.Uint32(f.Data[3:7])
	if confirmedSerial != d.Identity.Serial {
		return
	}
	assignedNatId := f.Data[0]
	parked := f.Data[1] != 0

	if d.OnNatIdAssigned != nil {
		d.OnNatIdAssigned(assignedNatId)
	}

	d.mu.Lock()
	t := d.lc.OnOfferConfirmed(parked)
	d.mu.Unlock()
	d.concrete.OnStateChanged(t)

	// A confirm that lands the device Online pushes an unsolicited
	// StartInfo, the way a real device announces itself right after
	// assignment (spec section 4.6, scenario S2).
	if t.To == StateOnline {
		_ = d.sendFragmented(ctx, CmdStartInfo, d.versionInfoPayload(ResetPowerOnReset))
	}
}

// handleCryptDeviceIdRequest answers the legacy device-ID exchange: the
// request carries a serial; the reply is the master device ID encrypted
// under the legacy per-serial key schedule (spec section 4.3).
func (d *Device) handleCryptDeviceIdRequest(ctx context.Context, f Frame) {
	if d.crypto == nil {
		return
	}
	serial := f.Val32()
	sched := legacySchedule(d.crypto, serial)
	// The 12-byte master device ID is zero-padded to one AES block.
	plain := make([]byte, 16)
	copy(plain, d.crypto.MasterDeviceID[:])
	enc, err := aesCBCEncrypt(sched.Key, sched.IV, plain)
	if err != nil {
		log.Printf("natbus: serial=%d legacy device-id encrypt failed: %v", d.Identity.Serial, err)
		return
	}
	// The 16-byte cipher block doesn't fit one frame's 7-byte payload;
	// stream it back fragmented like any other multi-frame reply.
	_ = d.sendFragmented(ctx, CmdCryptDeviceIdReply, enc)
}

// handleFirmwareUpdateFrame feeds one CmdFirmwareUpdate payload into the
// firmware sub-protocol and, if the sub-command produced a reply,
// transmits it (spec section 4.7).
func (d *Device) handleFirmwareUpdateFrame(ctx context.Context, f Frame) {
	result, err := d.firmware.handle(f.Data[:])
	if err != nil {
		log.Printf("natbus: serial=%d firmware update: %v", d.Identity.Serial, err)
	}
	if !result.hasReply {
		return
	}
	if result.replyPayload[0] == FwReplyOK && d.firmware.state == fwIdle {
		// handleVerifyAndRestart finalised the session. The session records
		// no new version number, so the reply and OnFirmwareApplied both
		// carry the device's unchanged Identity.FirmwareVersion.
		binary.LittleEndian.PutUint32(result.replyPayload[1:5], d.Identity.FirmwareVersion)
		d.concrete.OnFirmwareApplied(d.Identity.FirmwareVersion)
	}
	_ = d.sendSimple(ctx, CmdFirmwareUpdate, result.replyPayload)
}

// --- fragmented handlers ---

// handleSendConfig parses the configuration record, recomputes and
// caches ConfigurationCrc, and notifies the concrete device (spec
// sections 3 and 7). A too-short payload leaves the cached CRC untouched.
func (d *Device) handleSendConfig(ctx context.Context, ff FragmentedFrame) {
	rec, err := ParseConfigRecord(ff.Data)
	if err != nil {
		log.Printf("natbus: serial=%d SendConfig rejected: %v", d.Identity.Serial, err)
		return
	}
	d.mu.Lock()
	d.configCrc = rec.CanonicalHeaderCrc()
	if rec.OfflineTimeoutSeconds > 0 {
		d.offlineTimeout = time.Duration(rec.OfflineTimeoutSeconds) * time.Second
		if d.offlineTimeout < 60*time.Second {
			d.KeepAliveInterval = 60 * time.Second
		} else {
			d.KeepAliveInterval = d.offlineTimeout
		}
	}
	d.mu.Unlock()
	d.concrete.OnConfigApplied(rec)

	var reply [7]byte
	_ = d.sendSimple(ctx, CmdConfigEqual, reply)
}

// handleWebServiceRequest answers a diagnostics/config web-service query
// with a minimal echo reply; the full web-service surface belongs to the
// Miniserver, not this emulation (spec section 4.6 scope).
func (d *Device) handleWebServiceRequest(ctx context.Context, ff FragmentedFrame) {
	_ = d.sendFragmented(ctx, CmdWebServiceRequest, ff.Data)
}

// handleCryptChallengeAuthRequest derives the session key/IV from the
// challenge (random || serial), stores it, and authorizes the device
// (Parked -> Online) (spec section 4.3/4.5).
func (d *Device) handleCryptChallengeAuthRequest(ctx context.Context, ff FragmentedFrame) {
	if d.crypto == nil || len(ff.Data) < 4 {
		return
	}
	random := binary.LittleEndian.Uint32(ff.Data[0:4])
	keys := SolveChallenge(d.crypto.MasterDeviceID, random, d.Identity.Serial)

	d.mu.Lock()
	d.sessionKeys = &keys
	t := d.lc.OnAuthorized()
	d.mu.Unlock()
	d.concrete.OnStateChanged(t)

	_ = d.sendSimple(ctx, CmdCryptChallengeAuthRep, [7]byte{})
}

// --- offer emission ---

// emitOffer sends a NatOfferRequest carrying this device's type and
// serial, the way an unassigned extension or Tree device announces
// itself (spec section 4.5). The frame always carries DeviceId 0. Tree
// devices piggyback the request over their parent's NatId (Device.NatId
// already resolves to the right slot) and use a distinct payload shape
// with a redundant device-type high byte at position 0, reproducing
// observed real-device framing.
func (d *Device) emitOffer(ctx context.Context) {
	typeLo := byte(d.Identity.DeviceType)
	typeHi := byte(d.Identity.DeviceType >> 8)

	var payload [7]byte
	if d.DeviceId != 0 {
		payload[0] = typeHi
	}
	payload[1] = typeLo
	payload[2] = typeHi
	binary.LittleEndian.PutUint32(payload[3:7], d.Identity.Serial)
	_ = d.Send(ctx, Frame{NatId: d.NatId(), DeviceId: 0, Command: CmdNatOfferRequest, Data: payload, Direction: DirDeviceToServer})
}
