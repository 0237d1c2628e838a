// pkg/natbus/constants.go
package natbus

// Command bytes of the NAT protocol (spec section 4.6/4.7).
const (
	CmdVersionRequest        byte = 0x01
	CmdStartInfo             byte = 0x02
	CmdVersionInfo           byte = 0x03
	CmdConfigEqual           byte = 0x04
	CmdPing                  byte = 0x05
	CmdPong                  byte = 0x06
	CmdAlive                 byte = 0x08
	CmdExtensionsOffline     byte = 0x0A
	CmdTimeSync              byte = 0x0C
	CmdIdentify              byte = 0x10
	CmdSendConfig            byte = 0x11
	CmdWebServiceRequest     byte = 0x12
	CmdCanErrorReply         byte = 0x18
	CmdCanErrorRequest       byte = 0x19
	CmdCanDiagnosticsReply   byte = 0x16
	CmdCanDiagnosticsRequest byte = 0x17
	CmdCryptDeviceIdRequest  byte = 0x99
	CmdCryptDeviceIdReply    byte = 0x9A
	CmdCryptChallengeAuthReq byte = 0x9C
	CmdCryptChallengeAuthRep byte = 0x9D
	CmdFirmwareUpdate        byte = 0xEF
	CmdFragmentStart         byte = 0xF0
	CmdFragmentData          byte = 0xF1
	CmdIdentifyUnknown       byte = 0xF4
	CmdSearchDevicesRequest  byte = 0xFB
	CmdSearchDevicesResponse byte = 0xFC
	CmdNatOfferConfirm       byte = 0xFD
	CmdNatOfferRequest       byte = 0xFE
)

// Reset reasons (spec section 6).
const (
	ResetUndefined           byte = 0x00
	ResetMiniserverStart     byte = 0x01
	ResetPairing             byte = 0x02
	ResetAliveRequested      byte = 0x03
	ResetReconnect           byte = 0x04
	ResetAlivePackage        byte = 0x05
	ResetReconnectBroadcast  byte = 0x06
	ResetPowerOnReset        byte = 0x20
	ResetStandbyReset        byte = 0x21
	ResetWatchdogReset       byte = 0x22
	ResetSoftwareReset       byte = 0x23
	ResetPinReset            byte = 0x24
	ResetWindowWatchdogReset byte = 0x25
	ResetLowPowerReset       byte = 0x26
)

// Device types (spec section 6).
const (
	DeviceTypeDIExtension       uint16 = 0x0014
	DeviceTypeTreeBaseExtension uint16 = 0x0013
	DeviceTypeRGBW24VDimmer     uint16 = 0x800C
	DeviceTypeLEDSpotRGBW       uint16 = 0x8016
	DeviceTypeLEDSpotWW         uint16 = 0x8017
	DeviceTypeTouchTree         uint16 = 0x8003
	DeviceTypeMotionTree        uint16 = 0x8002
)

// UnassignedNatId is the historical NAT slot address unassigned extensions
// and Tree devices send under until a NatOfferConfirm assigns a real one.
const UnassignedNatId byte = 0x84

// BroadcastNatId matches any extension's NatId in the addressing filter.
const BroadcastNatId byte = 0xFF

// BroadcastDeviceId targets the extension and all its Tree children.
const BroadcastDeviceId byte = 0xFF

// Firmware sub-commands inside CmdFirmwareUpdate payloads (spec section 4.7).
const (
	FwSubData           byte = 0x01
	FwSubCrc             byte = 0x02
	FwSubVerifyUpdate     byte = 0x03
	FwSubVerifyAndRestart byte = 0x04
)

// Firmware verification reply sub-command values.
const (
	FwReplyOK   byte = 0x80
	FwReplyFail byte = 0x81
)
