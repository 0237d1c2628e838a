// Package factory builds a fully wired Extension (and its Tree children,
// if any) from a declarative Spec, so cmd/natlinkd doesn't hand-assemble
// natbus.Device graphs itself.
package factory

import (
	"fmt"

	"natlinkd/pkg/natbus"
	"natlinkd/pkg/natbus/devices"
)

// ChildSpec declares one Tree device hanging off a Tree base extension.
type ChildSpec struct {
	DeviceId        byte
	Serial          uint32
	DeviceType      uint16
	HardwareVersion byte
	FirmwareVersion uint32
	STM32DeviceID   [12]byte
	BranchTag       byte
}

// Spec declares one Extension and its optional children, independent of
// transport (the Adapter is supplied by the caller at build time).
type Spec struct {
	Serial          uint32
	DeviceType      uint16
	HardwareVersion byte
	FirmwareVersion uint32
	STM32DeviceID   [12]byte

	Children []ChildSpec
}

// Built is the live object graph a Spec produces: the Extension plus a
// lookup from DeviceId to the concrete device instance, for a diagnostics
// surface to introspect.
type Built struct {
	Extension *natbus.Extension
	Self      interface{}
	Children  map[byte]interface{}
}

// buildConcrete constructs the concrete device for a DeviceType (spec section
// 4.10): every device type this emulation knows about maps to exactly
// one constructor, keeping factory.go the single place new device types
// get registered.
func buildConcrete(deviceType uint16, firmwareVersion uint32) (natbus.ConcreteDevice, interface{}, error) {
	switch deviceType {
	case natbus.DeviceTypeDIExtension:
		d := devices.NewDIExtension(firmwareVersion)
		return d, d, nil
	case natbus.DeviceTypeRGBW24VDimmer:
		d := devices.NewRGBW24VDimmer(firmwareVersion)
		return d, d, nil
	case natbus.DeviceTypeLEDSpotRGBW, natbus.DeviceTypeLEDSpotWW:
		d := devices.NewLedSpot(firmwareVersion)
		return d, d, nil
	case natbus.DeviceTypeTreeBaseExtension:
		// The Tree base extension itself carries no payload behaviour
		// beyond routing, which tree.go already implements.
		d := devices.NewDIExtension(firmwareVersion)
		return d, d, nil
	default:
		return nil, nil, fmt.Errorf("factory: unknown device type 0x%04x", deviceType)
	}
}

// Build realises a Spec against adapter and crypto, returning the running
// Extension object graph. Caller still owns calling Extension.Run/Stop.
func Build(spec Spec, adapter natbus.Adapter, crypto *natbus.CryptoConfig) (*Built, error) {
	selfConcrete, selfHandle, err := buildConcrete(spec.DeviceType, spec.FirmwareVersion)
	if err != nil {
		return nil, err
	}

	identity := natbus.DeviceIdentity{
		Serial:          spec.Serial,
		DeviceType:      spec.DeviceType,
		HardwareVersion: spec.HardwareVersion,
		FirmwareVersion: spec.FirmwareVersion,
		STM32DeviceID:   spec.STM32DeviceID,
	}

	ext := natbus.NewExtension(adapter, identity, crypto, selfConcrete)

	built := &Built{Extension: ext, Self: selfHandle, Children: make(map[byte]interface{})}

	for _, c := range spec.Children {
		concrete, handle, err := buildConcrete(c.DeviceType, c.FirmwareVersion)
		if err != nil {
			return nil, fmt.Errorf("factory: child device 0x%02x: %w", c.DeviceId, err)
		}
		childIdentity := natbus.DeviceIdentity{
			Serial:          c.Serial,
			DeviceType:      c.DeviceType,
			HardwareVersion: c.HardwareVersion,
			FirmwareVersion: c.FirmwareVersion,
			STM32DeviceID:   c.STM32DeviceID,
		}
		td := ext.AddChild(c.DeviceId, childIdentity, crypto, concrete)
		td.Self.BranchTag = c.BranchTag
		built.Children[c.DeviceId] = handle
	}

	return built, nil
}
