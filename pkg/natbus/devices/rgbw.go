// Package devices holds the concrete Tree/Extension device
// implementations this emulation exposes to a Loxone Miniserver: the
// notification-only glue between pkg/natbus's protocol engine and
// whatever a caller wants to do with "the light turned on".
package devices

import (
	"sync"

	"natlinkd/pkg/natbus"
)

// RGBW24VDimmer emulates a Tree RGBW 24V Dimmer extension/device. It
// tracks the last-applied configuration and identify state; it does not
// simulate light output (out of scope — see spec non-goals).
type RGBW24VDimmer struct {
	mu sync.Mutex

	config          natbus.ConfigRecord
	firmwareVersion uint32
	identifying     bool
}

// NewRGBW24VDimmer returns a fresh dimmer with the given initial
// firmware version (as reported by VersionRequest until an update lands).
func NewRGBW24VDimmer(firmwareVersion uint32) *RGBW24VDimmer {
	return &RGBW24VDimmer{firmwareVersion: firmwareVersion}
}

func (r *RGBW24VDimmer) OnConfigApplied(rec natbus.ConfigRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = rec
}

func (r *RGBW24VDimmer) OnFirmwareApplied(newFirmwareVersion uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firmwareVersion = newFirmwareVersion
}

func (r *RGBW24VDimmer) OnIdentify(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifying = active
}

func (r *RGBW24VDimmer) OnStateChanged(natbus.Transition) {}

// Snapshot returns a read-only copy of the dimmer's current bookkeeping,
// for a diagnostics surface to report.
func (r *RGBW24VDimmer) Snapshot() (cfg natbus.ConfigRecord, firmwareVersion uint32, identifying bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config, r.firmwareVersion, r.identifying
}
