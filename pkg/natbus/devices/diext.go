package devices

import (
	"sync"

	"natlinkd/pkg/natbus"
)

// DIExtension emulates a digital-input Extension: a plain (non-Tree)
// extension answering frames at DeviceId 0. Input-line state is external
// collaborator territory (spec non-goals — no simulated edge generation
// here); this type owns only the NAT-protocol bookkeeping.
type DIExtension struct {
	mu sync.Mutex

	config          natbus.ConfigRecord
	firmwareVersion uint32
	identifying     bool
}

func NewDIExtension(firmwareVersion uint32) *DIExtension {
	return &DIExtension{firmwareVersion: firmwareVersion}
}

func (d *DIExtension) OnConfigApplied(rec natbus.ConfigRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = rec
}

func (d *DIExtension) OnFirmwareApplied(newFirmwareVersion uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.firmwareVersion = newFirmwareVersion
}

func (d *DIExtension) OnIdentify(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identifying = active
}

func (d *DIExtension) OnStateChanged(natbus.Transition) {}

func (d *DIExtension) Snapshot() (cfg natbus.ConfigRecord, firmwareVersion uint32, identifying bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config, d.firmwareVersion, d.identifying
}
