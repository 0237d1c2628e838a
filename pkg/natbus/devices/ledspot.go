package devices

import (
	"sync"

	"natlinkd/pkg/natbus"
)

// LedSpot emulates either Tree LED spot variant (RGBW or warm-white),
// distinguished only by the DeviceType its factory.Spec carries.
type LedSpot struct {
	mu sync.Mutex

	config          natbus.ConfigRecord
	firmwareVersion uint32
	identifying     bool
}

func NewLedSpot(firmwareVersion uint32) *LedSpot {
	return &LedSpot{firmwareVersion: firmwareVersion}
}

func (l *LedSpot) OnConfigApplied(rec natbus.ConfigRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = rec
}

func (l *LedSpot) OnFirmwareApplied(newFirmwareVersion uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.firmwareVersion = newFirmwareVersion
}

func (l *LedSpot) OnIdentify(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.identifying = active
}

func (l *LedSpot) OnStateChanged(natbus.Transition) {}

func (l *LedSpot) Snapshot() (cfg natbus.ConfigRecord, firmwareVersion uint32, identifying bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config, l.firmwareVersion, l.identifying
}
