// pkg/natbus/device.go
package natbus

import (
	"context"
	"log"
	"sync"
	"time"
)

// DeviceIdentity is the fixed identity of a device (spec section 3).
type DeviceIdentity struct {
	Serial          uint32
	DeviceType      uint16
	HardwareVersion byte
	FirmwareVersion uint32
	STM32DeviceID   [12]byte
}

// ConcreteDevice is the narrow notification surface a Tree/Extension
// device implementation (RGBW, LED spot, digital input, ...) plugs into.
// Handlers call these; they never touch dispatch or transport directly.
type ConcreteDevice interface {
	// OnConfigApplied is called after SendConfig is parsed and the
	// ConfigurationCrc recomputed.
	OnConfigApplied(rec ConfigRecord)
	// OnFirmwareApplied is called after a firmware update verifies
	// successfully. The update session records no new version number, so
	// the value passed is the device's current Identity.FirmwareVersion.
	OnFirmwareApplied(newFirmwareVersion uint32)
	// OnIdentify is called when this device is told to enter/leave the
	// visual identify signal.
	OnIdentify(active bool)
	// OnStateChanged is called on every lifecycle transition.
	OnStateChanged(t Transition)
}

// NullConcreteDevice is a ConcreteDevice that does nothing; useful as a
// default for devices/tests that don't care about notifications.
type NullConcreteDevice struct{}

func (NullConcreteDevice) OnConfigApplied(ConfigRecord)       {}
func (NullConcreteDevice) OnFirmwareApplied(uint32)           {}
func (NullConcreteDevice) OnIdentify(bool)                    {}
func (NullConcreteDevice) OnStateChanged(Transition)          {}

// DefaultKeepAliveInterval is used until a SendConfig supplies a nonzero
// OfflineTimeoutSeconds, which sets the interval to max(60s, timeout)
// (spec section 5: "default 10 minutes").
const DefaultKeepAliveInterval = 10 * time.Minute

// DefaultOfflineTimeout is the offline countdown length before any
// configuration has been applied.
const DefaultOfflineTimeout = 15 * time.Minute

// DefaultFragmentDelay is the inter-chunk delay the emitter waits between
// FragmentData frames, matching observed real-device timing (spec section
// 4.4/9; deliberately a tunable, not a constant baked into the algorithm).
const DefaultFragmentDelay = 100 * time.Millisecond

// Device is the engine shared by an Extension (acting as itself, DeviceId
// 0) and every Tree device hanging off a Tree extension. It owns its
// lifecycle, fragment assembler, firmware session, dispatch, and an
// ordered inbound queue; it never owns transport (spec section 3
// ownership rule) — Send is injected by whoever constructs it.
type Device struct {
	mu sync.Mutex

	Identity DeviceIdentity
	concrete ConcreteDevice
	crypto   *CryptoConfig

	lc          *lifecycle
	assembler   *Assembler
	firmware    *firmwareSession
	configCrc   uint32
	sessionKeys *SessionKeys

	// DeviceId is this device's sub-address: 0 for an extension acting
	// as itself, nonzero (DeviceNat) for a Tree device.
	DeviceId byte
	// NatId returns the current NAT slot address: for an extension, its
	// own assigned ExtensionNat (or UnassignedNatId); for a Tree device,
	// its parent extension's NatId.
	NatId func() byte
	// Send transmits a single NAT frame; the caller fills NatId/DeviceId
	// via the device's own fields before calling.
	Send func(ctx context.Context, f Frame) error
	// CanOperate reports whether this device is allowed to run its
	// lifecycle at all. Always true for an extension; for a Tree device
	// it requires the parent extension to be Online (spec section 4.5).
	CanOperate func() bool
	// BranchTag distinguishes left/right Tree branches in search/error
	// replies (spec section 4.6); zero for extensions.
	BranchTag byte
	// OnNatIdAssigned, if set, is called when a NatOfferConfirm assigns
	// this device a new NAT slot. Only meaningful for an extension's own
	// Device; Tree devices inherit their parent's slot and leave this nil.
	OnNatIdAssigned func(natId byte)

	FragmentDelay     time.Duration
	KeepAliveInterval time.Duration
	offlineTimeout    time.Duration

	identifyActive bool
	lastFrameAt    time.Time

	inbox chan Frame
	stop  chan struct{}
	done  chan struct{}
}

// NewDevice constructs a Device engine. send and natId are required;
// canOperate may be nil (treated as always-operable, e.g. for a plain
// extension).
func NewDevice(identity DeviceIdentity, crypto *CryptoConfig, concrete ConcreteDevice, deviceId byte, natId func() byte, send func(context.Context, Frame) error, canOperate func() bool) *Device {
	if concrete == nil {
		concrete = NullConcreteDevice{}
	}
	if canOperate == nil {
		canOperate = func() bool { return true }
	}
	return &Device{
		Identity:          identity,
		concrete:          concrete,
		crypto:            crypto,
		lc:                newLifecycle(int64(identity.Serial)),
		assembler:         NewAssembler(),
		firmware:          newFirmwareSession(),
		DeviceId:          deviceId,
		NatId:             natId,
		Send:              send,
		CanOperate:        canOperate,
		FragmentDelay:     DefaultFragmentDelay,
		KeepAliveInterval: DefaultKeepAliveInterval,
		offlineTimeout:    DefaultOfflineTimeout,
		inbox:             make(chan Frame, 128),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// State returns the device's current lifecycle state.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lc.State()
}

// Enqueue hands a decoded, already-routed NAT frame to this device's
// private inbound queue. Safe for concurrent callers; frames are
// processed strictly in the order they're enqueued (spec section 5).
func (d *Device) Enqueue(f Frame) {
	select {
	case d.inbox <- f:
	default:
		log.Printf("natbus: device serial=%d inbox full, dropping frame cmd=0x%02x", d.Identity.Serial, f.Command)
	}
}

// Run drains the inbox one frame at a time until ctx is cancelled or Stop
// is called, and drives the offer-emission and offline-countdown timers.
// It sends no periodic Alive: KeepAliveInterval is recorded but no timer
// transmits on it. It is the device's single consumer task (spec section
// 5 scheduling model).
func (d *Device) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var offlineRemaining time.Duration

	for {
		select {
		case <-ctx.Done():
			d.sendOfflineIfOnline(context.Background())
			return
		case <-d.stop:
			d.sendOfflineIfOnline(context.Background())
			return
		case f := <-d.inbox:
			d.resetOfflineCountdown()
			offlineRemaining = d.offlineTimeout
			d.handle(ctx, f)
		case <-ticker.C:
			d.mu.Lock()
			state := d.lc.State()
			canOp := d.CanOperate()
			d.mu.Unlock()

			if !canOp {
				continue
			}

			switch state {
			case StateOffline:
				if d.lc.ShouldEmitOffer(time.Now()) {
					d.emitOffer(ctx)
				}
			case StateParked, StateOnline:
				if offlineRemaining <= 0 {
					offlineRemaining = d.offlineTimeout
				}
				offlineRemaining -= time.Second
				if offlineRemaining <= 0 {
					d.mu.Lock()
					t := d.lc.OnOfflineTimeout()
					d.mu.Unlock()
					d.concrete.OnStateChanged(t)
				}
			}
		}
	}
}

// Stop signals the processing task to halt (spec section 5 cancellation).
func (d *Device) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Device) sendOfflineIfOnline(ctx context.Context) {
	if d.State() != StateOnline {
		return
	}
	_ = d.sendSimple(ctx, CmdAlive, [7]byte{ResetReconnect})
}

// resetOfflineCountdown is called whenever a frame for us arrives, per
// spec section 4.5 keep-alive rule ("receiving any frame for us resets
// the offline countdown").
func (d *Device) resetOfflineCountdown() {
	// The countdown itself lives in Run's local offlineRemaining, which
	// Run refills right after calling this; here only lastFrameAt is
	// recorded.
	d.mu.Lock()
	d.lastFrameAt = time.Now()
	d.mu.Unlock()
}

func (d *Device) sendSimple(ctx context.Context, command byte, data [7]byte) error {
	f := Frame{NatId: d.NatId(), DeviceId: d.DeviceId, Command: command, Data: data, Direction: DirDeviceToServer}
	return d.Send(ctx, f)
}

func (d *Device) sendFragmented(ctx context.Context, command byte, data []byte) error {
	frames := BuildFragmentFrames(d.NatId(), d.DeviceId, command, data, DirDeviceToServer)
	for i, f := range frames {
		if err := d.Send(ctx, f); err != nil {
			return err
		}
		if i < len(frames)-1 {
			select {
			case <-time.After(d.FragmentDelay):
			case <-d.stop:
				return nil
			}
		}
	}
	return nil
}
