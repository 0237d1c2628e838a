// pkg/natbus/state.go
package natbus

import (
	"math/rand"
	"time"
)

// DeviceState is the device lifecycle state (spec section 4.5).
type DeviceState int

const (
	StateOffline DeviceState = iota
	StateParked
	StateOnline
)

func (s DeviceState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateParked:
		return "parked"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Transition records a state change with its trigger, for logging (spec
// section 4.5: "each transition records a reason").
type Transition struct {
	From   DeviceState
	To     DeviceState
	Reason string
}

// offer backoff tiers (spec section 4.5).
const (
	offerTier1Max     = 2
	offerTier2Max     = 9
	offerTier1MinMs   = 100
	offerTier1MaxMs   = 150
	offerTier2MinMs   = 500
	offerTier2MaxMs   = 1000
	offerTier3MinMs   = 2000
	offerTier3MaxMs   = 3000
)

// lifecycle tracks a device's state and the sticky auxiliary flags plus
// offer/keep-alive timing bookkeeping spec section 4.5 describes. It holds
// no transport or dispatch state — that's device.go's job.
type lifecycle struct {
	state DeviceState

	isAuthorized              bool
	extensionsOfflineReceived bool

	offerCount    int
	nextOfferAt   time.Time
	offlineAfter  time.Time // when StateOffline fires in Parked/Online
	lastAliveAt   time.Time

	rand *rand.Rand
}

func newLifecycle(seed int64) *lifecycle {
	return &lifecycle{
		state: StateOffline,
		rand:  rand.New(rand.NewSource(seed)),
	}
}

// Reset moves to Offline unconditionally (power-on/reset trigger).
func (l *lifecycle) Reset() Transition {
	from := l.state
	l.state = StateOffline
	l.offerCount = 0
	l.nextOfferAt = time.Time{}
	l.isAuthorized = false
	return Transition{From: from, To: StateOffline, Reason: "reset"}
}

// OnOfferConfirmed applies a NatOfferConfirm addressed to this device's
// own serial: Offline -> Online (unparked) or Offline -> Parked (parked).
func (l *lifecycle) OnOfferConfirmed(parked bool) Transition {
	from := l.state
	to := StateOnline
	reason := "nat_offer_confirm"
	if parked {
		to = StateParked
	}
	l.state = to
	l.offerCount = 0
	return Transition{From: from, To: to, Reason: reason}
}

// OnAuthorized applies a successful challenge solve from Parked: Parked ->
// Online.
func (l *lifecycle) OnAuthorized() Transition {
	from := l.state
	l.isAuthorized = true
	if l.state == StateParked {
		l.state = StateOnline
	}
	return Transition{From: from, To: l.state, Reason: "challenge_authorized"}
}

// OnOfflineTimeout applies the offline-timeout trigger from Parked/Online.
func (l *lifecycle) OnOfflineTimeout() Transition {
	from := l.state
	l.state = StateOffline
	l.offerCount = 0
	return Transition{From: from, To: StateOffline, Reason: "offline_timeout"}
}

// OnExtensionsOffline applies the ExtensionsOffline trigger: the state
// itself is unchanged, but offer timing resets and is_authorized clears.
func (l *lifecycle) OnExtensionsOffline() Transition {
	l.extensionsOfflineReceived = true
	l.isAuthorized = false
	l.nextOfferAt = time.Time{}
	return Transition{From: l.state, To: l.state, Reason: "extensions_offline"}
}

// OnIdentifyUnknown clears extensions_offline_received and, if currently
// unassigned (Offline), resumes offer emission.
func (l *lifecycle) OnIdentifyUnknown() {
	l.extensionsOfflineReceived = false
	if l.state == StateOffline {
		l.nextOfferAt = time.Time{}
	}
}

// State returns the current lifecycle state.
func (l *lifecycle) State() DeviceState { return l.state }

// IsAuthorized reports whether the last challenge succeeded.
func (l *lifecycle) IsAuthorized() bool { return l.isAuthorized }

// ShouldEmitOffer reports whether, at time now, it's time to send another
// NatOfferRequest, and advances the backoff schedule if so. Only valid
// while Offline; callers must not call it otherwise.
func (l *lifecycle) ShouldEmitOffer(now time.Time) bool {
	if l.state != StateOffline {
		return false
	}
	if l.extensionsOfflineReceived {
		return false
	}
	if l.offerCount == 0 {
		l.scheduleNextOffer(now)
		return true
	}
	if now.Before(l.nextOfferAt) {
		return false
	}
	l.scheduleNextOffer(now)
	return true
}

func (l *lifecycle) scheduleNextOffer(now time.Time) {
	var minMs, maxMs int
	switch {
	case l.offerCount <= offerTier1Max:
		minMs, maxMs = offerTier1MinMs, offerTier1MaxMs
	case l.offerCount <= offerTier2Max:
		minMs, maxMs = offerTier2MinMs, offerTier2MaxMs
	default:
		minMs, maxMs = offerTier3MinMs, offerTier3MaxMs
	}
	jitter := minMs
	if maxMs > minMs {
		jitter += l.rand.Intn(maxMs - minMs + 1)
	}
	l.offerCount++
	l.nextOfferAt = now.Add(time.Duration(jitter) * time.Millisecond)
}
