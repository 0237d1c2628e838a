package natbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleOfferConfirmedOnline(t *testing.T) {
	lc := newLifecycle(1)
	tr := lc.OnOfferConfirmed(false)
	assert.Equal(t, StateOffline, tr.From)
	assert.Equal(t, StateOnline, tr.To)
	assert.Equal(t, StateOnline, lc.State())
}

func TestLifecycleOfferConfirmedParked(t *testing.T) {
	lc := newLifecycle(1)
	tr := lc.OnOfferConfirmed(true)
	assert.Equal(t, StateParked, tr.To)
	assert.Equal(t, StateParked, lc.State())
	assert.False(t, lc.IsAuthorized())
}

func TestLifecycleAuthorizedFromParkedGoesOnline(t *testing.T) {
	lc := newLifecycle(1)
	lc.OnOfferConfirmed(true)
	tr := lc.OnAuthorized()
	assert.Equal(t, StateOnline, tr.To)
	assert.True(t, lc.IsAuthorized())
}

func TestLifecycleAuthorizedDoesNotForceOnlineFromOffline(t *testing.T) {
	lc := newLifecycle(1)
	tr := lc.OnAuthorized()
	assert.Equal(t, StateOffline, tr.To, "authorization alone never moves Offline -> Online; only an unparked confirm does")
}

func TestLifecycleOfflineTimeout(t *testing.T) {
	lc := newLifecycle(1)
	lc.OnOfferConfirmed(false)
	tr := lc.OnOfflineTimeout()
	assert.Equal(t, StateOffline, tr.To)
	assert.Equal(t, "offline_timeout", tr.Reason)
}

func TestLifecycleExtensionsOfflineClearsAuthAndOfferTiming(t *testing.T) {
	lc := newLifecycle(1)
	lc.OnOfferConfirmed(true)
	lc.OnAuthorized()

	lc.OnExtensionsOffline()
	assert.False(t, lc.IsAuthorized())
	assert.True(t, lc.extensionsOfflineReceived)
	// State itself is untouched by ExtensionsOffline.
	assert.Equal(t, StateOnline, lc.State())
}

func TestLifecycleShouldEmitOfferOnlyWhileOffline(t *testing.T) {
	lc := newLifecycle(1)
	assert.True(t, lc.ShouldEmitOffer(time.Now()), "first call always emits immediately")

	lc.OnOfferConfirmed(false)
	assert.False(t, lc.ShouldEmitOffer(time.Now()), "never emits offers once online")
}

func TestLifecycleShouldEmitOfferSuppressedAfterExtensionsOffline(t *testing.T) {
	lc := newLifecycle(1)
	lc.OnExtensionsOffline()
	assert.False(t, lc.ShouldEmitOffer(time.Now()), "ExtensionsOffline suppresses further offers until IdentifyUnknown")

	lc.OnIdentifyUnknown()
	assert.True(t, lc.ShouldEmitOffer(time.Now()), "IdentifyUnknown resumes offer emission")
}

func TestLifecycleOfferBackoffTiersAdvance(t *testing.T) {
	lc := newLifecycle(1)
	now := time.Now()

	for i := 0; i < offerTier1Max+1; i++ {
		ok := lc.ShouldEmitOffer(now)
		assert.True(t, ok)
		now = lc.nextOfferAt
	}
	// The counter is now past the first tier's count, so the next gap is
	// drawn from the second tier's wider window.
	assert.GreaterOrEqual(t, lc.offerCount, offerTier1Max+1)
}

func TestLifecycleResetClearsEverything(t *testing.T) {
	lc := newLifecycle(1)
	lc.OnOfferConfirmed(false)
	lc.OnAuthorized()

	tr := lc.Reset()
	assert.Equal(t, StateOffline, tr.To)
	assert.False(t, lc.IsAuthorized())
	assert.Equal(t, 0, lc.offerCount)
}

func TestDeviceStateString(t *testing.T) {
	assert.Equal(t, "offline", StateOffline.String())
	assert.Equal(t, "parked", StateParked.String())
	assert.Equal(t, "online", StateOnline.String())
}
