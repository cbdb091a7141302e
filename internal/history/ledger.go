// Package history keeps the continue-watching and continue-reading
// ledgers in the key-value store. Each list is a single JSON document;
// per-URL playback times are separate scalar keys written by the player.
package history

import (
	"time"

	"go.uber.org/zap"

	"sora/internal/events"
	"sora/internal/logging"
	"sora/internal/store"
)

// Store keys.
const (
	KeyWatching                = "continueWatchingItems"
	KeyReading                 = "continueReadingItems"
	KeyCompletedChapters       = "completedChapterCache"
	KeyRemainingTimePercentage = "remainingTimePercentage"
	KeyLastCleanup             = "lastContinueWatchingCleanup"

	lastPlayedPrefix = "lastPlayedTime_"
	totalTimePrefix  = "totalTime_"
)

// Options configures a ledger.
type Options struct {
	Store  store.Store
	Bus    events.Publisher
	Logger *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type ledger struct {
	store  store.Store
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

func newLedger(opts Options) ledger {
	bus := opts.Bus
	if bus == nil {
		bus = events.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return ledger{
		store:  opts.Store,
		bus:    bus,
		logger: logging.OrNop(opts.Logger),
		now:    now,
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
