package trust

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// storeBackedTrustFetcher wraps a memoryTrustFetcher with durability:
// every RecordInteraction call is applied to the in-process ledger
// first (so FetchTrust stays fast and lock-free of I/O) and then handed
// to a flush callback supplied by the caller, which is expected to
// persist it via internal/store. Replaying persisted interactions back
// into a fresh memoryTrustFetcher on startup is the caller's
// responsibility (internal/tracker does this during warm start, via
// ReplayInteraction).
type storeBackedTrustFetcher struct {
	*memoryTrustFetcher
	key   ids.PoolKey
	flush func(key ids.PoolKey, from, to ids.NodeId, success bool)
}

// NewDurableTrustFetcher builds a TrustFetcher that behaves exactly like
// NewTrustFetcher's result but additionally invokes flush on every
// recorded interaction, letting the caller persist it without coupling
// this package to a storage engine.
func NewDurableTrustFetcher(key ids.PoolKey, flush func(key ids.PoolKey, from, to ids.NodeId, success bool)) TrustFetcher {
	inner := NewTrustFetcher().(*memoryTrustFetcher)
	return &storeBackedTrustFetcher{memoryTrustFetcher: inner, key: key, flush: flush}
}

func (d *storeBackedTrustFetcher) RecordInteraction(from, to ids.NodeId, success bool) {
	d.memoryTrustFetcher.RecordInteraction(from, to, success)
	if d.flush == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"pool": d.key, "panic": r}).Error("trust: durable flush panicked")
		}
	}()
	d.flush(d.key, from, to, success)
}

// ReplayInteraction feeds a persisted interaction back into the
// in-process ledger at its original timestamp, without re-triggering
// flush, used during warm start. Preserving `at` (rather than
// restamping with the current time) keeps the decay the interaction had
// already accrued before the restart instead of resetting it.
func (d *storeBackedTrustFetcher) ReplayInteraction(from, to ids.NodeId, success bool, at time.Time) {
	d.memoryTrustFetcher.recordAt(from, to, success, at)
}

// Replayable is implemented by any TrustFetcher that supports
// ReplayInteraction, letting warm-start code stay agnostic to the
// concrete durable/in-memory choice.
type Replayable interface {
	ReplayInteraction(from, to ids.NodeId, success bool, at time.Time)
}
