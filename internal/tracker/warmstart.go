package tracker

import (
	"fmt"
	"math/big"

	"github.com/arkhive/poolkeeper/internal/trust"
)

// WarmStart repopulates the registry from the durable store before the
// first reconciliation cycle runs, so a restarted node does not lose its
// peer mirrors and interaction ledgers — the counterpart to
// flushInteraction/SavePool/SavePoolPeers on the write side. It is a
// no-op if the Tracker was built without a store.
func (t *Tracker) WarmStart() error {
	if t.persist == nil {
		return nil
	}

	records, err := t.persist.LoadPools()
	if err != nil {
		return fmt.Errorf("tracker: warm_start: load pools: %w", err)
	}

	for _, rec := range records {
		balance, ok := new(big.Int).SetString(rec.Balance, 10)
		if !ok {
			return fmt.Errorf("tracker: warm_start: invalid balance %q for pool %s", rec.Balance, rec.Key)
		}
		entry := t.upsertPool(rec.Key, balance)

		peers, err := t.persist.LoadPoolPeers(rec.Key)
		if err != nil {
			return fmt.Errorf("tracker: warm_start: load peers for pool %s: %w", rec.Key, err)
		}
		for _, peer := range peers {
			entry.engine.AddPeer(peer)
			if peer == t.self {
				t.mu.Lock()
				entry.state = Member
				t.mu.Unlock()
			}
		}

		interactions, err := t.persist.LoadInteractions(rec.Key)
		if err != nil {
			return fmt.Errorf("tracker: warm_start: load interactions for pool %s: %w", rec.Key, err)
		}
		replayer, ok := entry.fetcher.(trust.Replayable)
		if !ok {
			continue
		}
		for _, ir := range interactions {
			replayer.ReplayInteraction(ir.From, ir.To, ir.Success, ir.At)
		}
	}
	return nil
}
