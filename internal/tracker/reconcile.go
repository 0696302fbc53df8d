package tracker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/arkhive/poolkeeper/internal/blob"
	"github.com/arkhive/poolkeeper/internal/ids"
	"github.com/arkhive/poolkeeper/internal/probe"
)

// ReconcileInterval is the steady-state reconciliation cadence.
const ReconcileInterval = 5 * time.Second

// bootstrapAttempts and bootstrapBackoff bound the node's initial
// reconciliation retries, per the scheduling discipline.
const bootstrapAttempts = 3

var bootstrapBackoff = 5 * time.Second

// Reconcile runs one reconciliation cycle: pool discovery, peer union,
// join attempts, reputation refresh, and trust decay, in that order. A
// concurrent call observes the in-flight result and returns without
// running a second cycle, matching the "skip, never queue" scheduling
// discipline — generalizing the teacher's syncInProgress bool guard
// (chain/sync.go) into golang.org/x/sync/singleflight.
func (t *Tracker) Reconcile(ctx context.Context) error {
	_, err, _ := t.reconcileGroup.Do("reconcile", func() (interface{}, error) {
		return nil, t.reconcileOnce(ctx)
	})
	return err
}

// TryReconcile starts a cycle if none is in flight and returns without
// waiting for it; a call made while a cycle is in flight starts nothing
// — the shape the periodic ticker uses so a slow cycle never backs up
// ticks. A failed cycle is logged from inside the cycle, since no caller
// waits on its result.
func (t *Tracker) TryReconcile(ctx context.Context) {
	t.reconcileGroup.DoChan("reconcile", func() (interface{}, error) {
		err := t.reconcileOnce(ctx)
		if err != nil {
			log.WithError(err).Warn("tracker: reconciliation cycle failed")
		}
		return nil, err
	})
}

func (t *Tracker) reconcileOnce(ctx context.Context) error {
	if err := t.discoverPools(ctx); err != nil {
		return err
	}

	t.mu.RLock()
	keys := make([]ids.PoolKey, 0, len(t.pools))
	for k := range t.pools {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	for _, key := range keys {
		t.unionPeers(ctx, key)
		t.maybeJoin(ctx, key)
		t.ProbePool(ctx, key)
	}
	t.decayAllTrust()
	return nil
}

func (t *Tracker) discoverPools(ctx context.Context) error {
	addrs, err := t.chain.GetAllPools(ctx)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		hash, err := t.chain.GetHash(ctx, addr)
		if err != nil {
			log.WithError(err).WithField("pool", addr).Warn("tracker: get_hash failed during discovery")
			continue
		}
		balance, err := t.chain.GetBalance(ctx, addr)
		if err != nil {
			log.WithError(err).WithField("pool", addr).Warn("tracker: get_balance failed during discovery")
			continue
		}
		key := ids.PoolKey{Hash: hash, Addr: addr}
		t.upsertPool(key, balance)
	}
	return nil
}

func (t *Tracker) unionPeers(ctx context.Context, key ids.PoolKey) {
	entry, ok := t.lookupPool(key)
	if !ok {
		return
	}
	remote, err := t.chain.GetPeers(ctx, key.Addr)
	if err != nil {
		log.WithError(err).WithField("pool", key).Warn("tracker: get_peers failed during union")
		return
	}
	for _, peer := range remote {
		entry.engine.AddPeer(peer)
	}
	if t.persist != nil {
		if err := t.persist.SavePoolPeers(key, entry.engine.Peers()); err != nil {
			log.WithError(err).WithField("pool", key).Warn("tracker: failed to persist peer mirror")
		}
	}
}

// maybeJoin drives the Tracked -> Joining -> Member transition: if self
// is not yet a pool peer, it attempts to acquire the content locally
// (directly, or by downloading from any peer that probes successfully)
// and, on success, submits enter_pool.
func (t *Tracker) maybeJoin(ctx context.Context, key ids.PoolKey) {
	entry, ok := t.lookupPool(key)
	if !ok {
		return
	}

	t.mu.RLock()
	state := entry.state
	t.mu.RUnlock()
	if state == Member {
		return
	}

	alreadyPeer := false
	for _, peer := range entry.engine.Peers() {
		if peer == t.self {
			alreadyPeer = true
			break
		}
	}
	if alreadyPeer {
		t.mu.Lock()
		entry.state = Member
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	entry.state = Joining
	t.mu.Unlock()

	if t.blobs.Status(key.Hash) != blob.Complete {
		if !t.acquireContent(ctx, entry, key) {
			t.mu.Lock()
			entry.state = Tracked
			t.mu.Unlock()
			return
		}
	}

	identity, ok := t.identityForJoin()
	if !ok {
		t.mu.Lock()
		entry.state = Tracked
		t.mu.Unlock()
		return
	}
	if err := t.EnterPool(ctx, key, identity); err != nil {
		log.WithError(err).WithField("pool", key).Warn("tracker: enter_pool failed, will retry next cycle")
		t.mu.Lock()
		entry.state = Tracked
		t.mu.Unlock()
	}
}

// acquireContent probes the known peers in any order and, for each one
// whose probe succeeds, attempts a download, stopping at the first
// download that succeeds. It returns false if no peer yields the content.
func (t *Tracker) acquireContent(ctx context.Context, entry *poolEntry, key ids.PoolKey) bool {
	for _, peer := range entry.engine.Peers() {
		if peer == t.self {
			continue
		}
		result := t.probes.Probe(ctx, peer, key.Hash, 5*time.Second)
		if result.Outcome != probe.Success {
			continue
		}
		if err := t.blobs.Download(ctx, peer, key.Hash); err == nil {
			return true
		}
	}
	return false
}

// decayAllTrust applies the per-cycle strong-decay policy to every
// peer's local-trust value in every tracked pool.
func (t *Tracker) decayAllTrust() {
	t.mu.RLock()
	entries := make([]*poolEntry, 0, len(t.pools))
	for _, e := range t.pools {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	for _, entry := range entries {
		for _, peer := range entry.engine.Peers() {
			current, ok := entry.engine.GetLocalTrust(peer)
			if !ok {
				continue
			}
			decayed := current * decayFactor
			if err := entry.engine.UpdateLocalTrust(peer, decayed, decayWeight); err != nil {
				log.WithError(err).WithFields(log.Fields{"pool": entry.key, "peer": peer}).Warn("tracker: trust decay failed")
			}
		}
	}
}

// identityForJoin is overridable by the daemon entrypoint; Tracker
// itself holds no private key material, only the public identity it was
// constructed with, so join attempts without a bound signer are skipped
// rather than failing hard.
func (t *Tracker) identityForJoin() (ids.Identity, bool) {
	if t.joinIdentity == nil {
		return ids.Identity{}, false
	}
	return *t.joinIdentity, true
}

// BindJoinIdentity supplies the Ed25519 keypair used to sign enter_pool
// calls during automatic reconciliation-driven joins.
func (t *Tracker) BindJoinIdentity(identity ids.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinIdentity = &identity
}

// RunBootstrap retries Reconcile up to bootstrapAttempts times with
// bootstrapBackoff between failures, the startup discipline the
// scheduling section specifies.
func (t *Tracker) RunBootstrap(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < bootstrapAttempts; attempt++ {
		if err = t.Reconcile(ctx); err == nil {
			return nil
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("tracker: bootstrap reconciliation failed")
		if attempt == bootstrapAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bootstrapBackoff):
		}
	}
	return err
}
