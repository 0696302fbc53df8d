// Package tracker implements the coordinator: it owns the pool
// registry, drives per-cycle reconciliation against the chain, joins
// pools the node can locally serve, probes pool members, maintains
// local trust, and answers the queries the HTTP collaborator needs.
// Registry mutation is centralized here, generalizing the teacher's
// bespoke syncInProgress-guarded ChainSyncManager (chain/sync.go) into a
// single-flighted reconciliation cycle.
package tracker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/arkhive/poolkeeper/internal/blob"
	"github.com/arkhive/poolkeeper/internal/chainadapter"
	"github.com/arkhive/poolkeeper/internal/ids"
	"github.com/arkhive/poolkeeper/internal/probe"
	"github.com/arkhive/poolkeeper/internal/store"
	"github.com/arkhive/poolkeeper/internal/trackererr"
	"github.com/arkhive/poolkeeper/internal/trust"
)

// State is a pool's membership lifecycle stage from this node's
// perspective.
type State int

const (
	Unknown State = iota
	Tracked
	Joining
	Member
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Tracked:
		return "tracked"
	case Joining:
		return "joining"
	case Member:
		return "member"
	default:
		return "unknown-state"
	}
}

// Trust update deltas and decay constants, per the local-trust update
// policy.
const (
	deltaSuccess = 0.2
	deltaTimeout = -0.8
	deltaError   = -0.9
	updateWeight = 0.8

	decayFactor = 0.7
	// decayWeight is 1.0 (full replacement) rather than the update
	// policy's blended weight: the reconciliation loop's "0.7x decay"
	// step must compound to exactly 0.7 per cycle (spec §8 Scenario 6:
	// local_trust(p) <= 1.0 * 0.7^10 + eps after ten idle cycles), which
	// a <1.0 blend weight against UpdateLocalTrust's EMA would undershoot.
	decayWeight = 1.0

	defaultLocalTrust = 0.5
)

type poolEntry struct {
	key     ids.PoolKey
	state   State
	balance *big.Int
	fetcher trust.TrustFetcher
	engine  *trust.ReputationEngine
}

// Tracker is the single owner of the pool registry.
type Tracker struct {
	self    ids.NodeId
	chain   chainadapter.Backend
	blobs   blob.Transport
	probes  *probe.Client
	persist *store.Store

	mu    sync.RWMutex
	pools map[ids.PoolKey]*poolEntry

	joinIdentity *ids.Identity

	reconcileGroup singleflight.Group
}

// New builds a Tracker for the node identified by self.
func New(self ids.NodeId, chain chainadapter.Backend, blobs blob.Transport, persist *store.Store) *Tracker {
	return &Tracker{
		self:    self,
		chain:   chain,
		blobs:   blobs,
		probes:  probe.New(blobs),
		persist: persist,
		pools:   make(map[ids.PoolKey]*poolEntry),
	}
}

func (t *Tracker) flushInteraction(key ids.PoolKey, from, to ids.NodeId, success bool) {
	if t.persist == nil {
		return
	}
	rec := store.InteractionRecord{From: from, To: to, Success: success, At: time.Now()}
	if err := t.persist.AppendInteraction(key, rec); err != nil {
		log.WithError(err).WithField("pool", key).Warn("tracker: failed to persist interaction")
	}
}

// upsertPool inserts a fresh entry for key if one does not already
// exist, constructing a new ReputationEngine as required by the
// reconciliation contract. Returns the entry either way.
func (t *Tracker) upsertPool(key ids.PoolKey, balance *big.Int) *poolEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pools[key]
	if !ok {
		fetcher := trust.NewDurableTrustFetcher(key, t.flushInteraction)
		entry = &poolEntry{
			key:     key,
			state:   Tracked,
			balance: balance,
			fetcher: fetcher,
			engine:  trust.New(fetcher, trust.DefaultConfig()),
		}
		t.pools[key] = entry
		if t.persist != nil {
			if err := t.persist.SavePool(store.PoolRecord{Key: key, Balance: balance.String()}); err != nil {
				log.WithError(err).WithField("pool", key).Warn("tracker: failed to persist pool record")
			}
		}
		return entry
	}
	entry.balance = balance
	return entry
}

func (t *Tracker) lookupPool(key ids.PoolKey) (*poolEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.pools[key]
	return entry, ok
}

func (t *Tracker) firstPoolWithHash(hash ids.Hash) (*poolEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, entry := range t.pools {
		if entry.key.Hash == hash {
			return entry, true
		}
	}
	return nil, false
}

func (t *Tracker) firstPoolWithAddr(addr ids.Address) (*poolEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, entry := range t.pools {
		if entry.key.Addr == addr {
			return entry, true
		}
	}
	return nil, false
}

// AddPool upserts a pool discovered from a PoolCreated log, the
// event-ingestion counterpart to discoverPools' enumeration path: the
// event carries the same (hash, balance) a fresh chain read would
// return, so no RPC round trip is needed to react to it immediately.
func (t *Tracker) AddPool(addr ids.Address, hash ids.Hash, balance *big.Int) {
	t.upsertPool(ids.PoolKey{Hash: hash, Addr: addr}, balance)
}

// AddPoolPeer folds a PeerAdded log into the named pool's peer set
// immediately, ahead of the next reconciliation cycle's on-chain peer
// union. A log for a pool not yet tracked is dropped; discoverPools
// will pick the pool up on its next enumeration and unionPeers will
// then observe this peer from chain state directly.
func (t *Tracker) AddPoolPeer(addr ids.Address, peer ids.NodeId) {
	entry, ok := t.firstPoolWithAddr(addr)
	if !ok {
		return
	}
	entry.engine.AddPeer(peer)
}

// CreatePool submits the factory call. Local state is not eagerly
// updated; the reconciliation loop picks up the new pool from the
// emitted PoolCreated log or the next enumeration.
func (t *Tracker) CreatePool(ctx context.Context, hash ids.Hash, value *big.Int) error {
	if _, err := t.chain.CreatePool(ctx, hash, value); err != nil {
		return fmt.Errorf("tracker: create_pool: %w: %w", trackererr.ErrChain, err)
	}
	return nil
}

// EnterPool submits a freshly signed enter_pool call for key, once its
// preconditions hold: the pool is known and the local blob store
// reports key.Hash complete.
func (t *Tracker) EnterPool(ctx context.Context, key ids.PoolKey, identity ids.Identity) error {
	entry, ok := t.lookupPool(key)
	if !ok {
		return trackererr.ErrPoolMissing
	}
	if t.blobs.Status(key.Hash) != blob.Complete {
		return trackererr.ErrContentMissing
	}

	sig := identity.SignEnterPool(key.Addr)
	if err := t.chain.EnterPool(ctx, key.Addr, sig); err != nil {
		return fmt.Errorf("tracker: enter_pool: %w: %w", trackererr.ErrChain, err)
	}

	t.mu.Lock()
	entry.state = Member
	t.mu.Unlock()
	entry.engine.AddPeer(t.self)
	return nil
}

// DepositIntoPool submits a payable deposit and refreshes the cached
// pool balance.
func (t *Tracker) DepositIntoPool(ctx context.Context, key ids.PoolKey, amount *big.Int) error {
	if err := t.chain.Deposit(ctx, key.Addr, amount); err != nil {
		return fmt.Errorf("tracker: deposit_into_pool: %w: %w", trackererr.ErrChain, err)
	}
	bal, err := t.chain.GetBalance(ctx, key.Addr)
	if err != nil {
		return fmt.Errorf("tracker: deposit_into_pool: refresh balance: %w: %w", trackererr.ErrChain, err)
	}
	if entry, ok := t.lookupPool(key); ok {
		t.mu.Lock()
		entry.balance = bal
		t.mu.Unlock()
	}
	return nil
}

// ClaimPoolRewards submits a rewards-claim call for a known pool.
func (t *Tracker) ClaimPoolRewards(ctx context.Context, key ids.PoolKey) error {
	if _, ok := t.lookupPool(key); !ok {
		return trackererr.ErrPoolMissing
	}
	if err := t.chain.ClaimRewards(ctx, key.Addr); err != nil {
		return fmt.Errorf("tracker: claim_pool_rewards: %w: %w", trackererr.ErrChain, err)
	}
	return nil
}

// ProbeAndUpdateTrust runs ProbeClient against peer for key.Hash and
// folds the result into peer's local trust, per the update policy: a
// fast exponential-moving score plus a decayed interaction record.
func (t *Tracker) ProbeAndUpdateTrust(ctx context.Context, key ids.PoolKey, peer ids.NodeId) error {
	entry, ok := t.lookupPool(key)
	if !ok {
		return trackererr.ErrPoolMissing
	}

	result := t.probes.Probe(ctx, peer, key.Hash, 5*time.Second)
	var delta float64
	var success bool
	switch result.Outcome {
	case probe.Success:
		delta = deltaSuccess
		success = true
	case probe.Timeout:
		delta = deltaTimeout
	default:
		delta = deltaError
	}

	current, ok := entry.engine.GetLocalTrust(peer)
	if !ok {
		current = defaultLocalTrust
	}
	next := clamp(current+delta, 0, 1)
	if err := entry.engine.UpdateLocalTrust(peer, next, updateWeight); err != nil {
		return fmt.Errorf("tracker: probe_and_update_trust: %w: %w", trackererr.ErrChain, err)
	}
	entry.fetcher.RecordInteraction(t.self, peer, success)
	return nil
}

// ProbePool invokes ProbeAndUpdateTrust for every known peer of a pool;
// individual failures are logged and reflected only in reputation, never
// propagated.
func (t *Tracker) ProbePool(ctx context.Context, key ids.PoolKey) {
	entry, ok := t.lookupPool(key)
	if !ok {
		return
	}
	for _, peer := range entry.engine.Peers() {
		if peer == t.self {
			continue
		}
		if err := t.ProbeAndUpdateTrust(ctx, key, peer); err != nil {
			log.WithError(err).WithFields(log.Fields{"pool": key, "peer": peer}).Warn("tracker: probe_pool: probe failed")
		}
	}
}

// GetPoolTrust returns the global trust vector for a known pool.
func (t *Tracker) GetPoolTrust(key ids.PoolKey) (map[ids.NodeId]float64, error) {
	entry, ok := t.lookupPool(key)
	if !ok {
		return nil, trackererr.ErrPoolMissing
	}
	result, err := entry.engine.ComputeGlobalTrust()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetHashTrust returns trust for the first pool matching hash, or false
// if none is tracked or its pool is empty.
func (t *Tracker) GetHashTrust(hash ids.Hash) (map[ids.NodeId]float64, bool) {
	entry, ok := t.firstPoolWithHash(hash)
	if !ok {
		return nil, false
	}
	result, err := entry.engine.ComputeGlobalTrust()
	if err != nil {
		return nil, false
	}
	return result, true
}

// PoolSnapshot is one row of list_pools_with_trust's result.
type PoolSnapshot struct {
	Key     ids.PoolKey
	Balance *big.Int
	Trust   map[ids.NodeId]float64
}

// ListPoolsWithTrust returns a snapshot of every tracked pool.
func (t *Tracker) ListPoolsWithTrust() []PoolSnapshot {
	t.mu.RLock()
	entries := make([]*poolEntry, 0, len(t.pools))
	for _, e := range t.pools {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]PoolSnapshot, 0, len(entries))
	for _, e := range entries {
		trustMap, err := e.engine.ComputeGlobalTrust()
		if err != nil {
			trustMap = nil
		}
		out = append(out, PoolSnapshot{Key: e.key, Balance: e.balance, Trust: trustMap})
	}
	return out
}

// FindPeer returns any peer with positive current trust in the first
// pool matching hash, excluding self.
func (t *Tracker) FindPeer(hash ids.Hash) (ids.NodeId, bool) {
	entry, ok := t.firstPoolWithHash(hash)
	if !ok {
		return ids.NodeId{}, false
	}
	trustMap, err := entry.engine.ComputeGlobalTrust()
	if err != nil {
		return ids.NodeId{}, false
	}
	for peer, v := range trustMap {
		if peer == t.self {
			continue
		}
		if v > 0 {
			return peer, true
		}
	}
	return ids.NodeId{}, false
}

// PullBlob downloads hash from a peer found via FindPeer, if it is not
// already locally present.
func (t *Tracker) PullBlob(ctx context.Context, hash ids.Hash) error {
	if t.blobs.Status(hash) == blob.Complete {
		return nil
	}
	peer, ok := t.FindPeer(hash)
	if !ok {
		return trackererr.ErrNoPeers
	}
	if err := t.blobs.Download(ctx, peer, hash); err != nil {
		return fmt.Errorf("tracker: pull_blob: %w: %w", trackererr.ErrTransport, err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
