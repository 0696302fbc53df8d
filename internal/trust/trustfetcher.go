// Package trust implements the per-pool reputation engine: the
// interaction ledger and peer-set mirror (TrustFetcher, C1) and the
// transition-matrix fixed-point trust computation (ReputationEngine, C2).
package trust

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// halfLife is the time constant used by the decayed-trust formula: a
// record's weight halves every 10 minutes.
const halfLife = 600 * time.Second

// failureWeight doubles the contribution of a failure record relative
// to a success record, producing fast, safety-biased trust erosion.
const failureWeight = 2.0

// record is one interaction outcome for a (from, to) pair, stored with
// enough information to recompute its decayed weight at any later read.
type record struct {
	success bool
	at      time.Time
}

// clock lets tests substitute a deterministic time source; production
// code uses realClock (time.Now).
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// PeerDiscoverer is the narrow on-chain read TrustFetcher.discover_peers
// falls back to when asked to reconcile against chain state; it
// tolerates failures by returning the local mirror alone.
type PeerDiscoverer interface {
	GetPeers(ctx context.Context) ([]ids.NodeId, error)
}

// TrustFetcher is the capability interface the ReputationEngine depends
// on: a peer-set mirror plus a derived, time-decayed pairwise trust
// read. A concrete in-process implementation (memoryTrustFetcher,
// optionally wrapped by a store-backed variant) is used in production; a
// deterministic mock can be substituted in tests.
type TrustFetcher interface {
	AddPeer(p ids.NodeId)
	RemovePeer(p ids.NodeId)
	RecordInteraction(from, to ids.NodeId, success bool)
	FetchTrust(i, j ids.NodeId) float64
	DiscoverPeers(ctx context.Context, chain PeerDiscoverer) map[ids.NodeId]struct{}
}

// memoryTrustFetcher is the production TrustFetcher: an in-process peer
// mirror plus a growing per-pair ledger, reader/writer-locked exactly
// like the teacher's NetworkTopology/PeerTable maps.
type memoryTrustFetcher struct {
	mu     sync.RWMutex
	peers  map[ids.NodeId]struct{}
	ledger map[pairKey][]record
	clock  clock
}

type pairKey struct {
	from, to ids.NodeId
}

// NewTrustFetcher constructs the production, in-memory TrustFetcher.
func NewTrustFetcher() TrustFetcher {
	return &memoryTrustFetcher{
		peers:  make(map[ids.NodeId]struct{}),
		ledger: make(map[pairKey][]record),
		clock:  realClock{},
	}
}

func (tf *memoryTrustFetcher) AddPeer(p ids.NodeId) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.peers[p] = struct{}{}
}

func (tf *memoryTrustFetcher) RemovePeer(p ids.NodeId) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	delete(tf.peers, p)
	for key := range tf.ledger {
		if key.from == p || key.to == p {
			delete(tf.ledger, key)
		}
	}
}

func (tf *memoryTrustFetcher) RecordInteraction(from, to ids.NodeId, success bool) {
	tf.recordAt(from, to, success, tf.clock.Now())
}

// recordAt appends a ledger entry at an explicit timestamp, bypassing
// the clock — used to replay persisted interactions at warm start
// without discarding the decay they have already accrued.
func (tf *memoryTrustFetcher) recordAt(from, to ids.NodeId, success bool, at time.Time) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	key := pairKey{from: from, to: to}
	tf.ledger[key] = append(tf.ledger[key], record{success: success, at: at})
}

// FetchTrust returns the weighted, time-decayed score in [0,1] derived
// from (i,j)'s ledger: H(Δt) = 0.5^(Δt/600s); successes accumulate S,
// failures accumulate F at double weight; result is S/(S+F), or 0 if no
// evidence exists yet.
func (tf *memoryTrustFetcher) FetchTrust(i, j ids.NodeId) float64 {
	tf.mu.RLock()
	defer tf.mu.RUnlock()

	recs := tf.ledger[pairKey{from: i, to: j}]
	if len(recs) == 0 {
		return 0
	}

	now := tf.clock.Now()
	var s, f float64
	for _, r := range recs {
		age := now.Sub(r.at)
		if age < 0 {
			age = 0
		}
		weight := decayWeight(age)
		if r.success {
			s += weight
		} else {
			f += weight * failureWeight
		}
	}
	if s+f <= 0 {
		return 0
	}
	return s / (s + f)
}

func decayWeight(age time.Duration) float64 {
	// 0.5 ^ (age / halfLife)
	exponent := age.Seconds() / halfLife.Seconds()
	return math.Pow(0.5, exponent)
}

func (tf *memoryTrustFetcher) DiscoverPeers(ctx context.Context, chain PeerDiscoverer) map[ids.NodeId]struct{} {
	tf.mu.RLock()
	local := make(map[ids.NodeId]struct{}, len(tf.peers))
	for p := range tf.peers {
		local[p] = struct{}{}
	}
	tf.mu.RUnlock()

	if chain == nil {
		return local
	}
	remote, err := chain.GetPeers(ctx)
	if err != nil {
		// discover_peers tolerates chain errors by returning the local
		// mirror alone.
		return local
	}
	for _, p := range remote {
		local[p] = struct{}{}
	}
	return local
}
