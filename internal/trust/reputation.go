package trust

import (
	"fmt"
	"sync"

	"github.com/arkhive/poolkeeper/internal/ids"
	"github.com/arkhive/poolkeeper/internal/trackererr"
)

// Config enumerates the fixed-point algorithm's tunables.
type Config struct {
	// Epsilon is the L∞ convergence threshold.
	Epsilon float64
	// MaxIterations is the hard iteration cap.
	MaxIterations int
	// Alpha is the pre-trust mixing weight applied every iteration.
	Alpha float64
}

// DefaultConfig matches the values fixed by the specification.
func DefaultConfig() Config {
	return Config{
		Epsilon:       1e-3,
		MaxIterations: 100,
		Alpha:         0.1,
	}
}

// ReputationEngine computes per-peer global trust scores for a single
// pool via a damped power iteration over a row-stochastic transition
// matrix built from its bound TrustFetcher, with pre-trust injection.
type ReputationEngine struct {
	cfg Config

	mu         sync.Mutex
	fetcher    TrustFetcher
	peers      map[ids.NodeId]struct{}
	localTrust map[ids.NodeId]float64
	preTrusted map[ids.NodeId]float64
}

// New binds a ReputationEngine to fetcher, the TrustFetcher that owns
// this pool's interaction ledger and peer mirror.
func New(fetcher TrustFetcher, cfg Config) *ReputationEngine {
	return &ReputationEngine{
		cfg:        cfg,
		fetcher:    fetcher,
		peers:      make(map[ids.NodeId]struct{}),
		localTrust: make(map[ids.NodeId]float64),
		preTrusted: make(map[ids.NodeId]float64),
	}
}

// AddPeer is an idempotent insertion into the pool's peer set.
func (e *ReputationEngine) AddPeer(p ids.NodeId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[p] = struct{}{}
	e.fetcher.AddPeer(p)
}

// RemovePeer drops p from the peer set and purges its local trust,
// pre-trust weight, and interaction-cache entries.
func (e *ReputationEngine) RemovePeer(p ids.NodeId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, p)
	delete(e.localTrust, p)
	delete(e.preTrusted, p)
	e.fetcher.RemovePeer(p)
}

// SetPreTrusted assigns a non-negative pre-trust bias weight to p.
func (e *ReputationEngine) SetPreTrusted(p ids.NodeId, v float64) error {
	if v < 0 {
		return fmt.Errorf("trust: pre-trust weight must be non-negative, got %v", v)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preTrusted[p] = v
	return nil
}

// ClearPreTrusted empties the pre-trust bias, reverting to a uniform
// prior on the next compute_global_trust.
func (e *ReputationEngine) ClearPreTrusted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preTrusted = make(map[ids.NodeId]float64)
}

// UpdateLocalTrust applies an exponential moving update:
// trust(p) <- (1-w)*trust(p) + w*v. Existing trust defaults to 0 for a
// peer with no prior recorded value.
func (e *ReputationEngine) UpdateLocalTrust(p ids.NodeId, v, w float64) error {
	if v < 0 {
		return fmt.Errorf("trust: local trust value must be non-negative, got %v", v)
	}
	if w < 0 || w > 1 {
		return fmt.Errorf("trust: update weight must be in [0,1], got %v", w)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.localTrust[p]
	e.localTrust[p] = (1-w)*current + w*v
	return nil
}

// GetLocalTrust returns this node's opinion of p, if any has been
// recorded.
func (e *ReputationEngine) GetLocalTrust(p ids.NodeId) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.localTrust[p]
	return v, ok
}

// PeerCount returns the number of peers currently tracked by this
// engine.
func (e *ReputationEngine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// Peers returns a snapshot of the current peer set.
func (e *ReputationEngine) Peers() []ids.NodeId {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ids.NodeId, 0, len(e.peers))
	for p := range e.peers {
		out = append(out, p)
	}
	return out
}

// ComputeGlobalTrust runs the fixed-point algorithm described in the
// component design and returns the per-peer global trust vector. It
// fails with trackererr.ErrEmptyPool if the peer set is empty.
func (e *ReputationEngine) ComputeGlobalTrust() (map[ids.NodeId]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.peers)
	if n == 0 {
		return nil, trackererr.ErrEmptyPool
	}

	order := make([]ids.NodeId, 0, n)
	for p := range e.peers {
		order = append(order, p)
	}

	// Initial vector t0: normalized pre-trust, or uniform.
	preSum := 0.0
	for p := range e.peers {
		preSum += e.preTrusted[p]
	}
	damping := make([]float64, n)
	if preSum > 0 {
		for idx, p := range order {
			damping[idx] = e.preTrusted[p] / preSum
		}
	} else {
		uniform := 1.0 / float64(n)
		for idx := range damping {
			damping[idx] = uniform
		}
	}

	t := make([]float64, n)
	copy(t, damping)

	// Row-stochastic transition matrix C: row i is fetch_trust(p_i, *),
	// normalized, or uniform if the row sums to zero.
	c := make([][]float64, n)
	for i, pi := range order {
		row := make([]float64, n)
		sum := 0.0
		for j, pj := range order {
			v := e.fetcher.FetchTrust(pi, pj)
			row[j] = v
			sum += v
		}
		if sum > 0 {
			for j := range row {
				row[j] /= sum
			}
		} else {
			uniform := 1.0 / float64(n)
			for j := range row {
				row[j] = uniform
			}
		}
		c[i] = row
	}

	alpha := e.cfg.Alpha
	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		next := make([]float64, n)
		// t_new = (1-alpha) * C^T * t + alpha * damping
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += c[i][j] * t[i]
			}
			next[j] = (1-alpha)*sum + alpha*damping[j]
		}

		delta := 0.0
		for i := range next {
			d := next[i] - t[i]
			if d < 0 {
				d = -d
			}
			if d > delta {
				delta = d
			}
		}
		t = next
		if delta < e.cfg.Epsilon {
			break
		}
	}

	result := make(map[ids.NodeId]float64, n)
	for idx, p := range order {
		result[p] = t[idx]
	}
	return result, nil
}
