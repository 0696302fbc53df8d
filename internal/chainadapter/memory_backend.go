package chainadapter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/arkhive/poolkeeper/internal/ids"
)

type memoryPool struct {
	hash    ids.Hash
	balance *big.Int
	peers   map[ids.NodeId]struct{}
}

// MemoryBackend is a deterministic in-process Backend fake, mirroring
// the teacher's habit (chain/chain_test.go, network/mesh_manager_test.go)
// of testing against constructed in-memory chain state rather than a
// live RPC endpoint.
type MemoryBackend struct {
	mu          sync.Mutex
	pools       map[ids.Address]*memoryPool
	balances    map[ids.Address]*big.Int
	events      chan Event
	nextAddrSeq byte
}

// NewMemoryBackend builds an empty fake chain.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		pools:    make(map[ids.Address]*memoryPool),
		balances: make(map[ids.Address]*big.Int),
		events:   make(chan Event, 64),
	}
}

// SeedPool registers a pool directly, bypassing CreatePool, for tests
// that want to start from an already-populated chain.
func (m *MemoryBackend) SeedPool(addr ids.Address, hash ids.Hash, balance *big.Int, peers ...ids.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &memoryPool{hash: hash, balance: balance, peers: make(map[ids.NodeId]struct{})}
	for _, peer := range peers {
		p.peers[peer] = struct{}{}
	}
	m.pools[addr] = p
}

// SetAddressBalance configures the plain account balance GetAddressBalance
// returns for addr.
func (m *MemoryBackend) SetAddressBalance(addr ids.Address, bal *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = bal
}

func (m *MemoryBackend) GetAllPools(ctx context.Context) ([]ids.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ids.Address, 0, len(m.pools))
	for addr := range m.pools {
		out = append(out, addr)
	}
	return out, nil
}

func (m *MemoryBackend) CreatePool(ctx context.Context, hash ids.Hash, value *big.Int) (ids.Address, error) {
	m.mu.Lock()
	m.nextAddrSeq++
	var addr ids.Address
	addr[19] = m.nextAddrSeq
	m.pools[addr] = &memoryPool{hash: hash, balance: value, peers: make(map[ids.NodeId]struct{})}
	m.mu.Unlock()

	m.emit(Event{PoolCreated: &PoolCreated{PoolAddress: addr, Hash: hash, Balance: value}})
	return addr, nil
}

func (m *MemoryBackend) GetHash(ctx context.Context, pool ids.Address) (ids.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return ids.Hash{}, fmt.Errorf("chainadapter: unknown pool %s", pool)
	}
	return p.hash, nil
}

func (m *MemoryBackend) GetPeers(ctx context.Context, pool ids.Address) ([]ids.NodeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("chainadapter: unknown pool %s", pool)
	}
	out := make([]ids.NodeId, 0, len(p.peers))
	for peer := range p.peers {
		out = append(out, peer)
	}
	return out, nil
}

func (m *MemoryBackend) GetBalance(ctx context.Context, pool ids.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("chainadapter: unknown pool %s", pool)
	}
	return new(big.Int).Set(p.balance), nil
}

func (m *MemoryBackend) Deposit(ctx context.Context, pool ids.Address, amount *big.Int) error {
	m.mu.Lock()
	p, ok := m.pools[pool]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("chainadapter: unknown pool %s", pool)
	}
	p.balance = new(big.Int).Add(p.balance, amount)
	hash := p.hash
	bal := new(big.Int).Set(p.balance)
	m.mu.Unlock()

	m.emit(Event{Deposit: &Deposit{Pool: pool, Amount: amount, Hash: hash}})
	_ = bal
	return nil
}

func (m *MemoryBackend) EnterPool(ctx context.Context, pool ids.Address, sig ids.EnterPoolSignature) error {
	m.mu.Lock()
	p, ok := m.pools[pool]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("chainadapter: unknown pool %s", pool)
	}

	// The fake chain performs the same verification the real contract
	// does: the signature must be valid Ed25519 under k over the
	// address the node is proving control for. The contract already
	// knows that address from the call context (this Pool's own
	// address), so it is never transmitted inside the signature payload.
	if !ids.VerifyEnterPool(sig, pool) {
		return fmt.Errorf("chainadapter: invalid enter_pool signature for %s", sig.K)
	}

	m.mu.Lock()
	p.peers[sig.K] = struct{}{}
	m.mu.Unlock()

	m.emit(Event{PeerAdded: &PeerAdded{Pool: pool, NodeId: sig.K}})
	return nil
}

func (m *MemoryBackend) ClaimRewards(ctx context.Context, pool ids.Address) error {
	m.mu.Lock()
	_, ok := m.pools[pool]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("chainadapter: unknown pool %s", pool)
	}
	return nil
}

func (m *MemoryBackend) GetAddressBalance(ctx context.Context, addr ids.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *MemoryBackend) ListenEvents(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-m.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errs
}

func (m *MemoryBackend) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Slow/absent consumer: the fake chain never blocks a writer on
		// a full buffer, matching real chain semantics where a missed
		// log is recovered by the next enumeration.
	}
}

// ContentHash is a convenience helper for tests building deterministic
// pool hashes from arbitrary labels.
func ContentHash(label string) ids.Hash {
	return ids.Hash(sha256.Sum256([]byte(label)))
}
