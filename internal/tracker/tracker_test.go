package tracker

import (
	"context"
	"math"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkhive/poolkeeper/internal/blob"
	"github.com/arkhive/poolkeeper/internal/chainadapter"
	"github.com/arkhive/poolkeeper/internal/ids"
	"github.com/arkhive/poolkeeper/internal/store"
)

// blockingPoolLister wraps a Backend and blocks every GetAllPools call on
// release until it is closed, counting how many times the underlying
// enumeration actually ran.
type blockingPoolLister struct {
	chainadapter.Backend
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingPoolLister) GetAllPools(ctx context.Context) ([]ids.Address, error) {
	b.calls.Add(1)
	<-b.release
	return b.Backend.GetAllPools(ctx)
}

func newPeer(t *testing.T, seedByte byte) ids.NodeId {
	t.Helper()
	var n ids.NodeId
	for i := range n {
		n[i] = seedByte
	}
	return n
}

// Scenario: reconcile-join. Local already holds the content; after one
// reconciliation cycle the pool should transition to Member.
func TestReconcile_JoinWhenContentAlreadyLocal(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	self := identity.Public

	data := []byte("joinable content")
	hash, err := transport.StoreBlob(data)
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}

	other := newPeer(t, 1)
	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	chain.SeedPool(addr, hash, big.NewInt(0), other)

	tr := New(self, chain, transport, nil)
	tr.BindJoinIdentity(identity)

	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	key := ids.PoolKey{Hash: hash, Addr: addr}
	entry, ok := tr.lookupPool(key)
	if !ok {
		t.Fatal("expected the pool to be tracked after reconciliation")
	}
	if entry.state != Member {
		t.Errorf("state = %v, want Member", entry.state)
	}

	peers, err := chain.GetPeers(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	found := false
	for _, p := range peers {
		if p == self {
			found = true
		}
	}
	if !found {
		t.Error("expected self to appear in the on-chain peer list after joining")
	}
}

// Scenario: reconcile-download-join. Local does not hold the content;
// a successful probe against the only peer should trigger a download
// and then a join.
func TestReconcile_DownloadThenJoin(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	self := identity.Public

	data := []byte("downloadable content")
	hash := chainadapter.ContentHash("downloadable content")
	_ = data

	other := newPeer(t, 2)
	transport.SeedRemote(other, hash, data)
	transport.SetLatency(other, 10*time.Millisecond)

	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	chain.SeedPool(addr, hash, big.NewInt(0), other)

	tr := New(self, chain, transport, nil)
	tr.BindJoinIdentity(identity)

	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if transport.Status(hash) != blob.Complete {
		t.Fatal("expected content to have been downloaded locally")
	}

	key := ids.PoolKey{Hash: hash, Addr: addr}
	entry, ok := tr.lookupPool(key)
	if !ok {
		t.Fatal("expected the pool to be tracked")
	}
	if entry.state != Member {
		t.Errorf("state = %v, want Member", entry.state)
	}
}

// Scenario: reconcile-download-join failure path. If download fails for
// every peer, no join should be submitted.
func TestReconcile_NoJoinWhenDownloadFailsForAllPeers(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	self := identity.Public

	hash := chainadapter.ContentHash("unreachable content")
	other := newPeer(t, 3)
	transport.SetFailing(other, true)

	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	chain.SeedPool(addr, hash, big.NewInt(0), other)

	tr := New(self, chain, transport, nil)
	tr.BindJoinIdentity(identity)

	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	key := ids.PoolKey{Hash: hash, Addr: addr}
	entry, ok := tr.lookupPool(key)
	if !ok {
		t.Fatal("expected the pool to be tracked")
	}
	if entry.state == Member {
		t.Error("expected no join to be submitted when download fails for every peer")
	}

	peers, err := chain.GetPeers(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	for _, p := range peers {
		if p == self {
			t.Error("self should not appear in the peer list when join was not submitted")
		}
	}
}

// Scenario: decay behavior. A successful probe raises local trust; the
// next reconciliation cycle's decay step pulls it back down.
func TestReconcile_DecayReducesLocalTrustAcrossCycles(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	self := identity.Public

	data := []byte("decay scenario content")
	hash, err := transport.StoreBlob(data)
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	other := newPeer(t, 4)
	transport.SeedRemote(other, hash, data)
	transport.SetLatency(other, 5*time.Millisecond)

	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	chain.SeedPool(addr, hash, big.NewInt(0), other)

	tr := New(self, chain, transport, nil)
	tr.BindJoinIdentity(identity)
	key := ids.PoolKey{Hash: hash, Addr: addr}

	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile (cycle 1): %v", err)
	}
	entry, ok := tr.lookupPool(key)
	if !ok {
		t.Fatal("expected the pool to be tracked")
	}
	afterFirst, ok := entry.engine.GetLocalTrust(other)
	if !ok {
		t.Fatal("expected a local trust value for the probed peer")
	}

	if err := tr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile (cycle 2): %v", err)
	}
	afterSecond, _ := entry.engine.GetLocalTrust(other)

	// Each cycle both probes (raising trust) and decays (lowering it);
	// over repeated successful probes against a responsive peer the
	// decayed EMA should settle rather than diverge.
	if afterSecond < 0 || afterSecond > 1 {
		t.Errorf("local trust out of range after two cycles: %v", afterSecond)
	}
	// Cycle 1 leaves 0.8*0.7*0.7 = 0.392; cycle 2 probes to 0.552 and
	// decays to 0.3864, so the net effect across cycles is a reduction.
	if afterSecond >= afterFirst {
		t.Errorf("local trust did not decrease across cycles: first=%v second=%v", afterFirst, afterSecond)
	}
}

// Scenario 6 from the spec, isolated from probing: ten idle decay
// cycles (no interactions, no probes) on a peer starting at local trust
// 1.0 must leave it at or below 1.0 * 0.7^10 + eps.
func TestDecayAllTrust_TenIdleCyclesBoundedByPointSevenToTheTenth(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)
	self := newPeer(t, 20)
	other := newPeer(t, 21)

	hash := chainadapter.ContentHash("decay isolation content")
	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	key := ids.PoolKey{Hash: hash, Addr: addr}

	tr := New(self, chain, transport, nil)
	entry := tr.upsertPool(key, big.NewInt(0))
	entry.engine.AddPeer(other)

	if err := entry.engine.UpdateLocalTrust(other, 1.0, 1.0); err != nil {
		t.Fatalf("UpdateLocalTrust: %v", err)
	}

	for i := 0; i < 10; i++ {
		tr.decayAllTrust()
	}

	got, ok := entry.engine.GetLocalTrust(other)
	if !ok {
		t.Fatal("expected a local trust value after decay")
	}
	const eps = 1e-9
	want := math.Pow(0.7, 10)
	if got > want+eps {
		t.Errorf("local trust after 10 idle decay cycles = %v, want <= %v", got, want+eps)
	}
}

func TestProbeAndUpdateTrust_UnknownPoolFails(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)
	self := newPeer(t, 9)
	tr := New(self, chain, transport, nil)

	var key ids.PoolKey
	key.Hash[0] = 0xEE
	if err := tr.ProbeAndUpdateTrust(context.Background(), key, newPeer(t, 1)); err == nil {
		t.Error("expected an error for an unknown pool")
	}
}

// WarmStart must repopulate the registry, peer mirror, and interaction
// ledger from a prior process's durable store so a restart does not lose
// reputation history.
func TestWarmStart_RestoresRegistryFromDurableStore(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)
	self := newPeer(t, 6)
	other := newPeer(t, 7)

	persist, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer persist.Close()

	var key ids.PoolKey
	key.Hash[0] = 0xAA
	key.Addr[0] = 0xBB

	if err := persist.SavePool(store.PoolRecord{Key: key, Balance: "42"}); err != nil {
		t.Fatalf("SavePool: %v", err)
	}
	if err := persist.SavePoolPeers(key, []ids.NodeId{self, other}); err != nil {
		t.Fatalf("SavePoolPeers: %v", err)
	}
	if err := persist.AppendInteraction(key, store.InteractionRecord{From: self, To: other, Success: true, At: time.Now()}); err != nil {
		t.Fatalf("AppendInteraction: %v", err)
	}

	tr := New(self, chain, transport, persist)
	if err := tr.WarmStart(); err != nil {
		t.Fatalf("WarmStart: %v", err)
	}

	entry, ok := tr.lookupPool(key)
	if !ok {
		t.Fatal("expected the pool to be restored from the durable store")
	}
	if entry.balance.String() != "42" {
		t.Errorf("balance = %s, want 42", entry.balance)
	}
	if entry.state != Member {
		t.Errorf("state = %v, want Member since self was a restored peer", entry.state)
	}

	trustMap, err := entry.engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("ComputeGlobalTrust: %v", err)
	}
	if len(trustMap) != 2 {
		t.Errorf("expected both restored peers in the trust vector, got %d", len(trustMap))
	}
	if v := entry.fetcher.FetchTrust(self, other); v <= 0 {
		t.Errorf("expected the replayed interaction to produce positive fetch_trust, got %v", v)
	}
}

// A concurrent Reconcile call must observe the in-flight cycle's result
// rather than starting a second one: at most one call ever runs
// discoverPools (and, transitively, the single-flighted cycle) at a time.
func TestReconcile_ConcurrentCallsAreSingleFlight(t *testing.T) {
	inner := chainadapter.NewMemoryBackend()
	lister := &blockingPoolLister{Backend: inner, release: make(chan struct{})}
	transport := blob.NewMemoryTransport(1 << 10)
	self := newPeer(t, 11)

	tr := New(self, lister, transport, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.Reconcile(context.Background())
		}(i)
	}

	// Give both goroutines a chance to enter Reconcile before releasing
	// the blocked enumeration call.
	time.Sleep(20 * time.Millisecond)
	close(lister.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Reconcile[%d]: %v", i, err)
		}
	}
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("expected exactly one enumeration for two concurrent Reconcile calls, got %d", n)
	}
}

func TestFindPeer_ExcludesSelf(t *testing.T) {
	chain := chainadapter.NewMemoryBackend()
	transport := blob.NewMemoryTransport(1 << 10)
	self := newPeer(t, 5)
	tr := New(self, chain, transport, nil)

	hash := chainadapter.ContentHash("find-peer content")
	addr, err := chain.CreatePool(context.Background(), hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	key := ids.PoolKey{Hash: hash, Addr: addr}
	entry := tr.upsertPool(key, big.NewInt(0))
	entry.engine.AddPeer(self)

	if _, ok := tr.FindPeer(hash); ok {
		t.Error("expected no peer to be found when self is the only member with no positive trust recorded")
	}
}
