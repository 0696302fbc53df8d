package trust

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/arkhive/poolkeeper/internal/ids"
)

func newTestPeer(t *testing.T, seedByte byte) ids.NodeId {
	t.Helper()
	var n ids.NodeId
	for i := range n {
		n[i] = seedByte
	}
	return n
}

func sumTrust(m map[ids.NodeId]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func TestComputeGlobalTrust_EmptyPoolFails(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	_, err := engine.ComputeGlobalTrust()
	if err == nil {
		t.Fatal("expected an error for an empty pool")
	}
}

func TestComputeGlobalTrust_UniformWithNoEvidence(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	a, b, c := newTestPeer(t, 1), newTestPeer(t, 2), newTestPeer(t, 3)
	engine.AddPeer(a)
	engine.AddPeer(b)
	engine.AddPeer(c)

	result, err := engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range []ids.NodeId{a, b, c} {
		got := result[p]
		want := 1.0 / 3.0
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("peer %s: got %v want %v", p, got, want)
		}
	}
	if sum := sumTrust(result); math.Abs(sum-1) > 1e-6 {
		t.Errorf("sum = %v, want 1", sum)
	}
}

// Scenario 1 from the spec: basic three-peer pool.
func TestComputeGlobalTrust_BasicThreePeerPool(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	a, b, c := newTestPeer(t, 1), newTestPeer(t, 2), newTestPeer(t, 3)
	engine.AddPeer(a)
	engine.AddPeer(b)
	engine.AddPeer(c)

	fetcher.RecordInteraction(a, b, true)
	fetcher.RecordInteraction(a, c, false)
	fetcher.RecordInteraction(b, a, true)

	if err := engine.SetPreTrusted(a, 1.0); err != nil {
		t.Fatalf("SetPreTrusted: %v", err)
	}

	result, err := engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !(result[a] > result[b] && result[b] > result[c]) {
		t.Errorf("expected global[A] > global[B] > global[C], got A=%v B=%v C=%v", result[a], result[b], result[c])
	}
	if sum := sumTrust(result); math.Abs(sum-1) > 1e-6 {
		t.Errorf("sum = %v, want 1", sum)
	}
}

func TestComputeGlobalTrust_ConvergenceBudget(t *testing.T) {
	fetcher := NewTrustFetcher()
	cfg := DefaultConfig()
	engine := New(fetcher, cfg)

	peers := make([]ids.NodeId, 8)
	for i := range peers {
		peers[i] = newTestPeer(t, byte(i+1))
		engine.AddPeer(peers[i])
	}
	for i, from := range peers {
		for j, to := range peers {
			if i == j {
				continue
			}
			success := (i+j)%2 == 0
			fetcher.RecordInteraction(from, to, success)
		}
	}

	result, err := engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum := sumTrust(result); math.Abs(sum-1) > 1e-6 {
		t.Errorf("sum = %v, want 1", sum)
	}
	for _, p := range peers {
		if result[p] < 0 || result[p] > 1 {
			t.Errorf("peer %s trust out of range: %v", p, result[p])
		}
	}
}

func TestComputeGlobalTrust_SuccessBeatsFailure(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	pretrusted := newTestPeer(t, 0xAA)
	good, bad := newTestPeer(t, 1), newTestPeer(t, 2)
	engine.AddPeer(pretrusted)
	engine.AddPeer(good)
	engine.AddPeer(bad)

	if err := engine.SetPreTrusted(pretrusted, 1.0); err != nil {
		t.Fatalf("SetPreTrusted: %v", err)
	}
	fetcher.RecordInteraction(pretrusted, good, true)
	fetcher.RecordInteraction(pretrusted, bad, false)

	result, err := engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result[good] <= result[bad] {
		t.Errorf("expected successful peer to have higher trust: good=%v bad=%v", result[good], result[bad])
	}
}

func TestRemovePeer_PurgesLocalTrustAndResult(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	a, b := newTestPeer(t, 1), newTestPeer(t, 2)
	engine.AddPeer(a)
	engine.AddPeer(b)
	if err := engine.UpdateLocalTrust(b, 0.9, 1.0); err != nil {
		t.Fatalf("UpdateLocalTrust: %v", err)
	}

	engine.RemovePeer(b)

	if _, ok := engine.GetLocalTrust(b); ok {
		t.Errorf("expected no local trust entry for removed peer")
	}

	result, err := engine.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := result[b]; present {
		t.Errorf("expected removed peer absent from global trust result")
	}
}

func TestAddPeer_IdempotentInsertion(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	p := newTestPeer(t, 1)
	engine.AddPeer(p)
	engine.AddPeer(p)

	if n := engine.PeerCount(); n != 1 {
		t.Errorf("expected 1 peer after duplicate AddPeer, got %d", n)
	}
}

func TestClearPreTrusted_MatchesNeverSet(t *testing.T) {
	a, b := newTestPeer(t, 1), newTestPeer(t, 2)

	fetcher1 := NewTrustFetcher()
	engine1 := New(fetcher1, DefaultConfig())
	engine1.AddPeer(a)
	engine1.AddPeer(b)
	fetcher1.RecordInteraction(a, b, true)
	baseline, err := engine1.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher2 := NewTrustFetcher()
	engine2 := New(fetcher2, DefaultConfig())
	engine2.AddPeer(a)
	engine2.AddPeer(b)
	fetcher2.RecordInteraction(a, b, true)
	if err := engine2.SetPreTrusted(a, 5.0); err != nil {
		t.Fatalf("SetPreTrusted: %v", err)
	}
	engine2.ClearPreTrusted()
	cleared, err := engine2.ComputeGlobalTrust()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range []ids.NodeId{a, b} {
		if math.Abs(baseline[p]-cleared[p]) > 1e-9 {
			t.Errorf("peer %s: baseline=%v cleared=%v, expected equal", p, baseline[p], cleared[p])
		}
	}
}

func TestGetLocalTrust_AcceptsValueAboveOne(t *testing.T) {
	// The spec only requires local trust values to be non-negative; it
	// does not clamp to [0,1] on write.
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())

	p := newTestPeer(t, 1)
	engine.AddPeer(p)
	if err := engine.UpdateLocalTrust(p, 2.0, 1.0); err != nil {
		t.Fatalf("UpdateLocalTrust: %v", err)
	}
	got, ok := engine.GetLocalTrust(p)
	if !ok || math.Abs(got-2.0) > 1e-9 {
		t.Errorf("got %v, ok=%v, want 2.0", got, ok)
	}
}

func TestUpdateLocalTrust_RejectsNegative(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())
	p := newTestPeer(t, 1)
	engine.AddPeer(p)

	if err := engine.UpdateLocalTrust(p, -0.1, 0.5); err == nil {
		t.Error("expected error for negative trust value")
	}
	if err := engine.UpdateLocalTrust(p, 0.5, 1.5); err == nil {
		t.Error("expected error for out-of-range weight")
	}
}

func TestUpdateLocalTrust_ExponentialMovingAverage(t *testing.T) {
	fetcher := NewTrustFetcher()
	engine := New(fetcher, DefaultConfig())
	p := newTestPeer(t, 1)
	engine.AddPeer(p)

	if err := engine.UpdateLocalTrust(p, 1.0, 0.8); err != nil {
		t.Fatalf("UpdateLocalTrust: %v", err)
	}
	got, ok := engine.GetLocalTrust(p)
	if !ok {
		t.Fatal("expected a local trust value")
	}
	if math.Abs(got-0.8) > 1e-9 {
		t.Errorf("got %v want 0.8", got)
	}

	if err := engine.UpdateLocalTrust(p, 0.0, 0.8); err != nil {
		t.Fatalf("UpdateLocalTrust: %v", err)
	}
	got, _ = engine.GetLocalTrust(p)
	want := 0.2 * 0.8
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestFetchTrust_SuccessOnlyRatioUnchangedByDecay(t *testing.T) {
	fetcher := NewTrustFetcher().(*memoryTrustFetcher)
	fc := &fakeClock{t: time.Unix(0, 0)}
	fetcher.clock = fc

	a, b := newTestPeer(t, 1), newTestPeer(t, 2)
	fetcher.RecordInteraction(a, b, true)

	immediate := fetcher.FetchTrust(a, b)
	if math.Abs(immediate-1.0) > 1e-9 {
		t.Errorf("immediate trust = %v, want 1.0", immediate)
	}

	fc.t = fc.t.Add(halfLife)
	decayed := fetcher.FetchTrust(a, b)
	if math.Abs(decayed-1.0) > 1e-9 {
		t.Errorf("after one half-life, S/(S+F) should still be 1.0 with no failures, got %v", decayed)
	}
}

func TestFetchTrust_FailureWeightedDouble(t *testing.T) {
	fetcher := NewTrustFetcher().(*memoryTrustFetcher)
	fc := &fakeClock{t: time.Unix(0, 0)}
	fetcher.clock = fc

	a, b := newTestPeer(t, 1), newTestPeer(t, 2)
	fetcher.RecordInteraction(a, b, true)
	fetcher.RecordInteraction(a, b, false)

	got := fetcher.FetchTrust(a, b)
	want := 1.0 / (1.0 + 2.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestFetchTrust_NoEvidenceIsZero(t *testing.T) {
	fetcher := NewTrustFetcher()
	a, b := newTestPeer(t, 1), newTestPeer(t, 2)
	if got := fetcher.FetchTrust(a, b); got != 0 {
		t.Errorf("got %v want 0", got)
	}
}

func TestDiscoverPeers_ToleratesChainError(t *testing.T) {
	fetcher := NewTrustFetcher()
	p := newTestPeer(t, 1)
	fetcher.AddPeer(p)

	result := fetcher.DiscoverPeers(context.Background(), failingDiscoverer{})
	if _, ok := result[p]; !ok {
		t.Error("expected local mirror peer to survive a failing chain discoverer")
	}
	if len(result) != 1 {
		t.Errorf("expected only the local mirror, got %d peers", len(result))
	}
}

type failingDiscoverer struct{}

func (failingDiscoverer) GetPeers(ctx context.Context) ([]ids.NodeId, error) {
	return nil, errDiscover
}

var errDiscover = errors.New("simulated chain error")

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
