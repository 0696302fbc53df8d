package chainadapter

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/arkhive/poolkeeper/internal/ids"
)

func TestMemoryBackend_CreatePoolEmitsPoolCreated(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, errs := backend.ListenEvents(ctx)

	hash := ContentHash("content-a")
	addr, err := backend.CreatePool(ctx, hash, big.NewInt(100))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	select {
	case ev := <-events:
		if ev.PoolCreated == nil {
			t.Fatalf("expected a PoolCreated event, got %+v", ev)
		}
		if ev.PoolCreated.PoolAddress != addr || ev.PoolCreated.Hash != hash {
			t.Errorf("unexpected event payload: %+v", ev.PoolCreated)
		}
	case err := <-errs:
		t.Fatalf("unexpected subscription error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PoolCreated event")
	}

	pools, err := backend.GetAllPools(ctx)
	if err != nil {
		t.Fatalf("GetAllPools: %v", err)
	}
	if len(pools) != 1 || pools[0] != addr {
		t.Errorf("unexpected pool list: %v", pools)
	}
}

func TestMemoryBackend_EnterPoolRequiresValidSignature(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	hash := ContentHash("content-b")
	addr, err := backend.CreatePool(ctx, hash, big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	sig := identity.SignEnterPool(addr)

	if err := backend.EnterPool(ctx, addr, sig); err != nil {
		t.Fatalf("EnterPool: %v", err)
	}

	peers, err := backend.GetPeers(ctx, addr)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	if len(peers) != 1 || peers[0] != identity.Public {
		t.Errorf("unexpected peer list: %v", peers)
	}
}

func TestMemoryBackend_EnterPoolRejectsTamperedSignature(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	addr, err := backend.CreatePool(ctx, ContentHash("content-c"), big.NewInt(0))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	identity, err := ids.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	sig := identity.SignEnterPool(addr)
	sig.M[0] ^= 0xFF // corrupt the signature bytes

	if err := backend.EnterPool(ctx, addr, sig); err == nil {
		t.Error("expected a tampered signature to be rejected")
	}
}

func TestMemoryBackend_DepositUpdatesBalance(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	addr, err := backend.CreatePool(ctx, ContentHash("content-d"), big.NewInt(10))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if err := backend.Deposit(ctx, addr, big.NewInt(5)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bal, err := backend.GetBalance(ctx, addr)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Cmp(big.NewInt(15)) != 0 {
		t.Errorf("balance = %v, want 15", bal)
	}
}

func TestMemoryBackend_UnknownPoolErrors(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	var addr ids.Address
	if _, err := backend.GetHash(ctx, addr); err == nil {
		t.Error("expected an error for an unknown pool")
	}
}
