// Package chainadapter is a typed facade over the two on-chain contract
// shapes the tracker needs: a Factory (creates and enumerates pools) and
// a Pool (membership, balance, deposits, rewards). The production
// Backend is EthBackend, built on ethclient.Client and accounts/abi;
// MemoryBackend is a deterministic in-memory fake for tests, the same
// role the teacher's constructed in-memory chain.Blockchain state plays
// in chain/chain_test.go.
package chainadapter

import (
	"context"
	"math/big"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// Backend abstracts exactly the calls and subscription the core
// consumes, so Tracker never depends on ethclient directly.
type Backend interface {
	GetAllPools(ctx context.Context) ([]ids.Address, error)
	CreatePool(ctx context.Context, hash ids.Hash, value *big.Int) (ids.Address, error)

	GetHash(ctx context.Context, pool ids.Address) (ids.Hash, error)
	GetPeers(ctx context.Context, pool ids.Address) ([]ids.NodeId, error)
	GetBalance(ctx context.Context, pool ids.Address) (*big.Int, error)
	Deposit(ctx context.Context, pool ids.Address, amount *big.Int) error
	EnterPool(ctx context.Context, pool ids.Address, sig ids.EnterPoolSignature) error
	ClaimRewards(ctx context.Context, pool ids.Address) error

	// GetAddressBalance answers a plain account balance query,
	// independent of any pool.
	GetAddressBalance(ctx context.Context, addr ids.Address) (*big.Int, error)

	// ListenEvents delivers every PoolCreated, PeerAdded, and Deposit
	// event until ctx is canceled, at which point the returned channel
	// is closed. A subscription failure is reported on errs and both
	// channels are then closed.
	ListenEvents(ctx context.Context) (<-chan Event, <-chan error)
}
