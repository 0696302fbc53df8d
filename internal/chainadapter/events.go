package chainadapter

import (
	"math/big"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// PoolCreated mirrors the Factory contract's PoolCreated(address indexed
// poolAddress, bytes32 hash, uint256 balance) event.
type PoolCreated struct {
	PoolAddress ids.Address
	Hash        ids.Hash
	Balance     *big.Int
}

// PeerAdded mirrors the Pool contract's PeerAdded(string nodeId) event.
type PeerAdded struct {
	Pool   ids.Address
	NodeId ids.NodeId
}

// Deposit mirrors the Pool contract's Deposit(uint256 amount, bytes32
// hash) event.
type Deposit struct {
	Pool   ids.Address
	Amount *big.Int
	Hash   ids.Hash
}

// Event is a closed sum of the three typed chain events ListenEvents can
// deliver. Exactly one field is populated per value.
type Event struct {
	PoolCreated *PoolCreated
	PeerAdded   *PeerAdded
	Deposit     *Deposit
}
