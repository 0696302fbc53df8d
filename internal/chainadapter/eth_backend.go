package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// EthBackend is the production Backend: a typed facade over a single
// Factory contract and its Pool contracts, reached through
// ethclient.Client and hand-packed ABI calls rather than abigen-generated
// bindings, since only two contract shapes exist.
type EthBackend struct {
	client  *ethclient.Client
	factory *bind.BoundContract

	signer *bind.TransactOpts
}

// NewEthBackend dials wsURL and binds the Factory contract at
// factoryAddr, signing transactions with key.
func NewEthBackend(ctx context.Context, wsURL string, factoryAddr ids.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: dial %s: %w", wsURL, err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: build signer: %w", err)
	}
	factory := bind.NewBoundContract(factoryAddr, factoryABI, client, client, client)
	return &EthBackend{client: client, factory: factory, signer: signer}, nil
}

func (b *EthBackend) pool(addr ids.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, poolABI, b.client, b.client, b.client)
}

func (b *EthBackend) GetAllPools(ctx context.Context) ([]ids.Address, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := b.factory.Call(opts, &out, "getAllPools"); err != nil {
		return nil, fmt.Errorf("chainadapter: getAllPools: %w", err)
	}
	pools, ok := out[0].([]ids.Address)
	if !ok {
		return nil, fmt.Errorf("chainadapter: getAllPools: unexpected return type %T", out[0])
	}
	return pools, nil
}

func (b *EthBackend) CreatePool(ctx context.Context, hash ids.Hash, value *big.Int) (ids.Address, error) {
	opts := b.txOpts(ctx)
	opts.Value = value
	tx, err := b.factory.Transact(opts, "createPool", [32]byte(hash), value)
	if err != nil {
		return ids.Address{}, fmt.Errorf("chainadapter: createPool: %w", err)
	}
	if _, err := bind.WaitMined(ctx, b.client, tx); err != nil {
		return ids.Address{}, fmt.Errorf("chainadapter: createPool: await confirmation: %w", err)
	}
	// The new pool's address is only known via the PoolCreated log the
	// caller observes through ListenEvents; this call always returns the
	// zero Address, since the factory does not return the address
	// synchronously.
	return ids.Address{}, nil
}

func (b *EthBackend) GetHash(ctx context.Context, pool ids.Address) (ids.Hash, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := b.pool(pool).Call(opts, &out, "getHash"); err != nil {
		return ids.Hash{}, fmt.Errorf("chainadapter: getHash: %w", err)
	}
	h, ok := out[0].([32]byte)
	if !ok {
		return ids.Hash{}, fmt.Errorf("chainadapter: getHash: unexpected return type %T", out[0])
	}
	return ids.Hash(h), nil
}

func (b *EthBackend) GetPeers(ctx context.Context, pool ids.Address) ([]ids.NodeId, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := b.pool(pool).Call(opts, &out, "getPeers"); err != nil {
		return nil, fmt.Errorf("chainadapter: getPeers: %w", err)
	}
	textual, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("chainadapter: getPeers: unexpected return type %T", out[0])
	}
	peers := make([]ids.NodeId, 0, len(textual))
	for _, s := range textual {
		n, err := ids.NodeIdFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("chainadapter: getPeers: %w", err)
		}
		peers = append(peers, n)
	}
	return peers, nil
}

func (b *EthBackend) GetBalance(ctx context.Context, pool ids.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := b.pool(pool).Call(opts, &out, "getBalance"); err != nil {
		return nil, fmt.Errorf("chainadapter: getBalance: %w", err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chainadapter: getBalance: unexpected return type %T", out[0])
	}
	return bal, nil
}

func (b *EthBackend) Deposit(ctx context.Context, pool ids.Address, amount *big.Int) error {
	opts := b.txOpts(ctx)
	opts.Value = amount
	tx, err := b.pool(pool).Transact(opts, "deposit")
	if err != nil {
		return fmt.Errorf("chainadapter: deposit: %w", err)
	}
	if _, err := bind.WaitMined(ctx, b.client, tx); err != nil {
		return fmt.Errorf("chainadapter: deposit: await confirmation: %w", err)
	}
	return nil
}

func (b *EthBackend) EnterPool(ctx context.Context, pool ids.Address, sig ids.EnterPoolSignature) error {
	args := BuildEnterPoolArgs(sig)
	opts := b.txOpts(ctx)
	tx, err := b.pool(pool).Transact(opts, "enterPool", args.NodeId, args.K, args.R, args.S, args.M)
	if err != nil {
		return fmt.Errorf("chainadapter: enterPool: %w", err)
	}
	if _, err := bind.WaitMined(ctx, b.client, tx); err != nil {
		return fmt.Errorf("chainadapter: enterPool: await confirmation: %w", err)
	}
	return nil
}

func (b *EthBackend) ClaimRewards(ctx context.Context, pool ids.Address) error {
	opts := b.txOpts(ctx)
	tx, err := b.pool(pool).Transact(opts, "claimRewards")
	if err != nil {
		return fmt.Errorf("chainadapter: claimRewards: %w", err)
	}
	if _, err := bind.WaitMined(ctx, b.client, tx); err != nil {
		return fmt.Errorf("chainadapter: claimRewards: await confirmation: %w", err)
	}
	return nil
}

func (b *EthBackend) GetAddressBalance(ctx context.Context, addr ids.Address) (*big.Int, error) {
	bal, err := b.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: balance of %s: %w", addr, err)
	}
	return bal, nil
}

func (b *EthBackend) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := new(bind.TransactOpts)
	*opts = *b.signer
	opts.Context = ctx
	return opts
}

// ListenEvents subscribes to Factory and Pool logs and decodes them into
// typed Event values until ctx is canceled, at which point the single
// log subscription is unsubscribed and the channels closed — the
// cancellation idiom mirrored from event.Subscription.Unsubscribe().
func (b *EthBackend) ListenEvents(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error, 1)

	logs := make(chan types.Log, 256)
	query := ethereum.FilterQuery{}
	sub, err := b.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		errs <- fmt.Errorf("chainadapter: subscribe filter logs: %w", err)
		close(events)
		close(errs)
		return events, errs
	}

	go func() {
		defer sub.Unsubscribe()
		defer close(events)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					errs <- fmt.Errorf("chainadapter: subscription: %w", err)
				}
				return
			case lg := <-logs:
				ev, ok := decodeLog(lg)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}

func decodeLog(lg types.Log) (Event, bool) {
	if poolCreated, ok := tryUnpackPoolCreated(lg); ok {
		return Event{PoolCreated: &poolCreated}, true
	}
	if peerAdded, ok := tryUnpackPeerAdded(lg); ok {
		return Event{PeerAdded: &peerAdded}, true
	}
	if deposit, ok := tryUnpackDeposit(lg); ok {
		return Event{Deposit: &deposit}, true
	}
	return Event{}, false
}

func tryUnpackPoolCreated(lg types.Log) (PoolCreated, bool) {
	ev, ok := factoryABI.Events["PoolCreated"]
	if !ok || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return PoolCreated{}, false
	}
	var decoded struct {
		Hash    [32]byte
		Balance *big.Int
	}
	if err := factoryABI.UnpackIntoInterface(&decoded, "PoolCreated", lg.Data); err != nil {
		return PoolCreated{}, false
	}
	if len(lg.Topics) < 2 {
		return PoolCreated{}, false
	}
	addr := ids.Address(common20(lg.Topics[1]))
	return PoolCreated{PoolAddress: addr, Hash: ids.Hash(decoded.Hash), Balance: decoded.Balance}, true
}

func tryUnpackPeerAdded(lg types.Log) (PeerAdded, bool) {
	ev, ok := poolABI.Events["PeerAdded"]
	if !ok || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return PeerAdded{}, false
	}
	var decoded struct {
		NodeId string
	}
	if err := poolABI.UnpackIntoInterface(&decoded, "PeerAdded", lg.Data); err != nil {
		return PeerAdded{}, false
	}
	n, err := ids.NodeIdFromHex(decoded.NodeId)
	if err != nil {
		return PeerAdded{}, false
	}
	return PeerAdded{Pool: lg.Address, NodeId: n}, true
}

func tryUnpackDeposit(lg types.Log) (Deposit, bool) {
	ev, ok := poolABI.Events["Deposit"]
	if !ok || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return Deposit{}, false
	}
	var decoded struct {
		Amount *big.Int
		Hash   [32]byte
	}
	if err := poolABI.UnpackIntoInterface(&decoded, "Deposit", lg.Data); err != nil {
		return Deposit{}, false
	}
	return Deposit{Pool: lg.Address, Amount: decoded.Amount, Hash: ids.Hash(decoded.Hash)}, true
}

// common20 extracts the low 20 bytes of a 32-byte indexed address topic,
// the ABI encoding convention for indexed address parameters.
func common20(h ids.Hash) [20]byte {
	var addr [20]byte
	copy(addr[:], h[12:])
	return addr
}
