// Package trackererr enumerates the error kinds the tracker subsystem can
// surface, per the error handling design: configuration, chain, content,
// peer-availability, transport and empty-pool conditions. Callers use
// errors.Is against these sentinels; call sites wrap them with fmt.Errorf
// and %w, the same convention the teacher uses throughout (e.g.
// wallet.LoadWallet, store.BoltDBStorage).
package trackererr

import "errors"

var (
	// ErrPoolMissing is returned when an operation names a PoolKey not
	// present in the tracker's registry.
	ErrPoolMissing = errors.New("trackererr: pool not found in registry")

	// ErrContentMissing is returned when enter_pool is attempted but the
	// local blob store does not yet hold the pool's content hash.
	ErrContentMissing = errors.New("trackererr: content not present locally")

	// ErrNoPeers is returned when find_peer cannot locate any peer with
	// positive trust for a given content hash.
	ErrNoPeers = errors.New("trackererr: no trusted peer available")

	// ErrTransport wraps probe or download failures from the blob
	// transport collaborator.
	ErrTransport = errors.New("trackererr: transport failure")

	// ErrEmptyPool is returned by compute_global_trust when a pool's
	// peer set is empty.
	ErrEmptyPool = errors.New("trackererr: pool has no peers")

	// ErrChain wraps RPC, subscription, or transaction failures from
	// the chain adapter.
	ErrChain = errors.New("trackererr: chain error")

	// ErrConfiguration wraps missing or malformed configuration.
	ErrConfiguration = errors.New("trackererr: configuration error")
)
