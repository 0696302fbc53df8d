// Package ids defines the identifier types shared across the tracker
// subsystem: node identities on the transport overlay, on-chain account
// addresses, and content hashes.
package ids

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NodeId is the 32-byte Ed25519 public key identifying a peer on the
// transport overlay.
type NodeId [ed25519.PublicKeySize]byte

// String renders the node id as lowercase hex, the same display
// convention the teacher uses for wallet addresses.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:])
}

// Bytes returns the raw public key bytes.
func (n NodeId) Bytes() []byte {
	return n[:]
}

// NodeIdFromBytes validates and wraps a 32-byte public key.
func NodeIdFromBytes(b []byte) (NodeId, error) {
	var n NodeId
	if len(b) != len(n) {
		return n, fmt.Errorf("ids: node id must be %d bytes, got %d", len(n), len(b))
	}
	copy(n[:], b)
	return n, nil
}

// NodeIdFromHex parses a hex-encoded node id.
func NodeIdFromHex(s string) (NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("ids: invalid node id hex: %w", err)
	}
	return NodeIdFromBytes(b)
}

// Address is the 20-byte on-chain account identifier. Reusing
// go-ethereum's common.Address keeps it directly comparable and
// compatible with the Factory/Pool contract surface described in the
// chain ABI.
type Address = common.Address

// Hash is the 32-byte content identifier of an immutable blob. Reusing
// common.Hash keeps the same fixed-array comparability as Address.
type Hash = common.Hash

// PoolKey uniquely identifies a pool. Both fields are kept even though
// the current Factory/Pool contracts make the pair effectively 1:1,
// since a content hash may in principle be referenced by more than one
// pool contract (see DESIGN.md Open Questions).
type PoolKey struct {
	Hash Hash
	Addr Address
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s@%s", k.Hash.Hex(), k.Addr.Hex())
}

// Identity is a node's Ed25519 keypair used both as its NodeId and to
// sign the enter_pool beneficiary proof described in the chain ABI.
type Identity struct {
	Public  NodeId
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity, used for ephemeral
// probe endpoints and for tests.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("ids: generate identity: %w", err)
	}
	var n NodeId
	copy(n[:], pub)
	return Identity{Public: n, private: priv}, nil
}

// IdentityFromSeed reconstructs a deterministic identity from a 32-byte
// seed, mirroring how the teacher loads a persisted private key from a
// fixed-size key file (wallet.LoadWallet reads a fixed-length PEM block).
func IdentityFromSeed(seed []byte) (Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("ids: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var n NodeId
	copy(n[:], priv.Public().(ed25519.PublicKey))
	return Identity{Public: n, private: priv}, nil
}

// EnterPoolSignature carries the quadruple the Pool contract's
// enter_pool call expects: the signing NodeId, the Ed25519 signature
// split into its (r, s) halves, and the full 64-byte signature
// serialization. The contract verifies m against k's public key; we
// never repack the halves into anything other than their raw 32-byte
// slices.
type EnterPoolSignature struct {
	K NodeId
	R [32]byte
	S [32]byte
	M [64]byte
}

// SignEnterPool signs the domain-separated enter_pool message: the
// 20-byte beneficiary address, left-aligned. The message itself is not
// hashed first — the contract verifies the raw address bytes under
// Ed25519, per the chain ABI.
func (id Identity) SignEnterPool(beneficiary Address) EnterPoolSignature {
	msg := beneficiary.Bytes() // 20 bytes
	sig := ed25519.Sign(id.private, msg)

	out := EnterPoolSignature{K: id.Public}
	copy(out.R[:], sig[:32])
	copy(out.S[:], sig[32:64])
	copy(out.M[:], sig)
	return out
}

// VerifyEnterPool is the node-local mirror of the contract's
// verification, used by tests and by MemoryBackend to emulate on-chain
// signature checking without a real chain.
func VerifyEnterPool(sig EnterPoolSignature, beneficiary Address) bool {
	return ed25519.Verify(ed25519.PublicKey(sig.K[:]), beneficiary.Bytes(), sig.M[:])
}
