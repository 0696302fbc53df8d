// Package store provides durable, bbolt-backed persistence for the pool
// registry, its peer mirror, and the trust interaction ledger, adapted
// from the teacher's BoltDBStorage: one bucket per concern, JSON-encoded
// records, reader/writer-locked around each transaction.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/arkhive/poolkeeper/internal/ids"
)

var (
	poolsBucket       = []byte("pools")
	peersBucket       = []byte("pool_peers")
	interactionBucket = []byte("interactions")
)

// PoolRecord is the durable snapshot of one tracked pool.
type PoolRecord struct {
	Key     ids.PoolKey
	Balance string // decimal big.Int encoding
}

// InteractionRecord is one durable (from, to, success, at) ledger entry,
// the persisted twin of trust.record.
type InteractionRecord struct {
	From    ids.NodeId
	To      ids.NodeId
	Success bool
	At      time.Time
}

// Store is the durable backing for tracker.Tracker and the trust
// package's interaction ledger.
type Store struct {
	db *bbolt.DB
	mu sync.RWMutex
}

// Open opens or creates the bbolt database at path and ensures its
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{poolsBucket, peersBucket, interactionBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SavePool upserts a pool's registry record.
func (s *Store) SavePool(rec PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: marshal pool record: %w", err)
		}
		return tx.Bucket(poolsBucket).Put(poolKeyBytes(rec.Key), data)
	})
}

// LoadPools returns every durable pool record, for warm-start
// reconciliation.
func (s *Store) LoadPools() ([]PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PoolRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(poolsBucket).ForEach(func(_, v []byte) error {
			var rec PoolRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: unmarshal pool record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// SavePoolPeers replaces the durable peer mirror for key.
func (s *Store) SavePoolPeers(key ids.PoolKey, peers []ids.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(peers)
		if err != nil {
			return fmt.Errorf("store: marshal peer mirror: %w", err)
		}
		return tx.Bucket(peersBucket).Put(poolKeyBytes(key), data)
	})
}

// LoadPoolPeers returns the durable peer mirror for key, if any.
func (s *Store) LoadPoolPeers(key ids.PoolKey) ([]ids.NodeId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var peers []ids.NodeId
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(peersBucket).Get(poolKeyBytes(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &peers)
	})
	return peers, err
}

// AppendInteraction appends one interaction record to key's durable
// ledger. Keys are sequence-numbered so ForEach replays in insertion
// order.
func (s *Store) AppendInteraction(key ids.PoolKey, rec InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(interactionBucket).CreateBucketIfNotExists(poolKeyBytes(key))
		if err != nil {
			return fmt.Errorf("store: create interaction bucket: %w", err)
		}
		seq, _ := bucket.NextSequence()
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: marshal interaction: %w", err)
		}
		return bucket.Put(itob(seq), data)
	})
}

// LoadInteractions replays key's durable interaction ledger in
// insertion order.
func (s *Store) LoadInteractions(key ids.PoolKey) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InteractionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(interactionBucket).Bucket(poolKeyBytes(key))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var rec InteractionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: unmarshal interaction: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func poolKeyBytes(key ids.PoolKey) []byte {
	var b [52]byte
	copy(b[:32], key.Hash[:])
	copy(b[32:], key.Addr[:])
	return b[:]
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
