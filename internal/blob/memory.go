package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// MemoryTransport is a deterministic in-process Transport fake for
// tests, mirroring the teacher's habit of testing against constructed
// in-memory state (chain.ChainSyncManager's tests, network's peer table
// tests) rather than a live transport.
type MemoryTransport struct {
	mu      sync.Mutex
	blobs   map[ids.Hash][]byte
	chunk   uint64 // fixed chunk size in bytes
	remotes map[ids.NodeId]map[ids.Hash][]byte // content a simulated remote peer can serve
	latency map[ids.NodeId]time.Duration       // simulated per-peer latency for probes
	fail    map[ids.NodeId]bool                // simulated per-peer transport failure
}

// NewMemoryTransport builds an empty fake transport with the given
// logical chunk size.
func NewMemoryTransport(chunkSize uint64) *MemoryTransport {
	if chunkSize == 0 {
		chunkSize = 1 << 16
	}
	return &MemoryTransport{
		blobs:   make(map[ids.Hash][]byte),
		chunk:   chunkSize,
		remotes: make(map[ids.NodeId]map[ids.Hash][]byte),
		latency: make(map[ids.NodeId]time.Duration),
		fail:    make(map[ids.NodeId]bool),
	}
}

// SeedRemote makes a simulated peer able to serve data for hash.
func (m *MemoryTransport) SeedRemote(peer ids.NodeId, hash ids.Hash, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remotes[peer] == nil {
		m.remotes[peer] = make(map[ids.Hash][]byte)
	}
	m.remotes[peer][hash] = data
}

// SetLatency configures the simulated round-trip delay a probe against
// peer will observe.
func (m *MemoryTransport) SetLatency(peer ids.NodeId, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[peer] = d
}

// SetFailing makes every probe/download against peer return a transport
// error, simulating a dead or misbehaving remote.
func (m *MemoryTransport) SetFailing(peer ids.NodeId, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[peer] = failing
}

type memEndpoint struct {
	id ids.NodeId
}

func (e memEndpoint) NodeId() ids.NodeId { return e.id }
func (e memEndpoint) Close() error       { return nil }

func (m *MemoryTransport) NewEphemeral(ctx context.Context) (Endpoint, error) {
	id, err := ids.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("blob: new ephemeral endpoint: %w", err)
	}
	return memEndpoint{id: id.Public}, nil
}

func (m *MemoryTransport) SizeAndChunkProbe(ctx context.Context, ep Endpoint, peer ids.NodeId, hash ids.Hash, chunk uint64) (ProbeStats, error) {
	m.mu.Lock()
	failing := m.fail[peer]
	delay := m.latency[peer]
	data, ok := m.remotes[peer][hash]
	chunkSize := m.chunk
	m.mu.Unlock()

	if failing {
		return ProbeStats{}, fmt.Errorf("blob: simulated transport failure for peer %s", peer)
	}
	if !ok {
		return ProbeStats{}, fmt.Errorf("blob: peer %s does not have content %s", peer, hash)
	}

	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ProbeStats{Elapsed: time.Since(start)}, ctx.Err()
	}

	total := uint64(len(data)) / chunkSize
	if uint64(len(data))%chunkSize != 0 || total == 0 {
		total++
	}
	from := chunk * chunkSize
	to := from + chunkSize
	if from > uint64(len(data)) {
		from = uint64(len(data))
	}
	if to > uint64(len(data)) {
		to = uint64(len(data))
	}

	return ProbeStats{
		Elapsed:      time.Since(start),
		BytesRead:    to - from,
		BytesWritten: 0,
		TotalChunks:  total,
	}, nil
}

func (m *MemoryTransport) StoreBlob(data []byte) (ids.Hash, error) {
	h := ids.Hash(sha256.Sum256(data))
	m.mu.Lock()
	m.blobs[h] = append([]byte(nil), data...)
	m.mu.Unlock()
	return h, nil
}

func (m *MemoryTransport) StoreStream(r io.Reader) (ids.Hash, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ids.Hash{}, fmt.Errorf("blob: read stream: %w", err)
	}
	return m.StoreBlob(data)
}

func (m *MemoryTransport) Download(ctx context.Context, peer ids.NodeId, hash ids.Hash) error {
	m.mu.Lock()
	failing := m.fail[peer]
	data, ok := m.remotes[peer][hash]
	m.mu.Unlock()

	if failing {
		return fmt.Errorf("blob: simulated download failure for peer %s", peer)
	}
	if !ok {
		return fmt.Errorf("blob: peer %s cannot serve %s", peer, hash)
	}

	m.mu.Lock()
	m.blobs[hash] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTransport) Status(hash ids.Hash) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; ok {
		return Complete
	}
	return Missing
}

func (m *MemoryTransport) Read(hash ids.Hash) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.blobs[hash]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("blob: %s not present", hash)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
