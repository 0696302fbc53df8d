// Package blob declares the capability surface the content-addressed
// verified-streaming blob store exposes to the tracker subsystem. The
// store's internal layout, its wire codec, and the verified-streaming
// transport itself are explicit non-goals — this package only pins down
// the contract the core consumes, and provides a deterministic in-memory
// fake for tests, the same role the teacher's Storage interface plays
// relative to BoltDBStorage.
package blob

import (
	"context"
	"io"
	"time"

	"github.com/arkhive/poolkeeper/internal/ids"
)

// Status is the local completeness state of a content hash.
type Status int

const (
	Missing Status = iota
	Partial
	Complete
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Partial:
		return "partial"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Endpoint is an ephemeral transport identity a ProbeClient dials out
// from, so a probe is unattributable to the node's long-running identity
// and cheap to churn (see internal/probe).
type Endpoint interface {
	NodeId() ids.NodeId
	Close() error
}

// ProbeStats reports what a size-discovery or chunk sub-request
// observed, used by ProbeClient to classify the outcome.
type ProbeStats struct {
	Elapsed      time.Duration
	BytesRead    uint64
	BytesWritten uint64
	TotalChunks  uint64
}

// Prober is the narrow slice of Transport that ProbeClient depends on,
// so a probe test fake need not implement the full transport surface.
type Prober interface {
	NewEphemeral(ctx context.Context) (Endpoint, error)
	// SizeAndChunkProbe performs the verified size-discovery sub-request
	// followed by a single verified chunk retrieval for chunk, and
	// returns aggregate transport stats. It must respect ctx
	// cancellation/deadline.
	SizeAndChunkProbe(ctx context.Context, ep Endpoint, peer ids.NodeId, hash ids.Hash, chunk uint64) (ProbeStats, error)
}

// Transport is the full blob store capability surface the Tracker
// consumes to acquire content from pool members and to report local
// completeness, per the external interfaces section.
type Transport interface {
	Prober

	StoreBlob(data []byte) (ids.Hash, error)
	StoreStream(r io.Reader) (ids.Hash, error)
	Download(ctx context.Context, peer ids.NodeId, hash ids.Hash) error
	Status(hash ids.Hash) Status
	Read(hash ids.Hash) (io.ReadCloser, error)
}
