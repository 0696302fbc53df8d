// Package probe implements ProbeClient: an on-demand, unattributable
// check of whether a remote peer serves a given content hash correctly
// and promptly. It is both a reputation signal and a pre-download gate,
// reached through the narrow blob.Prober capability rather than the
// full blob.Transport surface.
package probe

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/arkhive/poolkeeper/internal/blob"
	"github.com/arkhive/poolkeeper/internal/ids"
)

// successThreshold is the fixed internal latency bound below which a
// completed probe is classified Success rather than Timeout, regardless
// of the caller-supplied outer timeout.
const successThreshold = 2000 * time.Millisecond

// Outcome distinguishes the three ProbeResult variants.
type Outcome int

const (
	Success Outcome = iota
	Timeout
	Error
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one probe, carrying the transport
// stats available for that outcome.
type Result struct {
	Outcome      Outcome
	Elapsed      time.Duration
	BytesRead    uint64
	BytesWritten uint64
	Err          error
}

// Client runs probes against the blob.Prober capability. It holds no
// per-peer state: every probe acquires and discards its own ephemeral
// endpoint.
type Client struct {
	prober blob.Prober
	rng    func(n uint64) uint64
}

// New binds a Client to prober, the narrow size/chunk probing surface
// of a blob.Transport.
func New(prober blob.Prober) *Client {
	return &Client{
		prober: prober,
		rng:    defaultRand,
	}
}

func defaultRand(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return uint64(rand.Int63n(int64(n)))
}

// Probe assesses whether peer serves content correctly and promptly.
// timeout bounds the whole operation; a probe that is still in flight
// when ctx is canceled or timeout elapses aborts and classifies as
// Timeout.
func (c *Client) Probe(ctx context.Context, peer ids.NodeId, content ids.Hash, timeout time.Duration) Result {
	start := time.Now()

	outerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ep, err := c.prober.NewEphemeral(outerCtx)
	if err != nil {
		return Result{Outcome: Error, Elapsed: time.Since(start), Err: fmt.Errorf("probe: ephemeral endpoint: %w", err)}
	}
	defer ep.Close()

	// Size-discovery sub-request: chunk index is irrelevant to this
	// call beyond establishing total_chunks, so it is issued against
	// chunk 0 and its TotalChunks field is what we act on.
	sizeStats, err := c.prober.SizeAndChunkProbe(outerCtx, ep, peer, content, 0)
	if err != nil {
		return classifyError(outerCtx, start, err)
	}

	total := sizeStats.TotalChunks
	if total == 0 {
		total = 1
	}
	chunk := c.rng(total)

	chunkStats, err := c.prober.SizeAndChunkProbe(outerCtx, ep, peer, content, chunk)
	if err != nil {
		return classifyError(outerCtx, start, err)
	}

	elapsed := time.Since(start)
	if elapsed >= successThreshold {
		return Result{Outcome: Timeout, Elapsed: elapsed}
	}
	return Result{
		Outcome:      Success,
		Elapsed:      elapsed,
		BytesRead:    sizeStats.BytesRead + chunkStats.BytesRead,
		BytesWritten: sizeStats.BytesWritten + chunkStats.BytesWritten,
	}
}

func classifyError(ctx context.Context, start time.Time, err error) Result {
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return Result{Outcome: Timeout, Elapsed: elapsed}
	}
	return Result{Outcome: Error, Elapsed: elapsed, Err: fmt.Errorf("probe: transport: %w", err)}
}
