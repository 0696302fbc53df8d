// Package eventloop fans chain events and the periodic reconciliation
// tick into Tracker calls behind a single cancellation point, built
// around golang.org/x/sync/errgroup for bounded, cancellable fan-in —
// generalizing the teacher's goroutine-per-concern pattern
// (MeshManager's connectionSelector/connectionManager/pingManager, each
// a dedicated goroutine selecting on a stopChan) into context-carried
// shutdown plus a bounded drain timeout.
package eventloop

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arkhive/poolkeeper/internal/chainadapter"
	"github.com/arkhive/poolkeeper/internal/tracker"
)

// FinalShutdownTimeout bounds how long the loop waits for its
// background tasks to drain once shutdown is requested.
const FinalShutdownTimeout = 30 * time.Second

// Loop owns the chain-event subscription and the reconciliation ticker.
type Loop struct {
	chain chainadapter.Backend
	track *tracker.Tracker
	tick  time.Duration
}

// New binds a Loop to chain and track. tick overrides the
// reconciliation cadence; zero selects tracker.ReconcileInterval.
func New(chain chainadapter.Backend, track *tracker.Tracker, tick time.Duration) *Loop {
	if tick <= 0 {
		tick = tracker.ReconcileInterval
	}
	return &Loop{chain: chain, track: track, tick: tick}
}

// Run drives the loop until ctx is canceled, then waits up to
// FinalShutdownTimeout for both background tasks to return before
// failing fast with a timeout error. The bound only starts counting once
// shutdown is actually requested — a healthy, long-running loop with no
// cancellation never touches it.
func (l *Loop) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return l.consumeEvents(groupCtx)
	})
	group.Go(func() error {
		return l.runTicker(groupCtx)
	})

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(FinalShutdownTimeout):
			return fmt.Errorf("eventloop: background tasks did not drain within %s", FinalShutdownTimeout)
		}
	}
}

func (l *Loop) consumeEvents(ctx context.Context) error {
	events, errs := l.chain.ListenEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				log.WithError(err).Warn("eventloop: chain subscription error")
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev chainadapter.Event) {
	switch {
	case ev.PoolCreated != nil:
		e := ev.PoolCreated
		log.WithField("pool", e.PoolAddress).Debug("eventloop: observed PoolCreated")
		l.track.AddPool(e.PoolAddress, e.Hash, e.Balance)
	case ev.PeerAdded != nil:
		e := ev.PeerAdded
		log.WithFields(log.Fields{"pool": e.Pool, "peer": e.NodeId}).Debug("eventloop: observed PeerAdded")
		l.track.AddPoolPeer(e.Pool, e.NodeId)
	case ev.Deposit != nil:
		// Deposit carries only the deposited amount, not the pool's
		// resulting total balance, so it is not authoritative: folding
		// it in here would double-count against the RPC-refresh
		// DepositIntoPool already performs after a confirmed deposit.
		// The cached balance catches up on the next reconciliation
		// enumeration instead.
		log.WithField("pool", ev.Deposit.Pool).Debug("eventloop: observed Deposit")
	}
}

func (l *Loop) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.track.TryReconcile(ctx)
		}
	}
}
