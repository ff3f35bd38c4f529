package chain

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulsattlegger/kermapy/internal/kerrors"
)

// ResolveObjects exposes the same broadcast+wait fan-out resolveTxids uses
// for block validation to callers outside this package — namely
// Connection's `mempool` dispatch (section 4.9: "for each txid, fetch if
// missing (broadcast+wait); then ingest"), which needs the identical
// concurrent resolution semantics for a list of advertised txids.
func (v *Validator) ResolveObjects(ctx context.Context, ids []string) error {
	return v.resolveTxids(ctx, ids)
}

// resolveTxids broadcasts getobject and waits, concurrently, for every
// txid in txids not already in the store (section 4.6 step 4). The
// validator returns once every resolution succeeds or any one times out.
func (v *Validator) resolveTxids(ctx context.Context, txids []string) error {
	missing := make([]string, 0, len(txids))
	for _, id := range txids {
		if !v.store.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range missing {
		id := id
		g.Go(func() error {
			return v.resolveOne(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return &kerrors.ProtocolError{Message: "contains transactions that could not be received"}
	}
	return nil
}

// resolveParent resolves a single missing previd (section 4.6 step 5).
func (v *Validator) resolveParent(ctx context.Context, previd string) error {
	if v.store.Contains(previd) {
		return nil
	}
	if err := v.resolveOne(ctx, previd); err != nil {
		return &kerrors.ProtocolError{Message: "which parent(-s) could not be received"}
	}
	return nil
}

// resolveOne broadcasts a getobject for id and blocks on the store's
// waiter until it arrives, the resolve timeout elapses, or ctx is
// cancelled (section 5's bounded, cancellable suspension points).
func (v *Validator) resolveOne(ctx context.Context, id string) error {
	ch, cancel := v.store.EventFor(id)
	defer cancel()

	if v.broadcaster != nil {
		v.broadcaster.Broadcast(map[string]interface{}{"type": "getobject", "objectid": id})
	}

	timer := time.NewTimer(v.resolveTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for object %s", id)
	case <-ctx.Done():
		return ctx.Err()
	}
}
