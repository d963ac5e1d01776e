package reconcile

import (
	"context"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/common"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Guard tells whether work started under a session generation may still be applied.
type Guard interface {
	Generation() uint64
	Valid(gen uint64) bool
}

type entry struct {
	snapshot   types.Snapshot
	generation uint64
	at         time.Time
}

// Reconciler is the only writer of the cached oracle snapshots.
type Reconciler struct {
	guard Guard
	cache cmap.ConcurrentMap[string, entry]
}

func New(guard Guard) *Reconciler {
	return &Reconciler{
		guard: guard,
		cache: cmap.New[entry](),
	}
}

// Reconcile reads the oracle and caches the result under the current generation.
func (r *Reconciler) Reconcile(ctx context.Context, oracle contract.Reader) (types.Snapshot, error) {
	return r.ReconcileAt(ctx, oracle, r.guard.Generation())
}

// ReconcileAt reads the oracle and caches the result only if gen is still valid once the
// read completes. A stale result is discarded with types.ErrSessionInvalidated.
func (r *Reconciler) ReconcileAt(ctx context.Context, oracle contract.Reader, gen uint64) (types.Snapshot, error) {
	if oracle == nil {
		return types.Snapshot{}, errorsmod.Wrap(types.ErrNoOracle, "nothing to reconcile")
	}

	snap, err := oracle.ReadSnapshot(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}

	if !r.guard.Valid(gen) {
		log.Debugf("discarding snapshot of %s read under generation %d", oracle.Address().Hex(), gen)
		return types.Snapshot{}, errorsmod.Wrapf(types.ErrSessionInvalidated, "snapshot of %s", oracle.Address().Hex())
	}

	r.cache.Upsert(key(oracle.Address()), entry{}, func(exist bool, current entry, _ entry) entry {
		if exist && current.generation > gen {
			return current
		}
		return entry{snapshot: snap, generation: gen, at: time.Now()}
	})

	log.Debugf("reconciled %s: price=%s updated=%d", oracle.Address().Hex(), snap.FormatPrice(), snap.LastUpdated)
	return snap, nil
}

// Snapshot returns the cached snapshot of addr and when it was read.
func (r *Reconciler) Snapshot(addr common.Address) (types.Snapshot, time.Time, bool) {
	e, ok := r.cache.Get(key(addr))
	if !ok {
		return types.Snapshot{}, time.Time{}, false
	}
	return e.snapshot, e.at, true
}

func (r *Reconciler) Forget(addr common.Address) {
	r.cache.Remove(key(addr))
}

// Reset drops every cached snapshot.
func (r *Reconciler) Reset() {
	r.cache.Clear()
}

func (r *Reconciler) Len() int {
	return r.cache.Count()
}

func key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
