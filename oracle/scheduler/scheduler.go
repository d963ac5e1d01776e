package scheduler

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/reconcile"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/armon/go-metrics"
	"github.com/google/uuid"
)

const (
	StageFetch     = "fetch"
	StageWrite     = "write"
	StageReconcile = "reconcile"
)

// Fetcher returns the current price of endpoint scaled by 10^PriceDecimals.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (*big.Int, error)
}

// Ticker starts a periodic tick source and returns its channel and a stop function.
type Ticker func(d time.Duration) (<-chan time.Time, func())

func timeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Outcome is the result of a single sync run.
type Outcome struct {
	RunID     string
	Scheduled bool
	Price     *big.Int
	Tx        types.TxHandle
	Snapshot  types.Snapshot
	Err       error
	Duration  time.Duration
}

type Option func(*Engine)

func WithTicker(t Ticker) Option {
	return func(e *Engine) { e.newTicker = t }
}

// WithObserver registers fn to be called after every run, scheduled or manual.
func WithObserver(fn func(Outcome)) Option {
	return func(e *Engine) { e.observe = fn }
}

// WithRunTimeout bounds each scheduled run.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// Engine runs fetch, write and reconcile as one unit, on demand or on a timer.
// At most one run is in flight at a time; ticks arriving while busy are skipped.
type Engine struct {
	fetcher    Fetcher
	oracle     contract.Binding
	reconciler *reconcile.Reconciler
	guard      reconcile.Guard
	endpoint   string

	newTicker  Ticker
	observe    func(Outcome)
	runTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   atomic.Bool

	mu     sync.Mutex
	stop   func()
	closed bool
	state  types.SyncJobState
}

func New(fetcher Fetcher, oracle contract.Binding, reconciler *reconcile.Reconciler, guard reconcile.Guard, endpoint string, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		fetcher:    fetcher,
		oracle:     oracle,
		reconciler: reconciler,
		guard:      guard,
		endpoint:   endpoint,
		newTicker:  timeTicker,
		ctx:        ctx,
		cancel:     cancel,
		state:      types.SyncJobState{SourceEndpoint: endpoint},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Oracle() contract.Binding {
	return e.oracle
}

func (e *Engine) State() types.SyncJobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a run is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// RunOnce performs a single sync run. It fails with types.ErrSyncBusy if another run is in flight.
func (e *Engine) RunOnce(ctx context.Context) (types.Snapshot, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return types.Snapshot{}, errorsmod.Wrap(types.ErrSyncBusy, "manual sync rejected")
	}
	defer e.busy.Store(false)

	out := e.run(ctx, false)
	return out.Snapshot, out.Err
}

// StartAuto starts the auto-update timer. Starting while running restarts it with the new interval.
func (e *Engine) StartAuto(seconds uint64) error {
	if seconds < types.MinSyncInterval {
		return errorsmod.Wrapf(types.ErrInvalidArgument, "sync interval must be at least %d seconds, got %d", types.MinSyncInterval, seconds)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errorsmod.Wrap(types.ErrInvalidArgument, "sync engine is closed")
	}
	if e.stop != nil {
		e.stop()
	}

	ticks, stopTicker := e.newTicker(time.Duration(seconds) * time.Second)
	quit := make(chan struct{})
	e.stop = func() {
		close(quit)
		stopTicker()
	}
	e.state.Running = true
	e.state.IntervalSeconds = seconds

	e.wg.Add(1)
	go e.loop(ticks, quit)

	log.Infof("auto-update every %ds from %s", seconds, e.endpoint)
	return nil
}

// StopAuto cancels the timer. A run already in flight completes.
func (e *Engine) StopAuto() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.stop == nil {
		return
	}
	e.stop()
	e.stop = nil
	e.state.Running = false
	log.Infof("auto-update stopped")
}

// Close stops the timer, cancels scheduled runs and waits for them to return.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopLocked()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) loop(ticks <-chan time.Time, quit <-chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-quit:
			return
		case <-e.ctx.Done():
			return
		case <-ticks:
			e.tick(quit)
		}
	}
}

// tick starts a scheduled run unless the timer that produced it has been stopped.
// quit is closed under e.mu, so once StopAuto returns no buffered tick can start a run.
func (e *Engine) tick(quit <-chan struct{}) {
	e.mu.Lock()
	select {
	case <-quit:
		e.mu.Unlock()
		return
	default:
	}

	if !e.busy.CompareAndSwap(false, true) {
		e.state.Skipped++
		e.mu.Unlock()
		metrics.IncrCounter([]string{"oracle", "sync", "skipped"}, 1)
		log.Warnf("previous sync still running, skipping tick")
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.busy.Store(false)

		ctx, cancel := e.ctx, context.CancelFunc(func() {})
		if e.runTimeout > 0 {
			ctx, cancel = context.WithTimeout(e.ctx, e.runTimeout)
		}
		defer cancel()

		e.run(ctx, true)
	}()
}

func (e *Engine) run(ctx context.Context, scheduled bool) Outcome {
	out := Outcome{RunID: uuid.NewString(), Scheduled: scheduled}
	start := time.Now()
	gen := e.guard.Generation()

	out.Err = e.sync(ctx, gen, &out)
	out.Duration = time.Since(start)

	e.mu.Lock()
	e.state.Runs++
	e.state.LastRun = start
	if out.Err != nil {
		e.state.Failures++
		e.state.LastError = out.Err.Error()
	} else {
		e.state.LastError = ""
	}
	e.mu.Unlock()

	if out.Err != nil {
		metrics.IncrCounter([]string{"oracle", "sync", "failure"}, 1)
		log.Failure("sync", out.Err, "run", out.RunID, "scheduled", scheduled)
	} else {
		metrics.IncrCounter([]string{"oracle", "sync", "success"}, 1)
		metrics.MeasureSince([]string{"oracle", "sync", "duration"}, start)
		log.Infof("sync %s: price %s written in %s (tx %s)", out.RunID, types.FormatPrice(out.Price), out.Duration.Round(time.Millisecond), out.Tx.Hash.Hex())
	}

	if e.observe != nil {
		e.observe(out)
	}
	return out
}

func (e *Engine) sync(ctx context.Context, gen uint64, out *Outcome) error {
	if e.oracle == nil {
		return types.NewSyncError(StageWrite, errorsmod.Wrap(types.ErrNoOracle, "deploy or attach an oracle first"))
	}

	price, err := e.fetcher.Fetch(ctx, e.endpoint)
	if err != nil {
		return types.NewSyncError(StageFetch, err)
	}
	out.Price = price

	if !e.guard.Valid(gen) {
		return types.NewSyncError(StageWrite, errorsmod.Wrap(types.ErrSessionInvalidated, "session changed while fetching"))
	}

	tx, err := e.oracle.WritePrice(ctx, price)
	if err != nil {
		return types.NewSyncError(StageWrite, err)
	}
	out.Tx = tx

	snap, err := e.reconciler.ReconcileAt(ctx, e.oracle, gen)
	if err != nil {
		return types.NewSyncError(StageReconcile, err)
	}
	out.Snapshot = snap
	return nil
}
