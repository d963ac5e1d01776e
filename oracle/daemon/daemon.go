package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/config"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/deploy"
	"github.com/GPTx-global/guru-oracle/oracle/health"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/price"
	"github.com/GPTx-global/guru-oracle/oracle/reconcile"
	"github.com/GPTx-global/guru-oracle/oracle/scheduler"
	"github.com/GPTx-global/guru-oracle/oracle/session"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/GPTx-global/guru-oracle/oracle/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// RecentActivity is the number of activity records kept for new subscribers.
const RecentActivity = 20

type Option func(*Daemon)

// WithFetcher replaces the HTTP price adapter.
func WithFetcher(f scheduler.Fetcher) Option {
	return func(d *Daemon) { d.fetcher = f }
}

// WithTicker replaces the auto-update tick source.
func WithTicker(t scheduler.Ticker) Option {
	return func(d *Daemon) { d.ticker = t }
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Connected   bool                  `json:"connected"`
	Identity    *types.ChainIdentity  `json:"identity,omitempty"`
	Target      uint64                `json:"targetNetwork"`
	Oracle      *types.DeployedOracle `json:"oracle,omitempty"`
	Snapshot    *types.Snapshot       `json:"snapshot,omitempty"`
	SnapshotAt  time.Time             `json:"snapshotAt,omitempty"`
	Sync        types.SyncJobState    `json:"sync"`
	DeployState string                `json:"deployState"`
}

// Daemon owns the session and everything bound to it: the deployed oracle,
// its binding, the sync engine and the snapshot cache.
type Daemon struct {
	cfg        *config.Config
	session    *session.Session
	reconciler *reconcile.Reconciler
	deployer   *deploy.Deployer
	fetcher    scheduler.Fetcher
	ticker     scheduler.Ticker

	mu       sync.Mutex
	oracle   *types.DeployedOracle
	engine   *scheduler.Engine
	endpoint string

	activity event.Feed
	scope    event.SubscriptionScope
	recentMu sync.Mutex
	recent   []types.Activity
}

func New(cfg *config.Config, provider wallet.Provider, artifacts contract.Artifacts, opts ...Option) *Daemon {
	s := session.New(provider, cfg.Chain.NetworkDescriptor, cfg.Networks...)

	d := &Daemon{
		cfg:        cfg,
		session:    s,
		reconciler: reconcile.New(s),
		deployer:   deploy.New(s, artifacts, cfg.Chain.ChainID),
		endpoint:   cfg.Sync.Endpoint,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.fetcher == nil {
		d.fetcher = price.NewAdapter(price.Config{
			Timeout:           time.Duration(cfg.Sync.TimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.Sync.RequestsPerMinute,
		})
	}

	s.OnReset(d.onReset)
	return d
}

func (d *Daemon) Session() *session.Session {
	return d.session
}

// Connect connects the session and moves the provider to the configured network.
func (d *Daemon) Connect(ctx context.Context) (types.ChainIdentity, error) {
	identity, err := d.session.Connect(ctx)
	if err != nil {
		d.emitError("connect failed", err)
		return types.ChainIdentity{}, err
	}
	d.emit(types.ActivityInfo, fmt.Sprintf("connected %s on network %d", identity.Address.Hex(), identity.NetworkID))

	target := d.cfg.Chain.ChainID
	if identity.NetworkID != target {
		if d.session.EnsureNetwork(ctx, target) {
			d.emit(types.ActivityInfo, fmt.Sprintf("switched to %s (%d)", d.cfg.Chain.Name, target))
		} else {
			d.emit(types.ActivityWarning, fmt.Sprintf("could not switch to %s (%d), staying on %d", d.cfg.Chain.Name, target, identity.NetworkID))
		}
	}

	return identity, nil
}

// Deploy provisions a new oracle and binds it.
func (d *Daemon) Deploy(ctx context.Context, variant types.Variant, label string) (deploy.Result, error) {
	d.emit(types.ActivityInfo, fmt.Sprintf("deploying %s oracle", variant))

	gen := d.session.Generation()
	res, err := d.deployer.Deploy(ctx, deploy.Request{Variant: variant, DataSourceLabel: label})
	if err != nil {
		d.emitError("deployment failed", err)
		return deploy.Result{}, err
	}
	for _, w := range res.Warnings {
		d.emit(types.ActivityWarning, w)
	}

	binding, err := contract.New(d.session.Backend(), d.session, res.Oracle.Address, res.Oracle.Variant)
	if err != nil {
		d.emitError("bind deployed oracle", err)
		return deploy.Result{}, err
	}
	if err := d.install(gen, res.Oracle, binding); err != nil {
		d.emit(types.ActivityWarning, fmt.Sprintf("oracle deployed at %s after session reset, not bound", res.Oracle.Address.Hex()))
		return deploy.Result{}, err
	}
	d.emit(types.ActivitySuccess, fmt.Sprintf("oracle deployed at %s", res.Oracle.Address.Hex()))

	if _, err := d.Refresh(ctx); err != nil {
		d.emitError("initial snapshot", err)
	}
	return res, nil
}

// Attach binds an oracle that already exists. The oracle is kept only if it can be read.
func (d *Daemon) Attach(ctx context.Context, address common.Address, variant types.Variant) (types.Snapshot, error) {
	identity, ok := d.session.Identity()
	if !ok {
		return types.Snapshot{}, errorsmod.Wrap(types.ErrNoWalletProvider, "connect before attaching")
	}

	gen := d.session.Generation()
	binding, err := contract.New(d.session.Backend(), d.session, address, variant)
	if err != nil {
		return types.Snapshot{}, err
	}

	snap, err := d.reconciler.ReconcileAt(ctx, binding, gen)
	if err != nil {
		d.emitError(fmt.Sprintf("attach %s", address.Hex()), err)
		return types.Snapshot{}, err
	}

	err = d.install(gen, types.DeployedOracle{
		Address:         address,
		Variant:         variant,
		DataSourceLabel: snap.DataSource,
		NetworkID:       identity.NetworkID,
	}, binding)
	if err != nil {
		d.emit(types.ActivityWarning, fmt.Sprintf("attach %s discarded after session reset", address.Hex()))
		return types.Snapshot{}, err
	}
	d.emit(types.ActivitySuccess, fmt.Sprintf("attached %s oracle at %s", variant, address.Hex()))
	return snap, nil
}

// install binds oracle to session generation gen. It fails with types.ErrSessionInvalidated
// once the session has been reset past gen. The check holds d.mu, which dropOracle also takes.
func (d *Daemon) install(gen uint64, oracle types.DeployedOracle, binding contract.Binding) error {
	opts := []scheduler.Option{
		scheduler.WithObserver(d.observe),
		scheduler.WithRunTimeout(2 * time.Minute),
	}
	if d.ticker != nil {
		opts = append(opts, scheduler.WithTicker(d.ticker))
	}

	d.mu.Lock()
	if !d.session.Valid(gen) {
		d.mu.Unlock()
		return errorsmod.Wrapf(types.ErrSessionInvalidated, "oracle %s", oracle.Address.Hex())
	}
	previous := d.engine
	d.oracle = &oracle
	d.engine = scheduler.New(d.fetcher, binding, d.reconciler, d.session, d.endpoint, opts...)
	d.mu.Unlock()

	if previous != nil {
		previous.Close()
		d.reconciler.Forget(previous.Oracle().Address())
	}
	return nil
}

func (d *Daemon) currentEngine() (*scheduler.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine == nil {
		return nil, errorsmod.Wrap(types.ErrNoOracle, "deploy or attach an oracle first")
	}
	return d.engine, nil
}

// RunOnce fetches, writes and reconciles once.
func (d *Daemon) RunOnce(ctx context.Context) (types.Snapshot, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return types.Snapshot{}, err
	}
	return engine.RunOnce(ctx)
}

func (d *Daemon) StartAuto(seconds uint64) error {
	engine, err := d.currentEngine()
	if err != nil {
		return err
	}
	if err := engine.StartAuto(seconds); err != nil {
		return err
	}
	d.emit(types.ActivityInfo, fmt.Sprintf("auto-update started every %ds", seconds))
	return nil
}

func (d *Daemon) StopAuto() {
	engine, err := d.currentEngine()
	if err != nil {
		return
	}
	if engine.State().Running {
		engine.StopAuto()
		d.emit(types.ActivityInfo, "auto-update stopped")
	}
}

// Refresh re-reads the bound oracle into the snapshot cache.
func (d *Daemon) Refresh(ctx context.Context) (types.Snapshot, error) {
	engine, err := d.currentEngine()
	if err != nil {
		return types.Snapshot{}, err
	}
	return d.reconciler.Reconcile(ctx, engine.Oracle())
}

// Snapshot returns the cached snapshot of the bound oracle.
func (d *Daemon) Snapshot() (types.Snapshot, time.Time, bool) {
	d.mu.Lock()
	oracle := d.oracle
	d.mu.Unlock()

	if oracle == nil {
		return types.Snapshot{}, time.Time{}, false
	}
	return d.reconciler.Snapshot(oracle.Address)
}

func (d *Daemon) Oracle() (types.DeployedOracle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.oracle == nil {
		return types.DeployedOracle{}, false
	}
	return *d.oracle, true
}

func (d *Daemon) Status() Status {
	st := Status{
		Target:      d.cfg.Chain.ChainID,
		DeployState: d.deployer.State().String(),
		Sync:        types.SyncJobState{SourceEndpoint: d.endpoint, IntervalSeconds: d.cfg.Sync.IntervalSeconds},
	}

	if identity, ok := d.session.Identity(); ok {
		st.Connected = true
		st.Identity = &identity
	}

	d.mu.Lock()
	if d.oracle != nil {
		oracle := *d.oracle
		st.Oracle = &oracle
	}
	engine := d.engine
	d.mu.Unlock()

	if engine != nil {
		st.Sync = engine.State()
	}
	if snap, at, ok := d.Snapshot(); ok {
		st.Snapshot = &snap
		st.SnapshotAt = at
	}
	return st
}

// HealthChecks returns the checks for the chain connection and the price source.
func (d *Daemon) HealthChecks() []health.Check {
	return []health.Check{
		health.NewCheck(health.CheckRPC, func(ctx context.Context) error {
			_, err := d.session.CurrentNetwork(ctx)
			return err
		}),
		health.NewCheck(health.CheckPriceSource, func(ctx context.Context) error {
			_, err := d.fetcher.Fetch(ctx, d.endpoint)
			return err
		}),
	}
}

// SubscribeActivity delivers every following activity record to ch.
func (d *Daemon) SubscribeActivity(ch chan<- types.Activity) event.Subscription {
	return d.scope.Track(d.activity.Subscribe(ch))
}

// Recent returns up to RecentActivity of the latest records, oldest first.
func (d *Daemon) Recent() []types.Activity {
	d.recentMu.Lock()
	defer d.recentMu.Unlock()
	return append([]types.Activity(nil), d.recent...)
}

// Disconnect tears down the session. Bound state is dropped by the reset hook.
func (d *Daemon) Disconnect() {
	d.session.Disconnect()
}

// Close disconnects and releases every subscriber.
func (d *Daemon) Close() {
	d.Disconnect()
	d.dropOracle()
	d.scope.Close()
}

func (d *Daemon) dropOracle() {
	d.mu.Lock()
	engine := d.engine
	d.engine, d.oracle = nil, nil
	d.mu.Unlock()

	if engine != nil {
		engine.Close()
	}
	d.reconciler.Reset()
}

func (d *Daemon) onReset(reason types.ResetReason) {
	switch reason {
	case types.ResetAccountChanged:
		d.mu.Lock()
		engine := d.engine
		d.mu.Unlock()
		if engine != nil && engine.State().Running {
			engine.StopAuto()
			d.emit(types.ActivityWarning, "account changed, auto-update stopped")
			return
		}
		d.emit(types.ActivityInfo, "account changed")

	case types.ResetNetworkChanged, types.ResetDisconnected:
		_, had := d.Oracle()
		d.dropOracle()
		msg := fmt.Sprintf("session reset (%s)", reason)
		if had {
			msg += ", oracle unbound"
		}
		d.emit(types.ActivityWarning, msg)
	}
}

func (d *Daemon) observe(out scheduler.Outcome) {
	switch {
	case out.Err == nil:
		d.emit(types.ActivitySuccess, fmt.Sprintf("price updated to %s (tx %s)", types.FormatPrice(out.Price), out.Tx.Hash.Hex()))
	case types.IsSessionInvalidated(out.Err):
		d.emit(types.ActivityWarning, fmt.Sprintf("sync %s discarded after session reset", out.RunID))
	default:
		d.emitError(fmt.Sprintf("sync %s failed", out.RunID), out.Err)
	}
}

func (d *Daemon) emitError(msg string, err error) {
	d.publish(types.Activity{Time: time.Now(), Kind: types.ActivityError, Message: msg, Error: err.Error()})
}

func (d *Daemon) emit(kind types.ActivityKind, msg string) {
	switch kind {
	case types.ActivityWarning:
		log.Warnf("%s", msg)
	default:
		log.Infof("%s", msg)
	}
	d.publish(types.Activity{Time: time.Now(), Kind: kind, Message: msg})
}

func (d *Daemon) publish(a types.Activity) {
	d.recentMu.Lock()
	d.recent = append(d.recent, a)
	if len(d.recent) > RecentActivity {
		d.recent = d.recent[len(d.recent)-RecentActivity:]
	}
	d.recentMu.Unlock()

	d.activity.Send(a)
}
