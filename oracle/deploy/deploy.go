package deploy

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/shopspring/decimal"
)

type State uint8

const (
	StateIdle State = iota
	StatePreflight
	StateSubmitting
	StateConfirming
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreflight:
		return "Preflight"
	case StateSubmitting:
		return "Submitting"
	case StateConfirming:
		return "Confirming"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Chain is what a deployment needs from the session.
type Chain interface {
	Identity() (types.ChainIdentity, bool)
	Balance(ctx context.Context) (*big.Int, error)
	CurrentNetwork(ctx context.Context) (types.Network, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Signer(ctx context.Context) (*bind.TransactOpts, error)
	Backend() contract.Backend
}

type Request struct {
	Variant         types.Variant
	DataSourceLabel string
}

type Result struct {
	Oracle   types.DeployedOracle
	Balance  *big.Int
	GasPrice *big.Int
	Warnings []string
}

type Transition struct {
	From State
	To   State
	At   time.Time
	Note string
}

// Deployer runs the deployment state machine:
//
//	Idle -> Preflight -> Submitting -> Confirming -> Ready | Failed
//
// A failed run never yields an oracle.
type Deployer struct {
	chain     Chain
	artifacts contract.Artifacts
	expected  uint64

	running     atomic.Bool
	mu          sync.RWMutex
	state       State
	transitions []Transition
}

func New(chain Chain, artifacts contract.Artifacts, expectedChainID uint64) *Deployer {
	return &Deployer{
		chain:     chain,
		artifacts: artifacts,
		expected:  expectedChainID,
	}
}

func (d *Deployer) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Transitions returns the state changes of the latest run.
func (d *Deployer) Transitions() []Transition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Transition(nil), d.transitions...)
}

func (d *Deployer) transition(to State, note string) {
	d.mu.Lock()
	t := Transition{From: d.state, To: to, At: time.Now(), Note: note}
	d.state = to
	d.transitions = append(d.transitions, t)
	d.mu.Unlock()

	if note != "" {
		log.Debugf("deploy: %s -> %s (%s)", t.From, t.To, note)
	} else {
		log.Debugf("deploy: %s -> %s", t.From, t.To)
	}
}

// Deploy provisions a new oracle. Only one deployment runs at a time.
func (d *Deployer) Deploy(ctx context.Context, req Request) (Result, error) {
	if !d.running.CompareAndSwap(false, true) {
		return Result{}, errorsmod.Wrap(types.ErrInvalidArgument, "a deployment is already in progress")
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.state = StateIdle
	d.transitions = nil
	d.mu.Unlock()

	start := time.Now()
	res, err := d.run(ctx, req)
	if err != nil {
		d.transition(StateFailed, err.Error())
		log.Failure("deploy", err, "variant", req.Variant)
		metrics.IncrCounter([]string{"oracle", "deploy", "failure"}, 1)
		return Result{}, err
	}

	d.transition(StateReady, res.Oracle.Address.Hex())
	metrics.IncrCounter([]string{"oracle", "deploy", "success"}, 1)
	metrics.MeasureSince([]string{"oracle", "deploy", "duration"}, start)
	log.Infof("deployed %s oracle at %s (tx %s)", res.Oracle.Variant, res.Oracle.Address.Hex(), res.Oracle.TxHash.Hex())
	return res, nil
}

func (d *Deployer) run(ctx context.Context, req Request) (Result, error) {
	d.transition(StatePreflight, "")

	artifact, label, err := d.validate(req)
	if err != nil {
		return Result{}, err
	}

	identity, ok := d.chain.Identity()
	if !ok || !identity.SigningCapability {
		return Result{}, errorsmod.Wrap(types.ErrNoWalletProvider, "no signing identity, connect first")
	}

	backend := d.chain.Backend()
	if backend == nil {
		return Result{}, errorsmod.Wrap(types.ErrNoWalletProvider, "no chain backend")
	}

	balance, err := d.chain.Balance(ctx)
	if err != nil {
		return Result{}, err
	}
	if balance.Sign() <= 0 {
		return Result{}, errorsmod.Wrapf(types.ErrInsufficientFunds, "account %s has no balance", identity.Address.Hex())
	}
	log.Infof("deployer %s balance: %s", identity.Address.Hex(), FormatEther(balance))

	res := Result{Balance: balance}
	networkID := identity.NetworkID

	network, err := d.chain.CurrentNetwork(ctx)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not determine the active network: %v", err))
	case network.ID != d.expected:
		res.Warnings = append(res.Warnings, fmt.Sprintf("connected to %s (%d), expected network %d", network.Name, network.ID, d.expected))
		networkID = network.ID
	default:
		networkID = network.ID
	}

	gasPrice, err := d.chain.SuggestGasPrice(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not get gas price, using node default: %v", err))
	} else {
		res.GasPrice = gasPrice
		log.Infof("gas price: %s gwei", decimal.NewFromBigInt(gasPrice, -9).String())
	}

	for _, w := range res.Warnings {
		log.Warnf("deploy: %s", w)
	}

	d.transition(StateSubmitting, req.Variant.String())

	opts, err := d.chain.Signer(ctx)
	if err != nil {
		return Result{}, err
	}
	opts.Context = ctx
	opts.GasLimit = req.Variant.GasLimit()
	if gasPrice != nil {
		opts.GasPrice = gasPrice
	}

	var args []interface{}
	if req.Variant == types.VariantFull {
		args = append(args, label)
	}

	_, tx, _, err := bind.DeployContract(opts, *artifact.ABI, artifact.Bytecode, backend, args...)
	if err != nil {
		return Result{}, classifySubmitError(err)
	}

	d.transition(StateConfirming, tx.Hash().Hex())

	address, err := bind.WaitDeployed(ctx, backend, tx)
	if err != nil {
		return Result{}, errorsmod.Wrapf(types.ErrRemoteWriteFailed, "wait for deployment %s: %v", tx.Hash().Hex(), err)
	}

	res.Oracle = types.DeployedOracle{
		Address:         address,
		Variant:         req.Variant,
		DataSourceLabel: label,
		NetworkID:       networkID,
		TxHash:          tx.Hash(),
		DeployedAt:      time.Now().UTC(),
	}
	if receipt, err := backend.TransactionReceipt(ctx, tx.Hash()); err == nil && receipt.BlockNumber != nil {
		res.Oracle.BlockNumber = receipt.BlockNumber.Uint64()
	}

	return res, nil
}

// validate checks the request locally. Nothing here touches the network.
func (d *Deployer) validate(req Request) (*contract.Artifact, string, error) {
	if !req.Variant.Valid() {
		return nil, "", errorsmod.Wrapf(types.ErrInvalidArgument, "unknown oracle variant %s", req.Variant)
	}

	label := strings.TrimSpace(req.DataSourceLabel)
	switch req.Variant {
	case types.VariantFull:
		if label == "" {
			return nil, "", errorsmod.Wrap(types.ErrInvalidArgument, "the full variant requires a data source label")
		}
	case types.VariantMinimal:
		label = ""
	}

	artifact, err := d.artifacts.For(req.Variant)
	if err != nil {
		return nil, "", err
	}
	return artifact, label, nil
}

func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return errorsmod.Wrapf(types.ErrInsufficientFunds, "submit deployment: %v", err)
	}
	return errorsmod.Wrapf(types.ErrRemoteWriteFailed, "submit deployment: %v", err)
}

// FormatEther renders a wei amount in ether.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
