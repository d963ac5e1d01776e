package contract

import (
	"context"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sourcegraph/conc/pool"
)

// Backend is the chain access a binding needs: calls, transactions and receipts.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer supplies transaction options for the active signing account.
type Signer interface {
	Signer(ctx context.Context) (*bind.TransactOpts, error)
}

// Reader reads the canonical fields of an oracle.
type Reader interface {
	Address() common.Address
	ReadSnapshot(ctx context.Context) (types.Snapshot, error)
}

// Binding is a typed handle over a deployed oracle, independent of its variant.
type Binding interface {
	Reader
	Variant() types.Variant
	// WritePrice submits newPrice and returns once the transaction is mined.
	WritePrice(ctx context.Context, newPrice *big.Int) (types.TxHandle, error)
}

var (
	_ Binding = (*minimalOracle)(nil)
	_ Binding = (*fullOracle)(nil)
)

// New binds the oracle at address. signer may be nil for a read-only binding.
func New(backend Backend, signer Signer, address common.Address, variant types.Variant) (Binding, error) {
	if backend == nil {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "no chain backend")
	}
	if address == (common.Address{}) {
		return nil, errorsmod.Wrap(types.ErrInvalidArgument, "oracle address is empty")
	}

	parsed, err := ABIFor(variant)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidArgument, err.Error())
	}

	base := &boundOracle{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
		backend:  backend,
		signer:   signer,
	}

	switch variant {
	case types.VariantMinimal:
		return &minimalOracle{base}, nil
	case types.VariantFull:
		return &fullOracle{base}, nil
	default:
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "unknown oracle variant %s", variant)
	}
}

type minimalOracle struct {
	*boundOracle
}

func (o *minimalOracle) Variant() types.Variant {
	return types.VariantMinimal
}

// ReadSnapshot reads price, timestamp and owner. The minimal oracle has no label.
func (o *minimalOracle) ReadSnapshot(ctx context.Context) (types.Snapshot, error) {
	return o.read(ctx, false)
}

type fullOracle struct {
	*boundOracle
}

func (o *fullOracle) Variant() types.Variant {
	return types.VariantFull
}

func (o *fullOracle) ReadSnapshot(ctx context.Context) (types.Snapshot, error) {
	return o.read(ctx, true)
}

type boundOracle struct {
	address  common.Address
	abi      *abi.ABI
	contract *bind.BoundContract
	backend  Backend
	signer   Signer
}

func (o *boundOracle) Address() common.Address {
	return o.address
}

// read issues the field reads concurrently. Any failure fails the whole snapshot.
func (o *boundOracle) read(ctx context.Context, withDataSource bool) (types.Snapshot, error) {
	var snap types.Snapshot

	p := pool.New().WithErrors().WithContext(ctx).WithFirstError().WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		v, err := o.callBigInt(ctx, MethodLatestPrice)
		snap.LatestPrice = v
		return err
	})
	p.Go(func(ctx context.Context) error {
		v, err := o.callBigInt(ctx, MethodLastUpdated)
		if err == nil {
			if !v.IsUint64() {
				return errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: value %s out of range", MethodLastUpdated, v)
			}
			snap.LastUpdated = v.Uint64()
		}
		return err
	})
	p.Go(func(ctx context.Context) error {
		out, err := o.call(ctx, MethodOwner)
		if err != nil {
			return err
		}
		owner, ok := out.(common.Address)
		if !ok {
			return errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: unexpected result type %T", MethodOwner, out)
		}
		snap.Owner = owner
		return nil
	})
	if withDataSource {
		p.Go(func(ctx context.Context) error {
			out, err := o.call(ctx, MethodDataSource)
			if err != nil {
				return err
			}
			label, ok := out.(string)
			if !ok {
				return errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: unexpected result type %T", MethodDataSource, out)
			}
			snap.DataSource = label
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return types.Snapshot{}, err
	}

	return snap, nil
}

func (o *boundOracle) call(ctx context.Context, method string) (interface{}, error) {
	var out []interface{}
	if err := o.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: %v", method, err)
	}
	if len(out) != 1 {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: expected 1 result, got %d", method, len(out))
	}
	return out[0], nil
}

func (o *boundOracle) callBigInt(ctx context.Context, method string) (*big.Int, error) {
	out, err := o.call(ctx, method)
	if err != nil {
		return nil, err
	}
	v, ok := out.(*big.Int)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "%s: unexpected result type %T", method, out)
	}
	return v, nil
}

func (o *boundOracle) WritePrice(ctx context.Context, newPrice *big.Int) (types.TxHandle, error) {
	if newPrice == nil || newPrice.Sign() < 0 {
		return types.TxHandle{}, errorsmod.Wrap(types.ErrInvalidArgument, "price must be a non-negative integer")
	}
	if o.signer == nil {
		return types.TxHandle{}, errorsmod.Wrap(types.ErrNoWalletProvider, "binding is read-only")
	}

	opts, err := o.signer.Signer(ctx)
	if err != nil {
		return types.TxHandle{}, err
	}
	opts.Context = ctx

	tx, err := o.contract.Transact(opts, MethodUpdatePrice, newPrice)
	if err != nil {
		return types.TxHandle{}, errorsmod.Wrapf(types.ErrRemoteWriteFailed, "submit %s: %v", MethodUpdatePrice, err)
	}

	receipt, err := bind.WaitMined(ctx, o.backend, tx)
	if err != nil {
		return types.TxHandle{}, errorsmod.Wrapf(types.ErrRemoteWriteFailed, "wait for %s: %v", tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return types.TxHandle{}, errorsmod.Wrapf(types.ErrRemoteWriteFailed, "transaction %s reverted", tx.Hash().Hex())
	}

	handle := types.TxHandle{
		Hash:    tx.Hash(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		handle.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if ev, ok := o.priceUpdated(receipt); ok {
		handle.Price = ev.NewPrice
		if ev.Timestamp != nil && ev.Timestamp.IsUint64() {
			handle.Timestamp = ev.Timestamp.Uint64()
		}
	}

	return handle, nil
}

type priceUpdatedEvent struct {
	NewPrice  *big.Int
	Timestamp *big.Int
}

func (o *boundOracle) priceUpdated(receipt *gethtypes.Receipt) (priceUpdatedEvent, bool) {
	id := o.abi.Events[EventPriceUpdated].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != o.address || len(l.Topics) == 0 || l.Topics[0] != id {
			continue
		}
		var ev priceUpdatedEvent
		if err := o.contract.UnpackLog(&ev, EventPriceUpdated, *l); err != nil {
			continue
		}
		return ev, true
	}
	return priceUpdatedEvent{}, false
}
