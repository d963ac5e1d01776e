package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// MinimalCode and FullCode are the creation codes the in-memory chain recognizes.
	MinimalCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x01}
	FullCode    = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x02}

	errReverted = errors.New("execution reverted")
)

var _ contract.Backend = (*Backend)(nil)

// Oracle is the state of an oracle contract on the in-memory chain.
type Oracle struct {
	Variant     types.Variant
	Price       *big.Int
	LastUpdated uint64
	DataSource  string
	Owner       common.Address
}

// Backend is an in-memory chain executing the oracle interface: deployments, reads,
// updatePrice and receipts with PriceUpdated logs.
type Backend struct {
	mu        sync.Mutex
	codes     map[types.Variant][]byte
	oracles   map[common.Address]*Oracle
	receipts  map[common.Hash]*gethtypes.Receipt
	nonces    map[common.Address]uint64
	block     uint64
	now       func() uint64
	callErrs  map[string]error
	callCount map[string]int
	sendErr   error
	revert    bool
	gate      chan struct{}
	sent      []*gethtypes.Transaction
}

func NewBackend() *Backend {
	return &Backend{
		codes: map[types.Variant][]byte{
			types.VariantMinimal: MinimalCode,
			types.VariantFull:    FullCode,
		},
		oracles:   make(map[common.Address]*Oracle),
		receipts:  make(map[common.Hash]*gethtypes.Receipt),
		nonces:    make(map[common.Address]uint64),
		block:     1,
		now:       func() uint64 { return uint64(time.Now().Unix()) },
		callErrs:  make(map[string]error),
		callCount: make(map[string]int),
	}
}

// Artifacts returns deployable artifacts whose creation codes this chain recognizes.
func (b *Backend) Artifacts() contract.Artifacts {
	minimal, _ := contract.ABIFor(types.VariantMinimal)
	full, _ := contract.ABIFor(types.VariantFull)

	return contract.Artifacts{
		Minimal: &contract.Artifact{ABI: minimal, Bytecode: MinimalCode},
		Full:    &contract.Artifact{ABI: full, Bytecode: FullCode},
	}
}

// Install places an oracle at a fresh address without a transaction.
func (b *Backend) Install(variant types.Variant, owner common.Address, label string) common.Address {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr := crypto.CreateAddress(common.Address{0xfe}, uint64(len(b.oracles)))
	b.oracles[addr] = &Oracle{Variant: variant, Price: big.NewInt(0), DataSource: label, Owner: owner}
	return addr
}

func (b *Backend) Oracle(addr common.Address) (Oracle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.oracles[addr]
	if !ok {
		return Oracle{}, false
	}
	cp := *o
	cp.Price = new(big.Int).Set(o.Price)
	return cp, true
}

func (b *Backend) SetCallError(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.callErrs, method)
		return
	}
	b.callErrs[method] = err
}

func (b *Backend) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// SetRevert makes every following transaction mine with a failed status.
func (b *Backend) SetRevert(revert bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revert = revert
}

func (b *Backend) SetClock(now func() uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Hold makes SendTransaction block until Release is called.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// Sent returns the number of accepted transactions.
func (b *Backend) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// Transactions returns the accepted transactions in order.
func (b *Backend) Transactions() []*gethtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*gethtypes.Transaction(nil), b.sent...)
}

func (b *Backend) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callCount[method]
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.oracles[account]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.CodeAt(ctx, account, nil)
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if call.To == nil {
		return nil, errReverted
	}
	o, ok := b.oracles[*call.To]
	if !ok {
		return nil, nil
	}

	parsed, err := contract.ABIFor(o.Variant)
	if err != nil {
		return nil, err
	}
	if len(call.Data) < 4 {
		return nil, errReverted
	}
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, errReverted
	}

	b.callCount[method.Name]++
	if err := b.callErrs[method.Name]; err != nil {
		return nil, err
	}

	switch method.Name {
	case contract.MethodLatestPrice:
		return method.Outputs.Pack(o.Price)
	case contract.MethodLastUpdated:
		return method.Outputs.Pack(new(big.Int).SetUint64(o.LastUpdated))
	case contract.MethodDataSource:
		return method.Outputs.Pack(o.DataSource)
	case contract.MethodOwner:
		return method.Outputs.Pack(o.Owner)
	default:
		return nil, errReverted
	}
}

func (b *Backend) PendingCallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
	return b.CallContract(ctx, call, nil)
}

func (b *Backend) HeaderByNumber(_ context.Context, _ *big.Int) (*gethtypes.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &gethtypes.Header{Number: new(big.Int).SetUint64(b.block)}, nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendErr != nil {
		return b.sendErr
	}

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if want := b.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce: have %d, want %d", tx.Nonce(), want)
	}

	receipt := &gethtypes.Receipt{
		Type:        tx.Type(),
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     21_000,
		BlockNumber: new(big.Int).SetUint64(b.block + 1),
	}

	switch {
	case b.revert:
		receipt.Status = gethtypes.ReceiptStatusFailed
	case tx.To() == nil:
		addr, err := b.create(from, tx)
		if err != nil {
			return err
		}
		receipt.ContractAddress = addr
	default:
		logs, ok := b.execute(tx, receipt.BlockNumber.Uint64())
		if !ok {
			receipt.Status = gethtypes.ReceiptStatusFailed
		}
		receipt.Logs = logs
	}

	b.nonces[from]++
	b.block++
	b.receipts[tx.Hash()] = receipt
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) create(from common.Address, tx *gethtypes.Transaction) (common.Address, error) {
	data := tx.Data()
	for variant, code := range b.codes {
		if !bytes.HasPrefix(data, code) {
			continue
		}

		parsed, err := contract.ABIFor(variant)
		if err != nil {
			return common.Address{}, err
		}
		label, err := constructorLabel(parsed, data[len(code):])
		if err != nil {
			return common.Address{}, err
		}

		addr := crypto.CreateAddress(from, tx.Nonce())
		b.oracles[addr] = &Oracle{Variant: variant, Price: big.NewInt(0), DataSource: label, Owner: from}
		return addr, nil
	}
	return common.Address{}, errors.New("unknown creation code")
}

func constructorLabel(parsed *abi.ABI, args []byte) (string, error) {
	if len(parsed.Constructor.Inputs) == 0 {
		return "", nil
	}
	values, err := parsed.Constructor.Inputs.Unpack(args)
	if err != nil {
		return "", fmt.Errorf("constructor arguments: %w", err)
	}
	label, _ := values[0].(string)
	return label, nil
}

func (b *Backend) execute(tx *gethtypes.Transaction, block uint64) ([]*gethtypes.Log, bool) {
	o, ok := b.oracles[*tx.To()]
	if !ok || len(tx.Data()) < 4 {
		return nil, false
	}

	parsed, err := contract.ABIFor(o.Variant)
	if err != nil {
		return nil, false
	}
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil || method.Name != contract.MethodUpdatePrice {
		return nil, false
	}
	values, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, false
	}
	price, ok := values[0].(*big.Int)
	if !ok {
		return nil, false
	}

	o.Price = new(big.Int).Set(price)
	o.LastUpdated = b.now()

	event := parsed.Events[contract.EventPriceUpdated]
	data, err := event.Inputs.Pack(price, new(big.Int).SetUint64(o.LastUpdated))
	if err != nil {
		return nil, false
	}

	return []*gethtypes.Log{{
		Address:     *tx.To(),
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx.Hash(),
	}}, true
}

func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) FilterLogs(context.Context, ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- gethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("log subscriptions are not supported")
}
