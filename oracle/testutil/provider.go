package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/GPTx-global/guru-oracle/oracle/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

var _ wallet.Provider = (*Provider)(nil)

// OneEther is 10^18 wei.
var OneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Provider is a scriptable wallet.Provider over the in-memory Backend.
type Provider struct {
	mu       sync.Mutex
	backend  *Backend
	key      *ecdsa.PrivateKey
	locked   bool
	chainID  uint64
	known    map[uint64]types.NetworkDescriptor
	balances map[common.Address]*big.Int

	addErr      error
	switchErr   error
	gasErr      error
	balanceErr  error
	accountsErr error

	switches []uint64
	adds     []uint64
	calls    int

	accountFeed event.Feed
	networkFeed event.Feed
	scope       event.SubscriptionScope
}

// NewProvider returns an unlocked provider on network holding one ether.
func NewProvider(backend *Backend, network types.NetworkDescriptor) *Provider {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	p := &Provider{
		backend:  backend,
		key:      key,
		chainID:  network.ChainID,
		known:    map[uint64]types.NetworkDescriptor{network.ChainID: network},
		balances: make(map[common.Address]*big.Int),
	}
	p.balances[p.Address()] = new(big.Int).Set(OneEther)
	return p
}

func (p *Provider) Address() common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return crypto.PubkeyToAddress(p.key.PublicKey)
}

func (p *Provider) SetBalance(account common.Address, balance *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account] = new(big.Int).Set(balance)
}

func (p *Provider) SetAddError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addErr = err
}

func (p *Provider) SetSwitchError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.switchErr = err
}

func (p *Provider) SetGasPriceError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gasErr = err
}

func (p *Provider) SetBalanceError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balanceErr = err
}

func (p *Provider) SetAccountsError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accountsErr = err
}

// Switches returns the chain ids passed to SwitchNetwork, in order.
func (p *Provider) Switches() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.switches...)
}

// Adds returns the chain ids passed to AddNetwork, in order.
func (p *Provider) Adds() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.adds...)
}

// Calls counts every provider method that would reach the network.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Subscribers returns the number of live account and network subscriptions.
func (p *Provider) Subscribers() int {
	return p.scope.Count()
}

// ChangeAccount replaces the key and notifies subscribers.
func (p *Provider) ChangeAccount() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	p.mu.Lock()
	p.key = key
	p.locked = false
	addr := crypto.PubkeyToAddress(key.PublicKey)
	p.balances[addr] = new(big.Int).Set(OneEther)
	p.mu.Unlock()

	p.accountFeed.Send([]common.Address{addr})
	return addr
}

// Lock hides every account and notifies subscribers with an empty list.
func (p *Provider) Lock() {
	p.mu.Lock()
	p.locked = true
	p.mu.Unlock()

	p.accountFeed.Send([]common.Address{})
}

// ChangeNetwork simulates a network switch made outside the session.
func (p *Provider) ChangeNetwork(network types.NetworkDescriptor) {
	p.mu.Lock()
	p.known[network.ChainID] = network
	p.chainID = network.ChainID
	p.mu.Unlock()

	p.networkFeed.Send(network.ChainID)
}

func (p *Provider) RequestAccounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.accountsErr != nil {
		return nil, p.accountsErr
	}
	if p.locked {
		return []common.Address{}, nil
	}
	return []common.Address{crypto.PubkeyToAddress(p.key.PublicKey)}, nil
}

func (p *Provider) Balance(_ context.Context, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.balanceErr != nil {
		return nil, p.balanceErr
	}
	if b, ok := p.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (p *Provider) SuggestGasPrice(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.gasErr != nil {
		return nil, p.gasErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (p *Provider) Network(context.Context) (types.Network, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	name := fmt.Sprintf("chain %d", p.chainID)
	if n, ok := p.known[p.chainID]; ok {
		name = n.Name
	}
	return types.Network{ID: p.chainID, Name: name}, nil
}

func (p *Provider) SwitchNetwork(_ context.Context, chainID uint64) error {
	p.mu.Lock()
	p.calls++
	p.switches = append(p.switches, chainID)
	if p.switchErr != nil {
		err := p.switchErr
		p.mu.Unlock()
		return err
	}
	if _, ok := p.known[chainID]; !ok {
		p.mu.Unlock()
		return errorsmod.Wrapf(types.ErrUnrecognizedChain, "chain %d has not been added", chainID)
	}
	if p.chainID == chainID {
		p.mu.Unlock()
		return nil
	}
	p.chainID = chainID
	p.mu.Unlock()

	p.networkFeed.Send(chainID)
	return nil
}

func (p *Provider) AddNetwork(_ context.Context, network types.NetworkDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.adds = append(p.adds, network.ChainID)
	if p.addErr != nil {
		return p.addErr
	}
	if err := network.Validate(); err != nil {
		return err
	}
	p.known[network.ChainID] = network
	return nil
}

func (p *Provider) Backend() contract.Backend {
	return p.backend
}

func (p *Provider) Transactor(_ context.Context, account common.Address) (*bind.TransactOpts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.locked {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "provider is locked")
	}
	if crypto.PubkeyToAddress(p.key.PublicKey) != account {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "account %s is not managed by this provider", account.Hex())
	}
	return bind.NewKeyedTransactorWithChainID(p.key, new(big.Int).SetUint64(p.chainID))
}

func (p *Provider) SubscribeAccounts(ch chan<- []common.Address) event.Subscription {
	return p.scope.Track(p.accountFeed.Subscribe(ch))
}

func (p *Provider) SubscribeNetwork(ch chan<- uint64) event.Subscription {
	return p.scope.Track(p.networkFeed.Subscribe(ch))
}
