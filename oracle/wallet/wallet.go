package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
)

var _ Provider = (*Wallet)(nil)

type Options struct {
	PrivateKey   string
	Mnemonic     string
	AccountIndex uint32
	// Networks are registered in addition to the initial network.
	Networks     []types.NetworkDescriptor
	DialAttempts uint
}

// Wallet is a Provider backed by a local key and a JSON-RPC node per network.
type Wallet struct {
	mu       sync.RWMutex
	key      *ecdsa.PrivateKey
	mnemonic string
	networks map[uint64]types.NetworkDescriptor
	active   types.NetworkDescriptor
	client   *ethclient.Client
	attempts uint

	accountFeed event.Feed
	networkFeed event.Feed
	scope       event.SubscriptionScope
}

// New dials the initial network and loads the signing key, if any is configured.
func New(ctx context.Context, initial types.NetworkDescriptor, opts Options) (*Wallet, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}

	w := &Wallet{
		networks: map[uint64]types.NetworkDescriptor{initial.ChainID: initial},
		attempts: opts.DialAttempts,
		mnemonic: opts.Mnemonic,
	}
	if w.attempts == 0 {
		w.attempts = 1
	}

	for _, n := range opts.Networks {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		w.networks[n.ChainID] = n
	}

	switch {
	case opts.PrivateKey != "":
		key, err := KeyFromHex(opts.PrivateKey)
		if err != nil {
			return nil, err
		}
		w.key = key
	case opts.Mnemonic != "":
		key, err := KeyFromMnemonic(opts.Mnemonic, opts.AccountIndex)
		if err != nil {
			return nil, err
		}
		w.key = key
	}

	client, err := w.dial(ctx, initial)
	if err != nil {
		return nil, err
	}
	w.client = client
	w.active = initial

	return w, nil
}

// dial connects to the network's endpoint and checks that it serves the expected chain.
func (w *Wallet) dial(ctx context.Context, network types.NetworkDescriptor) (*ethclient.Client, error) {
	operation := func() (*ethclient.Client, error) {
		client, err := ethclient.DialContext(ctx, network.RPCEndpoint)
		if err != nil {
			return nil, err
		}

		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}

		if id.Uint64() != network.ChainID {
			client.Close()
			return nil, backoff.Permanent(fmt.Errorf("endpoint %s serves chain %s, want %d", network.RPCEndpoint, id, network.ChainID))
		}

		return client, nil
	}

	notify := func(err error, next time.Duration) {
		log.Warnf("dial %s failed: %v (retrying in %v)", network.RPCEndpoint, err, next)
	}

	client, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(w.attempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "connect to %s: %v", network.Name, err)
	}

	log.Infof("connected to %s (%d) at %s", network.Name, network.ChainID, network.RPCEndpoint)
	return client, nil
}

func (w *Wallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.key == nil {
		return []common.Address{}, nil
	}
	return []common.Address{crypto.PubkeyToAddress(w.key.PublicKey)}, nil
}

func (w *Wallet) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := w.currentClient().BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "balance of %s: %v", account.Hex(), err)
	}
	return balance, nil
}

func (w *Wallet) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := w.currentClient().SuggestGasPrice(ctx)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrRemoteCallFailed, "gas price: %v", err)
	}
	return price, nil
}

func (w *Wallet) Network(ctx context.Context) (types.Network, error) {
	id, err := w.currentClient().ChainID(ctx)
	if err != nil {
		return types.Network{}, errorsmod.Wrapf(types.ErrRemoteCallFailed, "chain id: %v", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	name := fmt.Sprintf("chain %s", id)
	if n, ok := w.networks[id.Uint64()]; ok {
		name = n.Name
	}
	return types.Network{ID: id.Uint64(), Name: name}, nil
}

// SwitchNetwork makes chainID the active network. Subscribers are notified on success.
func (w *Wallet) SwitchNetwork(ctx context.Context, chainID uint64) error {
	w.mu.RLock()
	network, known := w.networks[chainID]
	current := w.active.ChainID
	w.mu.RUnlock()

	if !known {
		return errorsmod.Wrapf(types.ErrUnrecognizedChain, "chain %d has not been added", chainID)
	}
	if current == chainID {
		return nil
	}

	client, err := w.dial(ctx, network)
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.client
	w.client = client
	w.active = network
	w.mu.Unlock()

	old.Close()
	w.networkFeed.Send(chainID)
	return nil
}

func (w *Wallet) AddNetwork(_ context.Context, network types.NetworkDescriptor) error {
	if err := network.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	w.networks[network.ChainID] = network
	w.mu.Unlock()

	log.Infof("registered network %s (%d)", network.Name, network.ChainID)
	return nil
}

func (w *Wallet) Backend() contract.Backend {
	return w.currentClient()
}

func (w *Wallet) Transactor(_ context.Context, account common.Address) (*bind.TransactOpts, error) {
	w.mu.RLock()
	key := w.key
	chainID := new(big.Int).SetUint64(w.active.ChainID)
	w.mu.RUnlock()

	if key == nil {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "no signing key loaded")
	}
	if from := crypto.PubkeyToAddress(key.PublicKey); from != account {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "account %s is not managed by this wallet", account.Hex())
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrNoWalletProvider, "transactor: %v", err)
	}
	return opts, nil
}

// SelectAccount switches to another account derived from the configured mnemonic.
func (w *Wallet) SelectAccount(index uint32) error {
	if w.mnemonic == "" {
		return errorsmod.Wrap(types.ErrInvalidArgument, "account selection needs a mnemonic")
	}

	key, err := KeyFromMnemonic(w.mnemonic, index)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.key = key
	w.mu.Unlock()

	w.accountFeed.Send([]common.Address{crypto.PubkeyToAddress(key.PublicKey)})
	return nil
}

// Lock forgets the signing key. Subscribers receive an empty account list.
func (w *Wallet) Lock() {
	w.mu.Lock()
	w.key = nil
	w.mu.Unlock()

	w.accountFeed.Send([]common.Address{})
}

func (w *Wallet) SubscribeAccounts(ch chan<- []common.Address) event.Subscription {
	return w.scope.Track(w.accountFeed.Subscribe(ch))
}

func (w *Wallet) SubscribeNetwork(ch chan<- uint64) event.Subscription {
	return w.scope.Track(w.networkFeed.Subscribe(ch))
}

func (w *Wallet) Close() {
	w.scope.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Close()
	}
}

func (w *Wallet) currentClient() *ethclient.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.client
}
