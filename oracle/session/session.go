package session

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/GPTx-global/guru-oracle/oracle/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

const reloadTimeout = 30 * time.Second

// Session owns the active chain identity and the provider subscriptions.
//
// Every connect, account change, network change and disconnect advances the generation.
// Work started under an older generation must not be applied to shared state.
type Session struct {
	provider wallet.Provider
	target   types.NetworkDescriptor
	networks map[uint64]types.NetworkDescriptor

	mu         sync.RWMutex
	identity   *types.ChainIdentity
	generation uint64
	hooks      []func(types.ResetReason)

	accountSub event.Subscription
	networkSub event.Subscription
	quit       chan struct{}
	wg         sync.WaitGroup
}

var _ contract.Signer = (*Session)(nil)

// New creates a disconnected session. provider may be nil, in which case every
// on-chain action fails with types.ErrNoWalletProvider.
func New(provider wallet.Provider, target types.NetworkDescriptor, extra ...types.NetworkDescriptor) *Session {
	networks := map[uint64]types.NetworkDescriptor{target.ChainID: target}
	for _, n := range extra {
		networks[n.ChainID] = n
	}

	return &Session{
		provider: provider,
		target:   target,
		networks: networks,
	}
}

func (s *Session) Target() types.NetworkDescriptor {
	return s.target
}

// OnReset registers fn to run whenever dependent state must be dropped. Hooks run after the
// generation has advanced and before a new identity is loaded.
func (s *Session) OnReset(fn func(types.ResetReason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Connect requests accounts from the provider and establishes the identity. Subscriptions to
// account and network changes are made once per connection.
func (s *Session) Connect(ctx context.Context) (types.ChainIdentity, error) {
	if s.provider == nil {
		return types.ChainIdentity{}, errorsmod.Wrap(types.ErrNoWalletProvider, "no wallet provider configured")
	}

	identity, err := s.load(ctx)
	if err != nil {
		return types.ChainIdentity{}, err
	}

	s.mu.Lock()
	if s.identity == nil || *s.identity != identity {
		s.generation++
	}
	s.identity = &identity
	s.subscribeLocked()
	s.mu.Unlock()

	log.Infof("connected %s on network %d", identity.Address.Hex(), identity.NetworkID)
	return identity, nil
}

func (s *Session) load(ctx context.Context) (types.ChainIdentity, error) {
	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		return types.ChainIdentity{}, errorsmod.Wrapf(types.ErrNoWalletProvider, "request accounts: %v", err)
	}
	if len(accounts) == 0 {
		return types.ChainIdentity{}, errorsmod.Wrap(types.ErrNoWalletProvider, "provider exposes no accounts")
	}

	network, err := s.provider.Network(ctx)
	if err != nil {
		return types.ChainIdentity{}, err
	}

	identity := types.ChainIdentity{
		Address:           accounts[0],
		NetworkID:         network.ID,
		SigningCapability: true,
	}
	return identity, identity.Validate()
}

func (s *Session) subscribeLocked() {
	if s.quit != nil {
		return
	}

	accounts := make(chan []common.Address, 4)
	networks := make(chan uint64, 4)
	s.accountSub = s.provider.SubscribeAccounts(accounts)
	s.networkSub = s.provider.SubscribeNetwork(networks)
	s.quit = make(chan struct{})

	s.wg.Add(1)
	go s.watch(accounts, networks, s.accountSub, s.networkSub, s.quit)
}

func (s *Session) watch(accounts <-chan []common.Address, networks <-chan uint64, accountSub, networkSub event.Subscription, quit <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case list := <-accounts:
			s.handleAccounts(list)
		case id := <-networks:
			s.handleNetwork(id)
		case err := <-accountSub.Err():
			if err != nil {
				log.Failure("session.subscribe", err, "feed", "accounts")
			}
			return
		case err := <-networkSub.Err():
			if err != nil {
				log.Failure("session.subscribe", err, "feed", "network")
			}
			return
		case <-quit:
			return
		}
	}
}

func (s *Session) handleAccounts(accounts []common.Address) {
	if len(accounts) == 0 {
		log.Warnf("provider exposes no accounts, disconnecting")
		s.teardown(false)
		return
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.Address == accounts[0] {
		s.mu.Unlock()
		return
	}
	s.generation++
	previous := s.identity.Address
	next := *s.identity
	next.Address = accounts[0]
	s.identity = &next
	hooks := s.hooksLocked()
	s.mu.Unlock()

	log.Infof("account changed %s -> %s", previous.Hex(), next.Address.Hex())
	notify(hooks, types.ResetAccountChanged)
}

// handleNetwork performs a hard reset: dependents drop their state, then the identity is reloaded.
func (s *Session) handleNetwork(chainID uint64) {
	s.mu.Lock()
	if s.identity == nil || s.identity.NetworkID == chainID {
		s.mu.Unlock()
		return
	}
	s.generation++
	previous := s.identity.NetworkID
	hooks := s.hooksLocked()
	s.mu.Unlock()

	log.Warnf("network changed %d -> %d, resetting session state", previous, chainID)
	notify(hooks, types.ResetNetworkChanged)

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	identity, err := s.load(ctx)
	if err != nil {
		log.Failure("session.reload", err, "network", chainID)
		s.teardown(false)
		return
	}

	s.mu.Lock()
	if s.identity != nil {
		s.identity = &identity
	}
	s.mu.Unlock()
}

// Disconnect cancels the subscriptions, invalidates the identity and notifies reset hooks.
func (s *Session) Disconnect() {
	s.teardown(true)
}

func (s *Session) teardown(wait bool) {
	s.mu.Lock()
	connected := s.identity != nil
	s.identity = nil
	s.generation++
	quit := s.quit
	subs := []event.Subscription{s.accountSub, s.networkSub}
	s.quit, s.accountSub, s.networkSub = nil, nil, nil
	hooks := s.hooksLocked()
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		for _, sub := range subs {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
	}
	if wait {
		s.wg.Wait()
	}

	if connected {
		log.Infof("session disconnected")
		notify(hooks, types.ResetDisconnected)
	}
}

func (s *Session) hooksLocked() []func(types.ResetReason) {
	return slices.Clone(s.hooks)
}

func notify(hooks []func(types.ResetReason), reason types.ResetReason) {
	for _, fn := range hooks {
		fn(reason)
	}
}

func (s *Session) Identity() (types.ChainIdentity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return types.ChainIdentity{}, false
	}
	return *s.identity, true
}

func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Valid reports whether gen is still the live generation of a connected session.
func (s *Session) Valid(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil && s.generation == gen
}

func (s *Session) CurrentNetwork(ctx context.Context) (types.Network, error) {
	if s.provider == nil {
		return types.Network{}, errorsmod.Wrap(types.ErrNoWalletProvider, "no wallet provider configured")
	}
	return s.provider.Network(ctx)
}

// EnsureNetwork makes targetID the active network. A network unknown to the provider is
// registered from the session's descriptors before the switch is retried.
func (s *Session) EnsureNetwork(ctx context.Context, targetID uint64) bool {
	if s.provider == nil {
		log.Failure("session.ensureNetwork", errorsmod.Wrap(types.ErrNoWalletProvider, "no wallet provider configured"))
		return false
	}

	if current, err := s.provider.Network(ctx); err == nil && current.ID == targetID {
		return true
	}

	err := s.provider.SwitchNetwork(ctx, targetID)
	if err == nil {
		return true
	}
	if !errors.Is(err, types.ErrUnrecognizedChain) {
		log.Failure("session.switchNetwork", err, "chain", targetID)
		return false
	}

	descriptor, ok := s.networks[targetID]
	if !ok {
		log.Failure("session.addNetwork", errorsmod.Wrapf(types.ErrInvalidArgument, "no descriptor for chain %d", targetID))
		return false
	}

	log.Infof("network %d unknown to provider, adding %s", targetID, descriptor.Name)
	if err := s.provider.AddNetwork(ctx, descriptor); err != nil {
		log.Failure("session.addNetwork", err, "chain", targetID)
		return false
	}

	if err := s.provider.SwitchNetwork(ctx, targetID); err != nil {
		log.Failure("session.switchNetwork", err, "chain", targetID)
		return false
	}
	return true
}

func (s *Session) Balance(ctx context.Context) (*big.Int, error) {
	identity, ok := s.Identity()
	if !ok {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "session is not connected")
	}
	return s.provider.Balance(ctx, identity.Address)
}

func (s *Session) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if s.provider == nil {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "no wallet provider configured")
	}
	return s.provider.SuggestGasPrice(ctx)
}

// Signer returns transaction options for the active account.
func (s *Session) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	identity, ok := s.Identity()
	if !ok || !identity.SigningCapability {
		return nil, errorsmod.Wrap(types.ErrNoWalletProvider, "no signing identity")
	}
	return s.provider.Transactor(ctx, identity.Address)
}

func (s *Session) Backend() contract.Backend {
	if s.provider == nil {
		return nil
	}
	return s.provider.Backend()
}
