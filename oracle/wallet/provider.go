package wallet

import (
	"context"
	"math/big"

	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Provider is the signing environment the session acts through.
//
// SwitchNetwork fails with types.ErrUnrecognizedChain when the network has not been added.
// Account notifications carry the full account list; an empty list means the provider locked.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	Network(ctx context.Context) (types.Network, error)
	SwitchNetwork(ctx context.Context, chainID uint64) error
	AddNetwork(ctx context.Context, network types.NetworkDescriptor) error

	Backend() contract.Backend
	Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error)

	SubscribeAccounts(ch chan<- []common.Address) event.Subscription
	SubscribeNetwork(ch chan<- uint64) event.Subscription
}
