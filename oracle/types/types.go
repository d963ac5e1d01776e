package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// MinSyncInterval is the shortest auto-update period accepted, in seconds.
	MinSyncInterval = 5
	// DefaultSyncInterval is used when no interval is configured, in seconds.
	DefaultSyncInterval = 30
	// PriceDecimals is the number of implied decimals of an on-chain price.
	PriceDecimals = 2
)

// Variant selects which oracle contract shape a deployment or binding uses.
type Variant uint8

const (
	VariantMinimal Variant = iota + 1
	VariantFull
)

func (v Variant) String() string {
	switch v {
	case VariantMinimal:
		return "minimal"
	case VariantFull:
		return "full"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

func (v Variant) Valid() bool {
	return v == VariantMinimal || v == VariantFull
}

// GasLimit returns the gas ceiling used for the contract-creation transaction.
func (v Variant) GasLimit() uint64 {
	switch v {
	case VariantMinimal:
		return 500_000
	case VariantFull:
		return 2_000_000
	default:
		return 0
	}
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "simple":
		return VariantMinimal, nil
	case "full", "advanced":
		return VariantFull, nil
	default:
		return 0, errorsmod.Wrapf(ErrInvalidArgument, "unknown oracle variant %q", s)
	}
}

// NetworkDescriptor is the information a provider needs to register a network.
type NetworkDescriptor struct {
	ChainID        uint64 `toml:"id" json:"chainId"`
	Name           string `toml:"name" json:"name"`
	RPCEndpoint    string `toml:"rpc" json:"rpcEndpoint"`
	CurrencySymbol string `toml:"currency" json:"currencySymbol"`
	Decimals       uint8  `toml:"decimals" json:"decimals"`
}

var SomniaTestnet = NetworkDescriptor{
	ChainID:        50312,
	Name:           "Somnia Testnet",
	RPCEndpoint:    "https://dream-rpc.somnia.network/",
	CurrencySymbol: "ETH",
	Decimals:       18,
}

func (n NetworkDescriptor) Validate() error {
	if n.ChainID == 0 {
		return errorsmod.Wrap(ErrInvalidArgument, "network chain id is required")
	}
	if n.Name == "" {
		return errorsmod.Wrapf(ErrInvalidArgument, "network %d: name is required", n.ChainID)
	}
	if n.RPCEndpoint == "" {
		return errorsmod.Wrapf(ErrInvalidArgument, "network %d: rpc endpoint is required", n.ChainID)
	}
	if n.CurrencySymbol == "" {
		return errorsmod.Wrapf(ErrInvalidArgument, "network %d: currency symbol is required", n.ChainID)
	}
	if n.Decimals != 18 {
		return errorsmod.Wrapf(ErrInvalidArgument, "network %d: native currency must have 18 decimals, got %d", n.ChainID, n.Decimals)
	}
	return nil
}

// Network is the active network as reported by the provider.
type Network struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// ChainIdentity is the account and network the session currently acts as.
type ChainIdentity struct {
	Address           common.Address `json:"address"`
	NetworkID         uint64         `json:"networkId"`
	SigningCapability bool           `json:"signingCapability"`
}

func (c ChainIdentity) Validate() error {
	if c.SigningCapability && c.Address == (common.Address{}) {
		return errorsmod.Wrap(ErrInvalidArgument, "signing identity without an address")
	}
	return nil
}

// DeployedOracle is an oracle contract produced by a successful deployment or attached by address.
type DeployedOracle struct {
	Address         common.Address `json:"address"`
	Variant         Variant        `json:"variant"`
	DataSourceLabel string         `json:"dataSourceLabel,omitempty"`
	NetworkID       uint64         `json:"networkId"`
	TxHash          common.Hash    `json:"txHash,omitempty"`
	BlockNumber     uint64         `json:"blockNumber,omitempty"`
	DeployedAt      time.Time      `json:"deployedAt,omitempty"`
}

// Snapshot is the cached copy of an oracle's canonical on-chain fields.
type Snapshot struct {
	LatestPrice *big.Int       `json:"latestPrice"`
	LastUpdated uint64         `json:"lastUpdated"`
	DataSource  string         `json:"dataSource"`
	Owner       common.Address `json:"owner"`
}

func (s Snapshot) Equal(other Snapshot) bool {
	if (s.LatestPrice == nil) != (other.LatestPrice == nil) {
		return false
	}
	if s.LatestPrice != nil && s.LatestPrice.Cmp(other.LatestPrice) != 0 {
		return false
	}
	return s.LastUpdated == other.LastUpdated && s.DataSource == other.DataSource && s.Owner == other.Owner
}

// FormatPrice renders the fixed-point price with its implied decimals, e.g. 1234568 -> "12345.68".
func (s Snapshot) FormatPrice() string {
	return FormatPrice(s.LatestPrice)
}

func FormatPrice(price *big.Int) string {
	if price == nil {
		return "0.00"
	}
	unit := big.NewInt(100)
	whole, frac := new(big.Int).QuoRem(price, unit, new(big.Int))
	return fmt.Sprintf("%s.%02d", whole.String(), frac.Int64())
}

func (s Snapshot) UpdatedAt() time.Time {
	return time.Unix(int64(s.LastUpdated), 0).UTC()
}

// SyncJobState describes the sync job bound to the current oracle.
type SyncJobState struct {
	Running         bool      `json:"running"`
	IntervalSeconds uint64    `json:"intervalSeconds"`
	SourceEndpoint  string    `json:"sourceEndpoint"`
	LastError       string    `json:"lastError,omitempty"`
	LastRun         time.Time `json:"lastRun,omitempty"`
	Runs            uint64    `json:"runs"`
	Failures        uint64    `json:"failures"`
	Skipped         uint64    `json:"skipped"`
}

// TxHandle describes a confirmed price write.
type TxHandle struct {
	Hash        common.Hash `json:"hash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	Price       *big.Int    `json:"price,omitempty"`
	Timestamp   uint64      `json:"timestamp,omitempty"`
}

// ResetReason tells session listeners why dependent state must be dropped.
type ResetReason uint8

const (
	ResetAccountChanged ResetReason = iota + 1
	ResetNetworkChanged
	ResetDisconnected
)

func (r ResetReason) String() string {
	switch r {
	case ResetAccountChanged:
		return "account changed"
	case ResetNetworkChanged:
		return "network changed"
	case ResetDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type ActivityKind string

const (
	ActivityInfo    ActivityKind = "info"
	ActivitySuccess ActivityKind = "success"
	ActivityWarning ActivityKind = "warning"
	ActivityError   ActivityKind = "error"
)

// Activity is one operator-facing record of what the daemon did.
type Activity struct {
	Time    time.Time    `json:"time"`
	Kind    ActivityKind `json:"kind"`
	Message string       `json:"message"`
	Error   string       `json:"error,omitempty"`
}
