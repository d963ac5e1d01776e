package contract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	MethodLatestPrice = "latestPrice"
	MethodLastUpdated = "lastUpdated"
	MethodDataSource  = "dataSource"
	MethodOwner       = "owner"
	MethodUpdatePrice = "updatePrice"
	EventPriceUpdated = "PriceUpdated"
)

const commonEntries = `
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "newPrice", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
		],
		"name": "PriceUpdated",
		"type": "event"
	},
	{
		"inputs": [],
		"name": "latestPrice",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "lastUpdated",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "_newPrice", "type": "uint256"}],
		"name": "updatePrice",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}`

// MinimalABI is the interface of the label-less oracle.
const MinimalABI = `[
	{
		"inputs": [],
		"stateMutability": "nonpayable",
		"type": "constructor"
	},` + commonEntries + `
]`

// FullABI is the interface of the oracle that carries a data source label.
const FullABI = `[
	{
		"inputs": [{"internalType": "string", "name": "_dataSource", "type": "string"}],
		"stateMutability": "nonpayable",
		"type": "constructor"
	},
	{
		"inputs": [],
		"name": "dataSource",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},` + commonEntries + `
]`

func ParseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

var (
	abiOnce    sync.Once
	minimalABI *abi.ABI
	fullABI    *abi.ABI
	abiErr     error
)

// ABIFor returns the parsed interface of the given variant.
func ABIFor(variant types.Variant) (*abi.ABI, error) {
	abiOnce.Do(func() {
		if minimalABI, abiErr = ParseABI(MinimalABI); abiErr != nil {
			abiErr = fmt.Errorf("minimal ABI: %w", abiErr)
			return
		}
		if fullABI, abiErr = ParseABI(FullABI); abiErr != nil {
			abiErr = fmt.Errorf("full ABI: %w", abiErr)
		}
	})
	if abiErr != nil {
		return nil, abiErr
	}

	switch variant {
	case types.VariantMinimal:
		return minimalABI, nil
	case types.VariantFull:
		return fullABI, nil
	default:
		return nil, fmt.Errorf("no ABI for %s", variant)
	}
}

// requiredMethods lists what a variant's ABI must expose to be bound or deployed.
func requiredMethods(variant types.Variant) []string {
	methods := []string{MethodLatestPrice, MethodLastUpdated, MethodOwner, MethodUpdatePrice}
	if variant == types.VariantFull {
		methods = append(methods, MethodDataSource)
	}
	return methods
}

func checkABI(parsed *abi.ABI, variant types.Variant) error {
	for _, m := range requiredMethods(variant) {
		if _, ok := parsed.Methods[m]; !ok {
			return fmt.Errorf("%s ABI is missing method %s", variant, m)
		}
	}
	if _, ok := parsed.Events[EventPriceUpdated]; !ok {
		return fmt.Errorf("%s ABI is missing event %s", variant, EventPriceUpdated)
	}

	wantArgs := 0
	if variant == types.VariantFull {
		wantArgs = 1
	}
	if got := len(parsed.Constructor.Inputs); got != wantArgs {
		return fmt.Errorf("%s constructor takes %d arguments, want %d", variant, got, wantArgs)
	}
	return nil
}
