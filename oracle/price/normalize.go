package price

import (
	"math/big"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/shopspring/decimal"
)

const maxPriceBits = 256

// Normalize converts a decimal price literal into the on-chain fixed-point integer:
// the value is multiplied by 100 and rounded half-up, e.g. "12345.678" -> 1234568.
// The literal is never parsed as a float.
func Normalize(raw string) (*big.Int, error) {
	literal := strings.TrimSpace(raw)
	if literal == "" {
		return nil, errorsmod.Wrap(types.ErrMalformedResponse, "empty price value")
	}

	d, err := decimal.NewFromString(literal)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrMalformedResponse, "price %q is not a decimal number", literal)
	}

	if d.IsNegative() {
		return nil, errorsmod.Wrapf(types.ErrMalformedResponse, "price %q is negative", literal)
	}

	scaled := d.Shift(types.PriceDecimals).Round(0).BigInt()
	if scaled.BitLen() > maxPriceBits {
		return nil, errorsmod.Wrapf(types.ErrMalformedResponse, "price %q does not fit in uint256", literal)
	}

	return scaled, nil
}
