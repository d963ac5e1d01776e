package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/tyler-smith/go-bip39"
)

// DerivationPath returns the BIP-44 Ethereum path of the account at index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// KeyFromHex parses a hex private key with or without 0x prefix.
func KeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "private key: %v", err)
	}
	return key, nil
}

// KeyFromMnemonic derives the key of account index from a BIP-39 mnemonic.
func KeyFromMnemonic(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errorsmod.Wrap(types.ErrInvalidArgument, "mnemonic is not a valid BIP-39 phrase")
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "mnemonic: %v", err)
	}

	path, err := hdwallet.ParseDerivationPath(DerivationPath(index))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "derivation path: %v", err)
	}

	account, err := w.Derive(path, false)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "derive account %d: %v", index, err)
	}

	return w.PrivateKey(account)
}
