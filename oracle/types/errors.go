package types

import (
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error codespace of the oracle orchestrator.
const Codespace = "oracle"

var (
	ErrNoWalletProvider   = errorsmod.Register(Codespace, 2, "no wallet provider")
	ErrInsufficientFunds  = errorsmod.Register(Codespace, 3, "insufficient funds")
	ErrInvalidArgument    = errorsmod.Register(Codespace, 4, "invalid argument")
	ErrRemoteCallFailed   = errorsmod.Register(Codespace, 5, "remote call failed")
	ErrRemoteWriteFailed  = errorsmod.Register(Codespace, 6, "remote write failed")
	ErrSourceUnreachable  = errorsmod.Register(Codespace, 7, "price source unreachable")
	ErrMalformedResponse  = errorsmod.Register(Codespace, 8, "malformed price response")
	ErrSyncFailed         = errorsmod.Register(Codespace, 9, "sync failed")
	ErrUnrecognizedChain  = errorsmod.Register(Codespace, 10, "unrecognized chain")
	ErrSessionInvalidated = errorsmod.Register(Codespace, 11, "session invalidated")
	ErrSyncBusy           = errorsmod.Register(Codespace, 12, "sync already in progress")
	ErrNoOracle           = errorsmod.Register(Codespace, 13, "no oracle bound")
)

// SyncError is a failed sync run. It matches ErrSyncFailed and unwraps to the cause.
type SyncError struct {
	Stage string
	Err   error
}

func NewSyncError(stage string, err error) *SyncError {
	return &SyncError{Stage: stage, Err: err}
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSyncFailed.Error(), e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Cause lets errorsmod.ABCIInfo report the code of the underlying failure.
func (e *SyncError) Cause() error {
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSyncFailed
}

// IsSessionInvalidated reports whether err was caused by a session reset or disconnect.
func IsSessionInvalidated(err error) bool {
	return errors.Is(err, ErrSessionInvalidated)
}
