// Package payout moves released funds to withdrawal recipients.
package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPayoutFailed is wrapped by transfer errors where nothing moved
	ErrPayoutFailed = errors.New("payout failed")

	// ErrOutcomeUnknown is wrapped when the transfer was submitted but its result was not observed
	ErrOutcomeUnknown = errors.New("payout outcome unknown")
)

// UnconfirmedTransferError carries the hash of a submitted transfer whose result is unknown.
// It matches ErrOutcomeUnknown under errors.Is.
type UnconfirmedTransferError struct {
	TxHash string
	Err    error
}

func (e *UnconfirmedTransferError) Error() string {
	return fmt.Sprintf("%v: tx %s: %v", ErrOutcomeUnknown, e.TxHash, e.Err)
}

func (e *UnconfirmedTransferError) Unwrap() []error {
	return []error{ErrOutcomeUnknown, e.Err}
}

// IPayout transfers value out of the vault
type IPayout interface {
	// Transfer sends amount to recipient. An error wrapping ErrPayoutFailed means nothing
	// moved; an *UnconfirmedTransferError means the transfer may still land.
	Transfer(ctx context.Context, recipient common.Address, amount *big.Int) (*types.TransferReceipt, error)
}
