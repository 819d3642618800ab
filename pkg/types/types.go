package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxUint256 is the largest value representable by a solidity uint256
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// WithdrawalOutcome records what happened after an authorization was consumed
type WithdrawalOutcome string

const (
	// WithdrawalOutcome_Pending is set at consumption time, before funds move
	WithdrawalOutcome_Pending WithdrawalOutcome = "pending"
	// WithdrawalOutcome_Paid means funds reached the recipient
	WithdrawalOutcome_Paid WithdrawalOutcome = "paid"
	// WithdrawalOutcome_Burned means the vault could not cover the amount; the authorization is spent
	WithdrawalOutcome_Burned WithdrawalOutcome = "burned"
	// WithdrawalOutcome_TransferFailed means the payout backend rejected the transfer; the authorization is spent
	WithdrawalOutcome_TransferFailed WithdrawalOutcome = "transfer_failed"
	// WithdrawalOutcome_Unconfirmed means a transfer was submitted but never confirmed; the debit stands
	WithdrawalOutcome_Unconfirmed WithdrawalOutcome = "unconfirmed"
)

// WithdrawalRequest is a request to release funds against an authority signature
type WithdrawalRequest struct {
	Recipient common.Address
	Amount    *big.Int
	Nonce     *big.Int
	Signature []byte
}

// DepositReceipt is returned for every accepted deposit
type DepositReceipt struct {
	ID        string
	From      common.Address
	Amount    *big.Int
	Balance   *big.Int // vault balance after the deposit
	Timestamp int64
}

// WithdrawalReceipt is returned for every successful withdrawal
type WithdrawalReceipt struct {
	AuthorizationID common.Hash
	Signer          common.Address
	Recipient       common.Address
	Amount          *big.Int
	Nonce           *big.Int
	Balance         *big.Int // vault balance after the withdrawal
	TxHash          string   // empty for non-onchain payouts
	Timestamp       int64
}

// TransferReceipt is returned by a payout backend
type TransferReceipt struct {
	Recipient common.Address
	Amount    *big.Int
	TxHash    string
}

// ParseUint256 parses a decimal or 0x-prefixed hex string into a uint256-bounded integer
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	var value *big.Int
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		value = v
	} else {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal value %q", s)
		}
		value = v
	}

	if err := ValidateUint256(value); err != nil {
		return nil, err
	}
	return value, nil
}

// ValidateUint256 checks that v is non-nil and within [0, 2^256-1]
func ValidateUint256(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("value cannot be nil")
	}
	if v.Sign() < 0 {
		return fmt.Errorf("value %s is negative", v.String())
	}
	if v.Cmp(MaxUint256) > 0 {
		return fmt.Errorf("value %s exceeds uint256", v.String())
	}
	return nil
}

// ParseAddress parses a hex address string, rejecting malformed input
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
