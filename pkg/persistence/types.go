package persistence

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// ConsumptionRecord is a ledger entry for a consumed authorization identifier.
// Once written, only Outcome and TxHash may change.
type ConsumptionRecord struct {
	// AuthorizationID is the derived identifier and the primary key
	AuthorizationID common.Hash `json:"authorizationId"`

	Signer    common.Address `json:"signer"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Nonce     *big.Int       `json:"nonce"`

	// ConsumedAt is the Unix timestamp at which the id entered the ledger
	ConsumedAt int64 `json:"consumedAt"`

	Outcome types.WithdrawalOutcome `json:"outcome"`

	// TxHash is set for onchain payouts
	TxHash string `json:"txHash,omitempty"`
}

// ConsumptionOutcome is the mutable part of a ConsumptionRecord
type ConsumptionOutcome struct {
	Outcome types.WithdrawalOutcome `json:"outcome"`
	TxHash  string                  `json:"txHash,omitempty"`
}

// VaultState is the pooled balance and bookkeeping of one vault instance.
// VaultAddress and ChainID bind the store to a single vault.
type VaultState struct {
	VaultAddress common.Address `json:"vaultAddress"`
	ChainID      *big.Int       `json:"chainId"`

	Balance        *big.Int `json:"balance"`
	TotalDeposited *big.Int `json:"totalDeposited"`
	TotalWithdrawn *big.Int `json:"totalWithdrawn"`

	DepositCount    uint64 `json:"depositCount"`
	WithdrawalCount uint64 `json:"withdrawalCount"`

	// UpdatedAt is the Unix timestamp of the last state change
	UpdatedAt int64 `json:"updatedAt"`
}

// NewVaultState returns an empty state for a vault
func NewVaultState(vaultAddress common.Address, chainID *big.Int) *VaultState {
	return &VaultState{
		VaultAddress:   vaultAddress,
		ChainID:        new(big.Int).Set(chainID),
		Balance:        new(big.Int),
		TotalDeposited: new(big.Int),
		TotalWithdrawn: new(big.Int),
	}
}

// Copy returns a deep copy of the state
func (vs *VaultState) Copy() *VaultState {
	if vs == nil {
		return nil
	}
	return &VaultState{
		VaultAddress:    vs.VaultAddress,
		ChainID:         copyBigInt(vs.ChainID),
		Balance:         copyBigInt(vs.Balance),
		TotalDeposited:  copyBigInt(vs.TotalDeposited),
		TotalWithdrawn:  copyBigInt(vs.TotalWithdrawn),
		DepositCount:    vs.DepositCount,
		WithdrawalCount: vs.WithdrawalCount,
		UpdatedAt:       vs.UpdatedAt,
	}
}

// Copy returns a deep copy of the record
func (cr *ConsumptionRecord) Copy() *ConsumptionRecord {
	if cr == nil {
		return nil
	}
	return &ConsumptionRecord{
		AuthorizationID: cr.AuthorizationID,
		Signer:          cr.Signer,
		Recipient:       cr.Recipient,
		Amount:          copyBigInt(cr.Amount),
		Nonce:           copyBigInt(cr.Nonce),
		ConsumedAt:      cr.ConsumedAt,
		Outcome:         cr.Outcome,
		TxHash:          cr.TxHash,
	}
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// SortConsumptions orders records by ConsumedAt, then AuthorizationID
func SortConsumptions(records []*ConsumptionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ConsumedAt != records[j].ConsumedAt {
			return records[i].ConsumedAt < records[j].ConsumedAt
		}
		return bytes.Compare(records[i].AuthorizationID[:], records[j].AuthorizationID[:]) < 0
	})
}
