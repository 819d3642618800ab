package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorizationManager"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/payout"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config binds a vault to its identity and network
type Config struct {
	// Address is the vault identity hashed into every authorization id
	Address common.Address
	// ChainID is the network identity hashed into every authorization id
	ChainID *big.Int
}

// SecureVault holds a pooled balance and releases it only against single-use
// authority signatures.
//
// Deposits and withdrawals on one instance are serialized by a mutex. Across
// replicas sharing a store, the ledger insert and every balance change are atomic
// in the store itself, so the balance check and the debit can never interleave
// with another replica's.
type SecureVault struct {
	address common.Address
	chainID *big.Int

	registry authorizationManager.IAuthorityRegistry
	store    persistence.IVaultPersistence
	payout   payout.IPayout
	logger   *zap.Logger

	mu sync.Mutex
	// state is the last value read from or written to the store
	state *persistence.VaultState

	now func() time.Time
}

// NewSecureVault loads the vault state from store, initializing it on first run.
// A store previously bound to a different vault address or chain is refused.
func NewSecureVault(
	cfg *Config,
	registry authorizationManager.IAuthorityRegistry,
	store persistence.IVaultPersistence,
	payoutBackend payout.IPayout,
	logger *zap.Logger,
) (*SecureVault, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault config is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("vault address cannot be the zero address")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if registry == nil {
		return nil, fmt.Errorf("authority registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if payoutBackend == nil {
		return nil, fmt.Errorf("payout is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	state, err := store.LoadVaultState()
	if err != nil {
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}

	if state == nil {
		state = persistence.NewVaultState(cfg.Address, cfg.ChainID)
		state.UpdatedAt = time.Now().Unix()
		if err := store.SaveVaultState(state); err != nil {
			return nil, fmt.Errorf("failed to initialize vault state: %w", err)
		}
		logger.Sugar().Infow("Initialized new vault state",
			"vault_address", cfg.Address.Hex(),
			"chain_id", cfg.ChainID.String(),
		)
	} else {
		if state.VaultAddress != cfg.Address {
			return nil, fmt.Errorf("%w: store belongs to vault %s", ErrStateMismatch, state.VaultAddress.Hex())
		}
		if state.ChainID == nil || state.ChainID.Cmp(cfg.ChainID) != 0 {
			return nil, fmt.Errorf("%w: store belongs to chain %v", ErrStateMismatch, state.ChainID)
		}
		logger.Sugar().Infow("Restored vault state",
			"vault_address", cfg.Address.Hex(),
			"chain_id", cfg.ChainID.String(),
			"balance", state.Balance.String(),
			"withdrawal_count", state.WithdrawalCount,
		)
	}

	return &SecureVault{
		address:  cfg.Address,
		chainID:  new(big.Int).Set(cfg.ChainID),
		registry: registry,
		store:    store,
		payout:   payoutBackend,
		logger:   logger,
		state:    state,
		now:      time.Now,
	}, nil
}

// Address returns the vault identity
func (v *SecureVault) Address() common.Address {
	return v.address
}

// ChainID returns a copy of the chain identity
func (v *SecureVault) ChainID() *big.Int {
	return new(big.Int).Set(v.chainID)
}

// Balance returns the current pooled balance
func (v *SecureVault) Balance() *big.Int {
	return v.State().Balance
}

// State returns a snapshot of balance and bookkeeping as currently stored.
// Another replica may have changed it, so the store is read on every call.
func (v *SecureVault) State() *persistence.VaultState {
	v.mu.Lock()
	defer v.mu.Unlock()

	state, err := v.store.LoadVaultState()
	if err != nil || state == nil {
		v.logger.Sugar().Warnw("Failed to reload vault state, serving last known", "error", err)
		return v.state.Copy()
	}
	v.state = state
	return state.Copy()
}

// AuthorizationID derives the id the authority must sign to release amount to recipient
func (v *SecureVault) AuthorizationID(recipient common.Address, amount, nonce *big.Int) (common.Hash, error) {
	id, err := authorization.DeriveAuthorizationID(authorization.NewPayload(v.address, recipient, amount, v.chainID, nonce))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return id, nil
}

// IsConsumed reports whether id is in the consumption ledger
func (v *SecureVault) IsConsumed(id common.Hash) (bool, error) {
	return v.store.IsAuthorizationConsumed(id)
}

// GetAuthorization returns the ledger record for id, or nil if it was never consumed
func (v *SecureVault) GetAuthorization(id common.Hash) (*persistence.ConsumptionRecord, error) {
	return v.store.LoadConsumption(id)
}

// ListAuthorizations returns every consumed authorization in consumption order
func (v *SecureVault) ListAuthorizations() ([]*persistence.ConsumptionRecord, error) {
	return v.store.ListConsumptions()
}

// Deposit adds amount to the pooled balance. Any caller may deposit.
func (v *SecureVault) Deposit(_ context.Context, from common.Address, amount *big.Int) (*types.DepositReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	if err := types.ValidateUint256(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := v.store.UpdateVaultState(func(state *persistence.VaultState) error {
		newBalance := new(big.Int).Add(state.Balance, amount)
		if newBalance.Cmp(types.MaxUint256) > 0 {
			return fmt.Errorf("%w: balance would exceed uint256", ErrInvalidAmount)
		}
		state.Balance = newBalance
		state.TotalDeposited.Add(state.TotalDeposited, amount)
		state.DepositCount++
		state.UpdatedAt = v.now().Unix()
		return nil
	})
	if errors.Is(err, ErrInvalidAmount) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist deposit: %w", err)
	}
	v.state = next
	newBalance := next.Balance

	receipt := &types.DepositReceipt{
		ID:        uuid.New().String(),
		From:      from,
		Amount:    new(big.Int).Set(amount),
		Balance:   new(big.Int).Set(newBalance),
		Timestamp: next.UpdatedAt,
	}

	v.logger.Sugar().Infow("Deposit accepted",
		"receipt_id", receipt.ID,
		"from", from.Hex(),
		"amount", amount.String(),
		"balance", newBalance.String(),
	)

	return receipt, nil
}

// Withdraw releases req.Amount to req.Recipient if req.Signature is the authority's
// signature over the authorization id and the id has never been consumed.
//
// The id is consumed before funds move. Once consumed it stays consumed, even when
// the balance cannot cover the amount or the payout fails.
func (v *SecureVault) Withdraw(ctx context.Context, req *types.WithdrawalRequest) (*types.WithdrawalReceipt, error) {
	if req == nil {
		return nil, fmt.Errorf("withdrawal request is required")
	}
	// Checked before the signature so a payout to the zero address is never consumed
	if req.Recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id, err := v.AuthorizationID(req.Recipient, req.Amount, req.Nonce)
	if err != nil {
		return nil, err
	}

	signer, err := authorization.RecoverSigner(id, req.Signature)
	if err != nil {
		v.logger.Sugar().Warnw("Rejected withdrawal with malformed signature",
			"authorization_id", id.Hex(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !v.registry.IsAuthorized(signer) {
		v.logger.Sugar().Warnw("Rejected withdrawal signed by non-authority",
			"authorization_id", id.Hex(), "signer", signer.Hex())
		return nil, ErrUnauthorized
	}

	consumedAt := v.now().Unix()
	inserted, err := v.store.ConsumeAuthorization(&persistence.ConsumptionRecord{
		AuthorizationID: id,
		Signer:          signer,
		Recipient:       req.Recipient,
		Amount:          new(big.Int).Set(req.Amount),
		Nonce:           new(big.Int).Set(req.Nonce),
		ConsumedAt:      consumedAt,
		Outcome:         types.WithdrawalOutcome_Pending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization: %w", err)
	}
	if !inserted {
		v.logger.Sugar().Warnw("Rejected replayed authorization", "authorization_id", id.Hex())
		return nil, ErrAlreadyUsed
	}

	// Check and debit in one store update so no other replica can spend the same funds;
	// debiting before paying out means a crash mid-transfer never overstates the balance
	var available *big.Int
	debited, err := v.store.UpdateVaultState(func(state *persistence.VaultState) error {
		available = new(big.Int).Set(state.Balance)
		if state.Balance.Cmp(req.Amount) < 0 {
			return ErrInsufficientBalance
		}
		state.Balance.Sub(state.Balance, req.Amount)
		state.UpdatedAt = consumedAt
		return nil
	})
	if errors.Is(err, ErrInsufficientBalance) {
		v.recordOutcome(id, types.WithdrawalOutcome_Burned, "")
		v.logger.Sugar().Warnw("Authorization burned on insufficient balance",
			"authorization_id", id.Hex(),
			"amount", req.Amount.String(),
			"balance", available.String(),
		)
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		v.recordOutcome(id, types.WithdrawalOutcome_TransferFailed, "")
		return nil, fmt.Errorf("%w: failed to persist debit: %v", ErrTransferFailed, err)
	}
	v.state = debited

	transfer, err := v.payout.Transfer(ctx, req.Recipient, req.Amount)
	if errors.Is(err, payout.ErrOutcomeUnknown) {
		// The transfer may still land, so the debit stands
		var txHash string
		var unconfirmed *payout.UnconfirmedTransferError
		if errors.As(err, &unconfirmed) {
			txHash = unconfirmed.TxHash
		}
		v.countWithdrawal(id, req.Amount)
		v.recordOutcome(id, types.WithdrawalOutcome_Unconfirmed, txHash)
		v.logger.Sugar().Errorw("Payout submitted but not confirmed; balance stays debited",
			"authorization_id", id.Hex(),
			"recipient", req.Recipient.Hex(),
			"amount", req.Amount.String(),
			"tx_hash", txHash,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrTransferUnconfirmed, err)
	}
	if err != nil {
		v.restoreBalance(id, req.Amount)
		v.recordOutcome(id, types.WithdrawalOutcome_TransferFailed, "")
		v.logger.Sugar().Errorw("Payout failed after authorization was consumed",
			"authorization_id", id.Hex(),
			"recipient", req.Recipient.Hex(),
			"amount", req.Amount.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	v.countWithdrawal(id, req.Amount)
	v.recordOutcome(id, types.WithdrawalOutcome_Paid, transfer.TxHash)

	v.logger.Sugar().Infow("Withdrawal paid",
		"authorization_id", id.Hex(),
		"recipient", req.Recipient.Hex(),
		"amount", req.Amount.String(),
		"nonce", req.Nonce.String(),
		"balance", debited.Balance.String(),
		"tx_hash", transfer.TxHash,
	)

	return &types.WithdrawalReceipt{
		AuthorizationID: id,
		Signer:          signer,
		Recipient:       req.Recipient,
		Amount:          new(big.Int).Set(req.Amount),
		Nonce:           new(big.Int).Set(req.Nonce),
		Balance:         new(big.Int).Set(debited.Balance),
		TxHash:          transfer.TxHash,
		Timestamp:       consumedAt,
	}, nil
}

// restoreBalance credits back a debit whose payout definitely moved nothing
func (v *SecureVault) restoreBalance(id common.Hash, amount *big.Int) {
	restored, err := v.store.UpdateVaultState(func(state *persistence.VaultState) error {
		state.Balance.Add(state.Balance, amount)
		state.UpdatedAt = v.now().Unix()
		return nil
	})
	if err != nil {
		v.logger.Sugar().Errorw("Failed to restore balance after payout failure",
			"authorization_id", id.Hex(), "amount", amount.String(), "error", err)
		return
	}
	v.state = restored
}

// countWithdrawal bumps the withdrawal counters for a debit that stands
func (v *SecureVault) countWithdrawal(id common.Hash, amount *big.Int) {
	counted, err := v.store.UpdateVaultState(func(state *persistence.VaultState) error {
		state.TotalWithdrawn.Add(state.TotalWithdrawn, amount)
		state.WithdrawalCount++
		return nil
	})
	if err != nil {
		v.logger.Sugar().Errorw("Failed to persist withdrawal counters",
			"authorization_id", id.Hex(), "error", err)
		return
	}
	v.state = counted
}

// recordOutcome updates the ledger; failures are logged since the id is consumed either way
func (v *SecureVault) recordOutcome(id common.Hash, outcome types.WithdrawalOutcome, txHash string) {
	err := v.store.UpdateConsumptionOutcome(id, persistence.ConsumptionOutcome{
		Outcome: outcome,
		TxHash:  txHash,
	})
	if err != nil {
		v.logger.Sugar().Errorw("Failed to record withdrawal outcome",
			"authorization_id", id.Hex(), "outcome", outcome, "error", err)
	}
}

// IsVaultError reports whether err is one of the withdrawal or deposit rejections
func IsVaultError(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrAlreadyUsed, ErrInsufficientBalance,
		ErrInvalidAmount, ErrInvalidRecipient, ErrTransferFailed, ErrTransferUnconfirmed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HealthCheck reports whether the underlying store is usable
func (v *SecureVault) HealthCheck() error {
	return v.store.HealthCheck()
}
