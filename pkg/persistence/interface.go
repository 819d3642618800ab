package persistence

import "github.com/ethereum/go-ethereum/common"

// IVaultPersistence persists the vault's consumption ledger and pooled balance.
// All implementations must be thread-safe.
//
// The interface supports:
// - Consumption ledger (atomic insert-if-absent, lookup, outcome tracking, listing)
// - Vault state (balance and counters)
// - Lifecycle management (close, health check)
type IVaultPersistence interface {
	// Consumption Ledger

	// ConsumeAuthorization inserts the record iff its AuthorizationID is absent.
	// Returns true when this call inserted the record, false when the id was already consumed.
	// The check and the insert are a single atomic step.
	ConsumeAuthorization(record *ConsumptionRecord) (bool, error)

	// IsAuthorizationConsumed reports whether the id is present in the ledger.
	IsAuthorizationConsumed(id common.Hash) (bool, error)

	// LoadConsumption returns the record for id.
	// Returns nil if the id was never consumed, error only on storage failure.
	LoadConsumption(id common.Hash) (*ConsumptionRecord, error)

	// UpdateConsumptionOutcome records the outcome of a consumed authorization.
	// Returns an error if the id is not in the ledger; ledger membership never changes.
	UpdateConsumptionOutcome(id common.Hash, outcome ConsumptionOutcome) error

	// ListConsumptions returns all records sorted by ConsumedAt, then AuthorizationID.
	// Returns empty slice if the ledger is empty.
	ListConsumptions() ([]*ConsumptionRecord, error)

	// Vault State

	// SaveVaultState persists the vault state, overwriting any previous state.
	SaveVaultState(state *VaultState) error

	// LoadVaultState retrieves the vault state.
	// Returns nil state if none exists (first run), error only on storage failure.
	LoadVaultState() (*VaultState, error)

	// UpdateVaultState applies fn to the current state as one atomic read-modify-write
	// and returns the stored result. fn may be invoked more than once on backends that
	// retry on conflict. Nothing is written if fn returns an error, which is returned as is.
	// Returns an error if no state has been saved yet.
	UpdateVaultState(fn func(state *VaultState) error) (*VaultState, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
