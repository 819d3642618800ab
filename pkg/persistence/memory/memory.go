package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryPersistence is an in-memory implementation of IVaultPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Consumption ledger: authorization id -> record
	ledger map[common.Hash]*persistence.ConsumptionRecord

	// Vault state, nil until first save
	vaultState *persistence.VaultState

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - THE CONSUMPTION LEDGER WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set VAULT_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		ledger: make(map[common.Hash]*persistence.ConsumptionRecord),
	}
}

// ConsumeAuthorization inserts the record iff its id is not yet in the ledger.
func (m *MemoryPersistence) ConsumeAuthorization(record *persistence.ConsumptionRecord) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("cannot consume nil ConsumptionRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	if _, exists := m.ledger[record.AuthorizationID]; exists {
		return false, nil
	}

	m.ledger[record.AuthorizationID] = record.Copy()
	return true, nil
}

// IsAuthorizationConsumed reports whether id is in the ledger.
func (m *MemoryPersistence) IsAuthorizationConsumed(id common.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	_, exists := m.ledger[id]
	return exists, nil
}

// LoadConsumption retrieves the ledger record for id.
func (m *MemoryPersistence) LoadConsumption(id common.Hash) (*persistence.ConsumptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	record, exists := m.ledger[id]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return record.Copy(), nil
}

// UpdateConsumptionOutcome sets the outcome of an existing ledger record.
func (m *MemoryPersistence) UpdateConsumptionOutcome(id common.Hash, outcome persistence.ConsumptionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	record, exists := m.ledger[id]
	if !exists {
		return fmt.Errorf("authorization %s not found in ledger", id.Hex())
	}

	record.Outcome = outcome.Outcome
	record.TxHash = outcome.TxHash
	return nil
}

// ListConsumptions returns all ledger records in consumption order.
func (m *MemoryPersistence) ListConsumptions() ([]*persistence.ConsumptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*persistence.ConsumptionRecord, 0, len(m.ledger))
	for _, record := range m.ledger {
		result = append(result, record.Copy())
	}
	persistence.SortConsumptions(result)

	return result, nil
}

// SaveVaultState persists the vault state.
func (m *MemoryPersistence) SaveVaultState(state *persistence.VaultState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil VaultState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.vaultState = state.Copy()
	return nil
}

// LoadVaultState retrieves the vault state.
func (m *MemoryPersistence) LoadVaultState() (*persistence.VaultState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	// nil on first run
	return m.vaultState.Copy(), nil
}

// UpdateVaultState applies fn to a copy of the state under the write lock.
func (m *MemoryPersistence) UpdateVaultState(fn func(state *persistence.VaultState) error) (*persistence.VaultState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	if m.vaultState == nil {
		return nil, fmt.Errorf("vault state not found")
	}

	next := m.vaultState.Copy()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.vaultState = next
	return next.Copy(), nil
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
