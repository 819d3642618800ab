package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixLedger      = "ledger:"
	keyVaultState        = "vaultstate:main"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"

	// maxConsumeAttempts bounds retries when concurrent consumes collide on commit
	maxConsumeAttempts = 8

	// maxStateUpdateAttempts is higher since every withdrawal and deposit touches the same key
	maxStateUpdateAttempts = 64
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled so a
// consumed id is on disk before the payout is attempted.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLoggerAdapter(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ledgerKey(id common.Hash) []byte {
	return []byte(keyPrefixLedger + id.Hex())
}

// readValue copies the value at key, returning nil when the key is absent
func readValue(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// ConsumeAuthorization inserts the record iff its id is absent.
// The read and the write share one transaction; if a concurrent transaction
// commits the same key first, badger reports ErrConflict and the retry observes the key.
func (b *BadgerPersistence) ConsumeAuthorization(record *persistence.ConsumptionRecord) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("cannot consume nil ConsumptionRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalConsumptionRecord(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ConsumptionRecord: %w", err)
	}
	key := ledgerKey(record.AuthorizationID)

	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		inserted := false
		err = b.db.Update(func(txn *badgerdb.Txn) error {
			existing, err := readValue(txn, key)
			if err != nil {
				return err
			}
			if existing != nil {
				return nil
			}
			inserted = true
			return txn.Set(key, data)
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			b.logger.Sugar().Debugw("Ledger insert conflicted, retrying",
				"authorization_id", record.AuthorizationID.Hex(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to consume authorization: %w", err)
		}
		return inserted, nil
	}

	return false, fmt.Errorf("failed to consume authorization %s: too many transaction conflicts", record.AuthorizationID.Hex())
}

// IsAuthorizationConsumed reports whether id is in the ledger
func (b *BadgerPersistence) IsAuthorizationConsumed(id common.Hash) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	consumed := false
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(ledgerKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check authorization: %w", err)
	}

	return consumed, nil
}

// LoadConsumption retrieves the ledger record for id
func (b *BadgerPersistence) LoadConsumption(id common.Hash) (*persistence.ConsumptionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = readValue(txn, ledgerKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ConsumptionRecord: %w", err)
	}

	if data == nil {
		return nil, nil // Not found
	}

	record, err := persistence.UnmarshalConsumptionRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ConsumptionRecord: %w", err)
	}

	return record, nil
}

// UpdateConsumptionOutcome rewrites the outcome of an existing ledger record
func (b *BadgerPersistence) UpdateConsumptionOutcome(id common.Hash, outcome persistence.ConsumptionOutcome) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	key := ledgerKey(id)
	return b.db.Update(func(txn *badgerdb.Txn) error {
		data, err := readValue(txn, key)
		if err != nil {
			return fmt.Errorf("failed to read ConsumptionRecord: %w", err)
		}
		if data == nil {
			return fmt.Errorf("authorization %s not found in ledger", id.Hex())
		}

		record, err := persistence.UnmarshalConsumptionRecord(data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal ConsumptionRecord: %w", err)
		}
		record.Outcome = outcome.Outcome
		record.TxHash = outcome.TxHash

		updated, err := persistence.MarshalConsumptionRecord(record)
		if err != nil {
			return fmt.Errorf("failed to marshal ConsumptionRecord: %w", err)
		}
		return txn.Set(key, updated)
	})
}

// ListConsumptions returns every ledger record in consumption order
func (b *BadgerPersistence) ListConsumptions() ([]*persistence.ConsumptionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	records := make([]*persistence.ConsumptionRecord, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixLedger)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalConsumptionRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal ConsumptionRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			records = append(records, record)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ConsumptionRecords: %w", err)
	}

	persistence.SortConsumptions(records)
	return records, nil
}

// SaveVaultState persists the vault state
func (b *BadgerPersistence) SaveVaultState(state *persistence.VaultState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil VaultState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalVaultState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal VaultState: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyVaultState), data)
	})
}

// LoadVaultState retrieves the vault state
func (b *BadgerPersistence) LoadVaultState() (*persistence.VaultState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = readValue(txn, []byte(keyVaultState))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load VaultState: %w", err)
	}

	if data == nil {
		return nil, nil // First run
	}

	state, err := persistence.UnmarshalVaultState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal VaultState: %w", err)
	}

	return state, nil
}

// UpdateVaultState reads, modifies and writes the state in one transaction.
// A concurrent commit to the state key aborts ours with ErrConflict and fn reruns on the fresh value.
func (b *BadgerPersistence) UpdateVaultState(fn func(state *persistence.VaultState) error) (*persistence.VaultState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	key := []byte(keyVaultState)
	for attempt := 0; attempt < maxStateUpdateAttempts; attempt++ {
		var (
			updated *persistence.VaultState
			fnErr   error
		)
		err := b.db.Update(func(txn *badgerdb.Txn) error {
			data, err := readValue(txn, key)
			if err != nil {
				return fmt.Errorf("failed to read VaultState: %w", err)
			}
			if data == nil {
				return fmt.Errorf("vault state not found")
			}
			state, err := persistence.UnmarshalVaultState(data)
			if err != nil {
				return fmt.Errorf("failed to unmarshal VaultState: %w", err)
			}
			if fnErr = fn(state); fnErr != nil {
				return fnErr
			}
			next, err := persistence.MarshalVaultState(state)
			if err != nil {
				return fmt.Errorf("failed to marshal VaultState: %w", err)
			}
			updated = state
			return txn.Set(key, next)
		})
		if fnErr != nil {
			return nil, fnErr
		}
		if errors.Is(err, badgerdb.ErrConflict) {
			b.logger.Sugar().Debugw("Vault state update conflicted, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update VaultState: %w", err)
		}
		return updated, nil
	}

	return nil, fmt.Errorf("failed to update VaultState: too many transaction conflicts")
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
