package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixLedger      = "vault:ledger:"
	keyVaultState        = "vault:state:main"
	keySchemaVersion     = "vault:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no prefix iteration, so consumed ids are also tracked in a set
	keySetLedger = "vault:ledger:index"

	defaultOpTimeout = 5 * time.Second

	// maxStateUpdateAttempts bounds optimistic WATCH retries on the state key
	maxStateUpdateAttempts = 64
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Several vault replicas may share one Redis. SETNX makes consumption atomic across them
// and WATCH/MULTI makes every balance change a check-and-set on the state key.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "tenant-a:" yields "tenant-a:vault:ledger:0x..."
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) ledgerKey(id common.Hash) string {
	return r.prefixKey(keyPrefixLedger + id.Hex())
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so two replicas starting together agree on one version
	if err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// ConsumeAuthorization inserts the record iff its id is absent, using SETNX.
func (r *RedisPersistence) ConsumeAuthorization(record *persistence.ConsumptionRecord) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("cannot consume nil ConsumptionRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	data, err := persistence.MarshalConsumptionRecord(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ConsumptionRecord: %w", err)
	}

	inserted, err := r.client.SetNX(ctx, r.ledgerKey(record.AuthorizationID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization: %w", err)
	}
	if !inserted {
		return false, nil
	}

	// The SETNX above is authoritative; a missing index entry only affects listing
	if err := r.client.SAdd(ctx, r.prefixKey(keySetLedger), record.AuthorizationID.Hex()).Err(); err != nil {
		r.logger.Sugar().Warnw("Failed to index consumed authorization",
			"authorization_id", record.AuthorizationID.Hex(), "error", err)
	}

	return true, nil
}

// IsAuthorizationConsumed reports whether id is in the ledger
func (r *RedisPersistence) IsAuthorizationConsumed(id common.Hash) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	n, err := r.client.Exists(ctx, r.ledgerKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check authorization: %w", err)
	}

	return n == 1, nil
}

// LoadConsumption retrieves the ledger record for id
func (r *RedisPersistence) LoadConsumption(id common.Hash) (*persistence.ConsumptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.ledgerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ConsumptionRecord: %w", err)
	}

	record, err := persistence.UnmarshalConsumptionRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ConsumptionRecord: %w", err)
	}

	return record, nil
}

// UpdateConsumptionOutcome rewrites the outcome of an existing record.
// SET XX never creates a key, so an unknown id cannot be inserted here.
func (r *RedisPersistence) UpdateConsumptionOutcome(id common.Hash, outcome persistence.ConsumptionOutcome) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	key := r.ledgerKey(id)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("authorization %s not found in ledger", id.Hex())
	}
	if err != nil {
		return fmt.Errorf("failed to read ConsumptionRecord: %w", err)
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

	ok, err := r.client.SetXX(ctx, key, updated, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update ConsumptionRecord: %w", err)
	}
	if !ok {
		return fmt.Errorf("authorization %s not found in ledger", id.Hex())
	}

	return nil
}

// ListConsumptions returns every ledger record in consumption order
func (r *RedisPersistence) ListConsumptions() ([]*persistence.ConsumptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetLedger)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list consumed authorizations: %w", err)
	}

	records := make([]*persistence.ConsumptionRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(keyPrefixLedger + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ConsumptionRecords: %w", err)
	}

	for i, val := range values {
		if val == nil {
			r.logger.Sugar().Warnw("Indexed authorization has no ledger record", "key", keys[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for ConsumptionRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalConsumptionRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal ConsumptionRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}

		records = append(records, record)
	}

	persistence.SortConsumptions(records)
	return records, nil
}

// SaveVaultState persists the vault state
func (r *RedisPersistence) SaveVaultState(state *persistence.VaultState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil VaultState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	data, err := persistence.MarshalVaultState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal VaultState: %w", err)
	}

	if err := r.client.Set(ctx, r.prefixKey(keyVaultState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save VaultState: %w", err)
	}

	return nil
}

// LoadVaultState retrieves the vault state
func (r *RedisPersistence) LoadVaultState() (*persistence.VaultState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(keyVaultState)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // First run
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load VaultState: %w", err)
	}

	state, err := persistence.UnmarshalVaultState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal VaultState: %w", err)
	}

	return state, nil
}

// UpdateVaultState runs fn inside WATCH on the state key and commits with MULTI/EXEC.
// EXEC aborts if another client wrote the key after WATCH, and the update is retried.
func (r *RedisPersistence) UpdateVaultState(fn func(state *persistence.VaultState) error) (*persistence.VaultState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	key := r.prefixKey(keyVaultState)
	for attempt := 0; attempt < maxStateUpdateAttempts; attempt++ {
		var (
			updated *persistence.VaultState
			fnErr   error
		)
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("vault state not found")
			}
			if err != nil {
				return fmt.Errorf("failed to read VaultState: %w", err)
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
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = state
			return nil
		}, key)
		if fnErr != nil {
			return nil, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Sugar().Debugw("Vault state update raced another writer, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update VaultState: %w", err)
		}
		return updated, nil
	}

	return nil, fmt.Errorf("failed to update VaultState: too many concurrent writers")
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}

