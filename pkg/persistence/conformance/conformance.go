// Package conformance holds the behavioural test suite every IVaultPersistence
// backend must pass.
package conformance

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for a single subtest.
type Factory func(t *testing.T) persistence.IVaultPersistence

// NewRecord builds a pending record whose id is derived from seed.
func NewRecord(seed string, consumedAt int64) *persistence.ConsumptionRecord {
	return &persistence.ConsumptionRecord{
		AuthorizationID: crypto.Keccak256Hash([]byte(seed)),
		Signer:          common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Recipient:       common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Amount:          big.NewInt(1000),
		Nonce:           big.NewInt(consumedAt),
		ConsumedAt:      consumedAt,
		Outcome:         types.WithdrawalOutcome_Pending,
	}
}

// Run executes the suite against backends produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ConsumeOnce", func(t *testing.T) {
		store := newStore(t)
		record := NewRecord("consume-once", 100)

		inserted, err := store.ConsumeAuthorization(record)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.ConsumeAuthorization(record)
		require.NoError(t, err)
		assert.False(t, inserted, "second insert of the same id must report already consumed")

		consumed, err := store.IsAuthorizationConsumed(record.AuthorizationID)
		require.NoError(t, err)
		assert.True(t, consumed)
	})

	t.Run("ConsumeNil", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ConsumeAuthorization(nil)
		require.Error(t, err)
	})

	t.Run("DuplicateKeepsFirstRecord", func(t *testing.T) {
		store := newStore(t)
		first := NewRecord("duplicate", 100)
		second := NewRecord("duplicate", 200)
		second.Amount = big.NewInt(5)

		_, err := store.ConsumeAuthorization(first)
		require.NoError(t, err)
		inserted, err := store.ConsumeAuthorization(second)
		require.NoError(t, err)
		assert.False(t, inserted)

		loaded, err := store.LoadConsumption(first.AuthorizationID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, int64(100), loaded.ConsumedAt)
		assert.Equal(t, 0, loaded.Amount.Cmp(big.NewInt(1000)))
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		store := newStore(t)
		id := crypto.Keccak256Hash([]byte("missing"))

		loaded, err := store.LoadConsumption(id)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		consumed, err := store.IsAuthorizationConsumed(id)
		require.NoError(t, err)
		assert.False(t, consumed)
	})

	t.Run("LoadReturnsFields", func(t *testing.T) {
		store := newStore(t)
		record := NewRecord("fields", 42)
		record.Amount = new(big.Int).Set(types.MaxUint256)

		_, err := store.ConsumeAuthorization(record)
		require.NoError(t, err)

		loaded, err := store.LoadConsumption(record.AuthorizationID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record.AuthorizationID, loaded.AuthorizationID)
		assert.Equal(t, record.Signer, loaded.Signer)
		assert.Equal(t, record.Recipient, loaded.Recipient)
		assert.Equal(t, 0, record.Amount.Cmp(loaded.Amount))
		assert.Equal(t, 0, record.Nonce.Cmp(loaded.Nonce))
		assert.Equal(t, record.ConsumedAt, loaded.ConsumedAt)
		assert.Equal(t, types.WithdrawalOutcome_Pending, loaded.Outcome)
	})

	t.Run("UpdateOutcome", func(t *testing.T) {
		store := newStore(t)
		record := NewRecord("outcome", 1)
		_, err := store.ConsumeAuthorization(record)
		require.NoError(t, err)

		err = store.UpdateConsumptionOutcome(record.AuthorizationID, persistence.ConsumptionOutcome{
			Outcome: types.WithdrawalOutcome_Paid,
			TxHash:  "0xabc",
		})
		require.NoError(t, err)

		loaded, err := store.LoadConsumption(record.AuthorizationID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, types.WithdrawalOutcome_Paid, loaded.Outcome)
		assert.Equal(t, "0xabc", loaded.TxHash)

		consumed, err := store.IsAuthorizationConsumed(record.AuthorizationID)
		require.NoError(t, err)
		assert.True(t, consumed, "outcome changes never remove an id")
	})

	t.Run("UpdateOutcomeMissing", func(t *testing.T) {
		store := newStore(t)
		err := store.UpdateConsumptionOutcome(crypto.Keccak256Hash([]byte("nope")), persistence.ConsumptionOutcome{
			Outcome: types.WithdrawalOutcome_Burned,
		})
		require.Error(t, err)

		consumed, err := store.IsAuthorizationConsumed(crypto.Keccak256Hash([]byte("nope")))
		require.NoError(t, err)
		assert.False(t, consumed, "updating an unknown id must not insert it")
	})

	t.Run("ListSorted", func(t *testing.T) {
		store := newStore(t)
		for i, ts := range []int64{300, 100, 200} {
			_, err := store.ConsumeAuthorization(NewRecord(fmt.Sprintf("list-%d", i), ts))
			require.NoError(t, err)
		}

		records, err := store.ListConsumptions()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, int64(100), records[0].ConsumedAt)
		assert.Equal(t, int64(200), records[1].ConsumedAt)
		assert.Equal(t, int64(300), records[2].ConsumedAt)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		store := newStore(t)
		records, err := store.ListConsumptions()
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("VaultState", func(t *testing.T) {
		store := newStore(t)

		loaded, err := store.LoadVaultState()
		require.NoError(t, err)
		assert.Nil(t, loaded, "first run has no state")

		state := persistence.NewVaultState(common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), big.NewInt(31337))
		state.Balance.SetInt64(3)
		state.TotalDeposited.SetInt64(5)
		state.TotalWithdrawn.SetInt64(2)
		state.DepositCount = 1
		state.WithdrawalCount = 1
		require.NoError(t, store.SaveVaultState(state))

		loaded, err = store.LoadVaultState()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, state.VaultAddress, loaded.VaultAddress)
		assert.Equal(t, 0, state.ChainID.Cmp(loaded.ChainID))
		assert.Equal(t, 0, state.Balance.Cmp(loaded.Balance))
		assert.Equal(t, 0, state.TotalDeposited.Cmp(loaded.TotalDeposited))
		assert.Equal(t, 0, state.TotalWithdrawn.Cmp(loaded.TotalWithdrawn))
		assert.Equal(t, uint64(1), loaded.DepositCount)

		// Overwrite
		state.Balance.SetInt64(0)
		require.NoError(t, store.SaveVaultState(state))
		loaded, err = store.LoadVaultState()
		require.NoError(t, err)
		assert.Equal(t, int64(0), loaded.Balance.Int64())

		require.Error(t, store.SaveVaultState(nil))
	})

	t.Run("UpdateVaultStateMissing", func(t *testing.T) {
		store := newStore(t)
		called := false
		_, err := store.UpdateVaultState(func(state *persistence.VaultState) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("UpdateVaultStateAbort", func(t *testing.T) {
		store := newStore(t)
		state := persistence.NewVaultState(common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), big.NewInt(31337))
		state.Balance.SetInt64(1)
		require.NoError(t, store.SaveVaultState(state))

		errAbort := errors.New("abort")
		_, err := store.UpdateVaultState(func(state *persistence.VaultState) error {
			state.Balance.SetInt64(100)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		loaded, err := store.LoadVaultState()
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Balance.Int64(), "aborted update must not be written")
	})

	t.Run("ConcurrentUpdateVaultState", func(t *testing.T) {
		store := newStore(t)
		state := persistence.NewVaultState(common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), big.NewInt(31337))
		require.NoError(t, store.SaveVaultState(state))

		const workers = 16
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateVaultState(func(state *persistence.VaultState) error {
					state.Balance.Add(state.Balance, big.NewInt(1))
					state.DepositCount++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		loaded, err := store.LoadVaultState()
		require.NoError(t, err)
		assert.Equal(t, int64(workers), loaded.Balance.Int64(), "no increment may be lost")
		assert.Equal(t, uint64(workers), loaded.DepositCount)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		store := newStore(t)
		record := NewRecord("race", 7)

		const workers = 16
		var wg sync.WaitGroup
		var winners atomic.Int32
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inserted, err := store.ConsumeAuthorization(record)
				assert.NoError(t, err)
				if inserted {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load(), "exactly one concurrent consume may win")
	})

	t.Run("Close", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.HealthCheck())
		require.NoError(t, store.Close())
		require.NoError(t, store.Close(), "Close must be idempotent")

		_, err := store.ConsumeAuthorization(NewRecord("closed", 1))
		assert.Error(t, err)
		_, err = store.IsAuthorizationConsumed(common.Hash{})
		assert.Error(t, err)
		_, err = store.LoadVaultState()
		assert.Error(t, err)
		assert.Error(t, store.HealthCheck())
	})
}
