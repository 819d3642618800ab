package vault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorizationManager"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/payout"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	authorityKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	intruderKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	testVaultAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testRecipient    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testDepositor    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	testChainID      = big.NewInt(31337)
)

type testHarness struct {
	vault     *SecureVault
	store     *memory.MemoryPersistence
	payout    *payout.InMemoryPayout
	authority *ecdsa.PrivateKey
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	authority, err := crypto.HexToECDSA(authorityKeyHex)
	require.NoError(t, err)

	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(authority.PublicKey))
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	p := payout.NewInMemoryPayout()

	v, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, store, p, zaptest.NewLogger(t))
	require.NoError(t, err)

	return &testHarness{vault: v, store: store, payout: p, authority: authority}
}

// sign produces the authority signature over the id for this vault and chain
func (h *testHarness) sign(t *testing.T, recipient common.Address, amount, nonce int64) []byte {
	t.Helper()
	return signWith(t, h.authority, testVaultAddress, recipient, big.NewInt(amount), testChainID, big.NewInt(nonce))
}

func signWith(t *testing.T, key *ecdsa.PrivateKey, vault, recipient common.Address, amount, chainID, nonce *big.Int) []byte {
	t.Helper()
	id, err := authorization.DeriveAuthorizationID(authorization.NewPayload(vault, recipient, amount, chainID, nonce))
	require.NoError(t, err)
	sig, err := authorization.SignAuthorizationID(id, key)
	require.NoError(t, err)
	return sig
}

func withdrawal(recipient common.Address, amount, nonce int64, sig []byte) *types.WithdrawalRequest {
	return &types.WithdrawalRequest{
		Recipient: recipient,
		Amount:    big.NewInt(amount),
		Nonce:     big.NewInt(nonce),
		Signature: sig,
	}
}

func (h *testHarness) fund(t *testing.T, amount int64) {
	t.Helper()
	_, err := h.vault.Deposit(context.Background(), testDepositor, big.NewInt(amount))
	require.NoError(t, err)
}

func TestNewSecureVault_Validation(t *testing.T) {
	am, err := authorizationManager.NewAuthorizationManager(common.HexToAddress("0x1"))
	require.NoError(t, err)
	store := memory.NewMemoryPersistence()
	p := payout.NewInMemoryPayout()
	logger := zaptest.NewLogger(t)

	_, err = NewSecureVault(nil, am, store, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{ChainID: testChainID}, am, store, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress}, am, store, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: big.NewInt(0)}, am, store, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, nil, store, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, nil, p, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, store, nil, logger)
	assert.Error(t, err)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, store, p, nil)
	assert.Error(t, err)
}

func TestSecureVault_StartsEmpty(t *testing.T) {
	h := newTestHarness(t)

	assert.Equal(t, int64(0), h.vault.Balance().Int64())
	assert.Equal(t, testVaultAddress, h.vault.Address())
	assert.Equal(t, testChainID.Int64(), h.vault.ChainID().Int64())

	records, err := h.vault.ListAuthorizations()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeposit_Additive(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	r1, err := h.vault.Deposit(ctx, testDepositor, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), r1.Balance.Int64())
	assert.NotEmpty(t, r1.ID)

	r2, err := h.vault.Deposit(ctx, testRecipient, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, int64(12), r2.Balance.Int64())
	assert.NotEqual(t, r1.ID, r2.ID)

	assert.Equal(t, int64(12), h.vault.Balance().Int64())

	state := h.vault.State()
	assert.Equal(t, uint64(2), state.DepositCount)
	assert.Equal(t, int64(12), state.TotalDeposited.Int64())
}

func TestDeposit_InvalidAmount(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.vault.Deposit(ctx, testDepositor, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.vault.Deposit(ctx, testDepositor, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.vault.Deposit(ctx, testDepositor, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	tooLarge := new(big.Int).Add(types.MaxUint256, big.NewInt(1))
	_, err = h.vault.Deposit(ctx, testDepositor, tooLarge)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, int64(0), h.vault.Balance().Int64())
}

func TestDeposit_BalanceOverflow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.vault.Deposit(ctx, testDepositor, types.MaxUint256)
	require.NoError(t, err)

	_, err = h.vault.Deposit(ctx, testDepositor, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, 0, h.vault.Balance().Cmp(types.MaxUint256))
}

func TestDeposit_DoesNotAliasCallerAmount(t *testing.T) {
	h := newTestHarness(t)

	amount := big.NewInt(10)
	_, err := h.vault.Deposit(context.Background(), testDepositor, amount)
	require.NoError(t, err)

	amount.SetInt64(1_000_000)
	assert.Equal(t, int64(10), h.vault.Balance().Int64())
}

func TestWithdraw_FundTwoWithdrawOne(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 2)

	sig := h.sign(t, testRecipient, 1, 1)

	receipt, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 1, 1, sig))
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Balance.Int64())
	assert.Equal(t, crypto.PubkeyToAddress(h.authority.PublicKey), receipt.Signer)
	assert.Equal(t, int64(1), h.payout.BalanceOf(testRecipient).Int64())
	assert.Equal(t, int64(1), h.vault.Balance().Int64())

	expectedID, err := h.vault.AuthorizationID(testRecipient, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, expectedID, receipt.AuthorizationID)

	// replaying the same signature is rejected even though funds remain
	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 1, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, int64(1), h.vault.Balance().Int64())

	// the same signature with a different amount derives a different id
	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 2, 1, sig))
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int64(1), h.payout.BalanceOf(testRecipient).Int64())
	assert.Equal(t, int64(1), h.vault.Balance().Int64())
}

func TestWithdraw_RecordsLedgerEntry(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 10)

	receipt, err := h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 4, 9, h.sign(t, testRecipient, 4, 9)))
	require.NoError(t, err)

	consumed, err := h.vault.IsConsumed(receipt.AuthorizationID)
	require.NoError(t, err)
	assert.True(t, consumed)

	record, err := h.vault.GetAuthorization(receipt.AuthorizationID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.WithdrawalOutcome_Paid, record.Outcome)
	assert.Equal(t, testRecipient, record.Recipient)
	assert.Equal(t, int64(4), record.Amount.Int64())
	assert.Equal(t, int64(9), record.Nonce.Int64())

	state := h.vault.State()
	assert.Equal(t, uint64(1), state.WithdrawalCount)
	assert.Equal(t, int64(4), state.TotalWithdrawn.Int64())
	assert.Equal(t, int64(6), state.Balance.Int64())
}

func TestWithdraw_DistinctNoncesAreIndependent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 10)

	for nonce := int64(1); nonce <= 3; nonce++ {
		_, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 2, nonce, h.sign(t, testRecipient, 2, nonce)))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(4), h.vault.Balance().Int64())
	assert.Equal(t, int64(6), h.payout.BalanceOf(testRecipient).Int64())

	records, err := h.vault.ListAuthorizations()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestWithdraw_TamperedFieldsAreUnauthorized(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 100)

	sig := h.sign(t, testRecipient, 5, 1)
	other := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	tests := []struct {
		name string
		req  *types.WithdrawalRequest
	}{
		{"amount", withdrawal(testRecipient, 6, 1, sig)},
		{"recipient", withdrawal(other, 5, 1, sig)},
		{"nonce", withdrawal(testRecipient, 5, 2, sig)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.vault.Withdraw(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	assert.Equal(t, int64(100), h.vault.Balance().Int64())

	records, err := h.vault.ListAuthorizations()
	require.NoError(t, err)
	assert.Empty(t, records, "rejected signatures must not consume anything")

	// the untampered request still works afterwards
	_, err = h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 5, 1, sig))
	require.NoError(t, err)
}

func TestWithdraw_NotPortableAcrossChainsOrVaults(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 100)

	otherChain := signWith(t, h.authority, testVaultAddress, testRecipient, big.NewInt(1), big.NewInt(1), big.NewInt(1))
	_, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 1, 1, otherChain))
	assert.ErrorIs(t, err, ErrUnauthorized)

	otherVault := signWith(t, h.authority, common.HexToAddress("0xdead"), testRecipient, big.NewInt(1), testChainID, big.NewInt(1))
	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 1, 1, otherVault))
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int64(100), h.vault.Balance().Int64())
}

func TestWithdraw_NonAuthoritySigner(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 100)

	intruder, err := crypto.HexToECDSA(intruderKeyHex)
	require.NoError(t, err)

	sig := signWith(t, intruder, testVaultAddress, testRecipient, big.NewInt(1), testChainID, big.NewInt(1))
	_, err = h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 1, 1, sig))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// the id stays available to the real authority
	_, err = h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 1, 1, h.sign(t, testRecipient, 1, 1)))
	require.NoError(t, err)
}

func TestWithdraw_MalformedSignature(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 100)

	valid := h.sign(t, testRecipient, 1, 1)
	badV := append([]byte(nil), valid...)
	badV[64] = 5

	tests := []struct {
		name string
		sig  []byte
	}{
		{"nil", nil},
		{"short", valid[:64]},
		{"long", append(append([]byte(nil), valid...), 0x00)},
		{"bad recovery id", badV},
		{"zeros", make([]byte, authorization.SignatureLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 1, 1, tt.sig))
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestWithdraw_InvalidRecipient(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 10)

	sig := h.sign(t, common.Address{}, 1, 1)
	_, err := h.vault.Withdraw(context.Background(), withdrawal(common.Address{}, 1, 1, sig))
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	records, err := h.vault.ListAuthorizations()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWithdraw_InvalidAmount(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.vault.Withdraw(context.Background(), &types.WithdrawalRequest{
		Recipient: testRecipient,
		Amount:    big.NewInt(-1),
		Nonce:     big.NewInt(1),
		Signature: make([]byte, authorization.SignatureLength),
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.vault.Withdraw(context.Background(), &types.WithdrawalRequest{
		Recipient: testRecipient,
		Nonce:     big.NewInt(1),
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.vault.Withdraw(context.Background(), nil)
	assert.Error(t, err)
}

func TestWithdraw_ZeroAmount(t *testing.T) {
	h := newTestHarness(t)

	sig := h.sign(t, testRecipient, 0, 1)
	receipt, err := h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 0, 1, sig))
	require.NoError(t, err)
	assert.Equal(t, int64(0), receipt.Balance.Int64())

	_, err = h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 0, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestWithdraw_InsufficientBalanceBurnsAuthorization(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 1)

	sig := h.sign(t, testRecipient, 5, 1)
	_, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 5, 1, sig))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(1), h.vault.Balance().Int64())

	id, err := h.vault.AuthorizationID(testRecipient, big.NewInt(5), big.NewInt(1))
	require.NoError(t, err)
	record, err := h.vault.GetAuthorization(id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.WithdrawalOutcome_Burned, record.Outcome)

	// funding afterwards does not revive the burned authorization
	h.fund(t, 10)
	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 5, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, int64(11), h.vault.Balance().Int64())
	assert.Equal(t, int64(0), h.payout.BalanceOf(testRecipient).Int64())
}

func TestWithdraw_TransferFailureRestoresBalance(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 10)
	h.payout.RejectRecipient(testRecipient)

	sig := h.sign(t, testRecipient, 3, 1)
	_, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 3, 1, sig))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, int64(10), h.vault.Balance().Int64())

	persisted, err := h.store.LoadVaultState()
	require.NoError(t, err)
	assert.Equal(t, int64(10), persisted.Balance.Int64())

	id, err := h.vault.AuthorizationID(testRecipient, big.NewInt(3), big.NewInt(1))
	require.NoError(t, err)
	record, err := h.vault.GetAuthorization(id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.WithdrawalOutcome_TransferFailed, record.Outcome)

	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 3, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, uint64(0), h.vault.State().WithdrawalCount)
}

func TestWithdraw_ConcurrentReplay(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 100)

	sig := h.sign(t, testRecipient, 1, 42)

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 1, 42, sig))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)
	assert.Equal(t, int64(99), h.vault.Balance().Int64())
	assert.Equal(t, int64(1), h.payout.BalanceOf(testRecipient).Int64())
}

func TestWithdraw_ConcurrentDistinctAuthorizations(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 10)

	// twenty authorizations of 1 against a balance of 10: exactly ten are paid
	const workers = 20
	sigs := make([][]byte, workers)
	for i := range sigs {
		sigs[i] = h.sign(t, testRecipient, 1, int64(i))
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		paid       int
		burned     int
		unexpected []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(nonce int) {
			defer wg.Done()
			_, err := h.vault.Withdraw(context.Background(), withdrawal(testRecipient, 1, int64(nonce), sigs[nonce]))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, ErrInsufficientBalance):
				burned++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unexpected)
	assert.Equal(t, 10, paid)
	assert.Equal(t, 10, burned)
	assert.Equal(t, int64(0), h.vault.Balance().Int64())
	assert.Equal(t, int64(10), h.payout.BalanceOf(testRecipient).Int64())
}

func TestNewSecureVault_RestoresState(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 10)

	sig := h.sign(t, testRecipient, 4, 1)
	_, err := h.vault.Withdraw(ctx, withdrawal(testRecipient, 4, 1, sig))
	require.NoError(t, err)

	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(h.authority.PublicKey))
	require.NoError(t, err)

	restarted, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, h.store, h.payout, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int64(6), restarted.Balance().Int64())

	_, err = restarted.Withdraw(ctx, withdrawal(testRecipient, 4, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = NewSecureVault(&Config{Address: common.HexToAddress("0xdead"), ChainID: testChainID}, am, h.store, h.payout, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrStateMismatch)

	_, err = NewSecureVault(&Config{Address: testVaultAddress, ChainID: big.NewInt(1)}, am, h.store, h.payout, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrStateMismatch)
}

// failingStore fails vault state writes once armed
type failingStore struct {
	*memory.MemoryPersistence
	failWrites bool
}

func (f *failingStore) SaveVaultState(state *persistence.VaultState) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.MemoryPersistence.SaveVaultState(state)
}

func (f *failingStore) UpdateVaultState(fn func(state *persistence.VaultState) error) (*persistence.VaultState, error) {
	if f.failWrites {
		return nil, errors.New("disk full")
	}
	return f.MemoryPersistence.UpdateVaultState(fn)
}

func TestWithdraw_DebitPersistFailure(t *testing.T) {
	authority, err := crypto.HexToECDSA(authorityKeyHex)
	require.NoError(t, err)
	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(authority.PublicKey))
	require.NoError(t, err)

	store := &failingStore{MemoryPersistence: memory.NewMemoryPersistence()}
	p := payout.NewInMemoryPayout()
	v, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, store, p, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = v.Deposit(context.Background(), testDepositor, big.NewInt(10))
	require.NoError(t, err)

	store.failWrites = true

	_, err = v.Deposit(context.Background(), testDepositor, big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, int64(10), v.Balance().Int64())

	sig := signWith(t, authority, testVaultAddress, testRecipient, big.NewInt(3), testChainID, big.NewInt(1))
	_, err = v.Withdraw(context.Background(), withdrawal(testRecipient, 3, 1, sig))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, int64(10), v.Balance().Int64())
	assert.Equal(t, int64(0), p.BalanceOf(testRecipient).Int64())
}

func TestWithdraw_ReplicasSharingStoreCannotOverdraw(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.fund(t, 2)

	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(h.authority.PublicKey))
	require.NoError(t, err)
	replica, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, h.store, h.payout, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = h.vault.Withdraw(ctx, withdrawal(testRecipient, 2, 1, h.sign(t, testRecipient, 2, 1)))
	require.NoError(t, err)

	// the replica loaded balance 2 at startup but must see the first debit
	_, err = replica.Withdraw(ctx, withdrawal(testRecipient, 2, 2, h.sign(t, testRecipient, 2, 2)))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(2), h.payout.BalanceOf(testRecipient).Int64())
	assert.Equal(t, int64(0), h.vault.Balance().Int64())
	assert.Equal(t, int64(0), replica.Balance().Int64())

	// deposits through either replica are visible to both
	_, err = replica.Deposit(ctx, testDepositor, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.vault.Balance().Int64())
	assert.Equal(t, uint64(2), h.vault.State().DepositCount)
}

func TestWithdraw_ReplicasConcurrentDistinctAuthorizations(t *testing.T) {
	h := newTestHarness(t)
	h.fund(t, 10)

	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(h.authority.PublicKey))
	require.NoError(t, err)
	replica, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, h.store, h.payout, zaptest.NewLogger(t))
	require.NoError(t, err)
	vaults := []*SecureVault{h.vault, replica}

	const workers = 20
	sigs := make([][]byte, workers)
	for i := range sigs {
		sigs[i] = h.sign(t, testRecipient, 1, int64(i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(nonce int) {
			defer wg.Done()
			_, err := vaults[nonce%2].Withdraw(context.Background(), withdrawal(testRecipient, 1, int64(nonce), sigs[nonce]))
			if err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, paid)
	assert.Equal(t, int64(10), h.payout.BalanceOf(testRecipient).Int64())
	assert.Equal(t, int64(0), h.vault.Balance().Int64())
}

// unconfirmedPayout submits every transfer but never learns the result
type unconfirmedPayout struct {
	txHash string
}

func (u *unconfirmedPayout) Transfer(context.Context, common.Address, *big.Int) (*types.TransferReceipt, error) {
	return nil, &payout.UnconfirmedTransferError{TxHash: u.txHash, Err: context.Canceled}
}

func TestWithdraw_UnconfirmedTransferKeepsDebit(t *testing.T) {
	authority, err := crypto.HexToECDSA(authorityKeyHex)
	require.NoError(t, err)
	am, err := authorizationManager.NewAuthorizationManager(crypto.PubkeyToAddress(authority.PublicKey))
	require.NoError(t, err)

	const txHash = "0x000000000000000000000000000000000000000000000000000000000000beef"
	store := memory.NewMemoryPersistence()
	v, err := NewSecureVault(&Config{Address: testVaultAddress, ChainID: testChainID}, am, store, &unconfirmedPayout{txHash: txHash}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = v.Deposit(context.Background(), testDepositor, big.NewInt(10))
	require.NoError(t, err)

	sig := signWith(t, authority, testVaultAddress, testRecipient, big.NewInt(4), testChainID, big.NewInt(1))
	_, err = v.Withdraw(context.Background(), withdrawal(testRecipient, 4, 1, sig))
	require.ErrorIs(t, err, ErrTransferUnconfirmed)
	assert.NotErrorIs(t, err, ErrTransferFailed)
	assert.True(t, IsVaultError(err))

	assert.Equal(t, int64(6), v.Balance().Int64(), "a possibly broadcast payout must not be credited back")
	persisted, err := store.LoadVaultState()
	require.NoError(t, err)
	assert.Equal(t, int64(6), persisted.Balance.Int64())
	assert.Equal(t, int64(4), persisted.TotalWithdrawn.Int64())
	assert.Equal(t, uint64(1), persisted.WithdrawalCount)

	id, err := v.AuthorizationID(testRecipient, big.NewInt(4), big.NewInt(1))
	require.NoError(t, err)
	record, err := v.GetAuthorization(id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.WithdrawalOutcome_Unconfirmed, record.Outcome)
	assert.Equal(t, txHash, record.TxHash)

	_, err = v.Withdraw(context.Background(), withdrawal(testRecipient, 4, 1, sig))
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestIsVaultError(t *testing.T) {
	assert.True(t, IsVaultError(ErrAlreadyUsed))
	assert.True(t, IsVaultError(errors.Join(errors.New("context"), ErrUnauthorized)))
	assert.False(t, IsVaultError(errors.New("boom")))
	assert.False(t, IsVaultError(nil))
}
