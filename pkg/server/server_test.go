package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorizationManager"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/payout"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const authorityKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testVaultAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testRecipient    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testChainID      = big.NewInt(31337)
)

type testServer struct {
	server  *Server
	handler http.Handler
	payout  *payout.InMemoryPayout
	store   *memory.MemoryPersistence
}

func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()

	authority, err := crypto.HexToECDSA(authorityKeyHex)
	require.NoError(t, err)
	authorityAddress := crypto.PubkeyToAddress(authority.PublicKey)

	am, err := authorizationManager.NewAuthorizationManager(authorityAddress)
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	p := payout.NewInMemoryPayout()
	logger := zaptest.NewLogger(t)

	v, err := vault.NewSecureVault(&vault.Config{Address: testVaultAddress, ChainID: testChainID}, am, store, p, logger)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.AuthorityAddress = authorityAddress
	cfg.ChainName = config.GetChainName(config.ChainId(testChainID.Uint64()))

	s := NewServer(cfg, v, logger)
	return &testServer{server: s, handler: s.GetHandler(), payout: p, store: store}
}

func signHex(t *testing.T, recipient common.Address, amount, nonce int64) string {
	t.Helper()
	key, err := crypto.HexToECDSA(authorityKeyHex)
	require.NoError(t, err)
	id, err := authorization.DeriveAuthorizationID(authorization.NewPayload(
		testVaultAddress, recipient, big.NewInt(amount), testChainID, big.NewInt(nonce)))
	require.NoError(t, err)
	sig, err := authorization.SignAuthorizationID(id, key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_DepositAndBalance(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var deposit types.DepositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deposit))
	assert.Equal(t, "2", deposit.Balance)
	assert.NotEmpty(t, deposit.ReceiptID)

	rec = ts.do(t, http.MethodGet, "/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance types.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, "2", balance.Balance)
	assert.Equal(t, testVaultAddress.Hex(), balance.VaultAddress)
}

func TestServer_DepositInvalid(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.ErrorCode_InvalidAmount, decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "-4"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{From: "nope", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/deposit", bytes.NewReader([]byte("{not json")))
	raw := httptest.NewRecorder()
	ts.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Equal(t, types.ErrorCode_BadRequest, decodeError(t, raw).Code)

	rec = ts.do(t, http.MethodGet, "/deposit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_WithdrawLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	sig := signHex(t, testRecipient, 1, 1)
	withdraw := types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "1", Nonce: "1", Signature: sig}

	rec = ts.do(t, http.MethodPost, "/withdraw", withdraw)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp types.WithdrawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1", resp.Balance)
	assert.Equal(t, int64(1), ts.payout.BalanceOf(testRecipient).Int64())

	rec = ts.do(t, http.MethodPost, "/withdraw", withdraw)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrorCode_AlreadyUsed, decodeError(t, rec).Code)
	assert.Equal(t, "Authorization already used", decodeError(t, rec).Error)

	withdraw.Amount = "2"
	rec = ts.do(t, http.MethodPost, "/withdraw", withdraw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.ErrorCode_Unauthorized, decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/authorizations/"+resp.AuthorizationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var auth types.AuthorizationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.True(t, auth.Consumed)
	assert.Equal(t, string(types.WithdrawalOutcome_Paid), auth.Outcome)
	assert.Equal(t, "1", auth.Amount)

	rec = ts.do(t, http.MethodGet, "/authorizations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list types.AuthorizationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Authorizations, 1)
	assert.Equal(t, resp.AuthorizationID, list.Authorizations[0].AuthorizationID)
}

func TestServer_WithdrawErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "1"})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		req    types.WithdrawRequest
		status int
		code   string
	}{
		{
			name:   "bad recipient",
			req:    types.WithdrawRequest{Recipient: "0x123", Amount: "1", Nonce: "1", Signature: signHex(t, testRecipient, 1, 1)},
			status: http.StatusBadRequest,
			code:   types.ErrorCode_InvalidRecipient,
		},
		{
			name:   "zero recipient",
			req:    types.WithdrawRequest{Recipient: common.Address{}.Hex(), Amount: "1", Nonce: "1", Signature: signHex(t, common.Address{}, 1, 1)},
			status: http.StatusBadRequest,
			code:   types.ErrorCode_InvalidRecipient,
		},
		{
			name:   "bad amount",
			req:    types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "abc", Nonce: "1", Signature: signHex(t, testRecipient, 1, 1)},
			status: http.StatusBadRequest,
			code:   types.ErrorCode_InvalidAmount,
		},
		{
			name:   "bad nonce",
			req:    types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "1", Nonce: "", Signature: signHex(t, testRecipient, 1, 1)},
			status: http.StatusBadRequest,
			code:   types.ErrorCode_BadRequest,
		},
		{
			name:   "undecodable signature",
			req:    types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "1", Nonce: "1", Signature: "zz"},
			status: http.StatusForbidden,
			code:   types.ErrorCode_Unauthorized,
		},
		{
			name:   "insufficient balance",
			req:    types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "5", Nonce: "1", Signature: signHex(t, testRecipient, 5, 1)},
			status: http.StatusUnprocessableEntity,
			code:   types.ErrorCode_InsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/withdraw", tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestServer_WithdrawTransferFailed(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "3"})
	require.Equal(t, http.StatusOK, rec.Code)

	ts.payout.RejectRecipient(testRecipient)

	rec = ts.do(t, http.MethodPost, "/withdraw", types.WithdrawRequest{
		Recipient: testRecipient.Hex(), Amount: "1", Nonce: "7", Signature: signHex(t, testRecipient, 1, 7),
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, types.ErrorCode_TransferFailed, decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/balance", nil)
	var balance types.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, "3", balance.Balance)
}

func TestServer_WithdrawUnconfirmedMapsToGatewayTimeout(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/withdraw", nil)
	ts.server.writeVaultError(rec, req, fmt.Errorf("%w: tx 0xbeef: context canceled", vault.ErrTransferUnconfirmed))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, types.ErrorCode_TransferUnconfirmed, resp.Code)
	assert.Equal(t, vault.ErrTransferUnconfirmed.Error(), resp.Error)
}

func TestServer_WithdrawRateLimited(t *testing.T) {
	ts := newTestServer(t, &Config{WithdrawRateLimit: 0.001, WithdrawBurst: 1})

	body := types.WithdrawRequest{Recipient: testRecipient.Hex(), Amount: "1", Nonce: "1", Signature: "0x00"}

	rec := ts.do(t, http.MethodPost, "/withdraw", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/withdraw", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, types.ErrorCode_RateLimited, decodeError(t, rec).Code)
}

func TestServer_AuthorizationID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/authorization-id?recipient="+testRecipient.Hex()+"&amount=1&nonce=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.AuthorizationIDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	expected, err := authorization.DeriveAuthorizationID(authorization.NewPayload(
		testVaultAddress, testRecipient, big.NewInt(1), testChainID, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, expected.Hex(), resp.AuthorizationID)
	assert.Equal(t, uint64(31337), resp.ChainID)

	rec = ts.do(t, http.MethodGet, "/authorization-id?recipient=bad&amount=1&nonce=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetAuthorization(t *testing.T) {
	ts := newTestServer(t, nil)

	unknown := crypto.Keccak256Hash([]byte("unknown"))
	rec := ts.do(t, http.MethodGet, "/authorizations/"+unknown.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var auth types.AuthorizationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.False(t, auth.Consumed)
	assert.Equal(t, unknown.Hex(), auth.AuthorizationID)

	rec = ts.do(t, http.MethodGet, "/authorizations/0x1234", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/authorizations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authorizations":[]}`, rec.Body.String())
}

func TestServer_VaultInfo(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/deposit", types.DepositRequest{Amount: "5"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/vault", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info types.VaultInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, testVaultAddress.Hex(), info.VaultAddress)
	assert.Equal(t, uint64(31337), info.ChainID)
	assert.Equal(t, string(config.ChainName_EthereumAnvil), info.ChainName)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", info.AuthorityAddress)
	assert.Equal(t, "5", info.Balance)
	assert.Equal(t, uint64(1), info.DepositCount)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ts.store.Close())
	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/balance", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	echoed := httptest.NewRecorder()
	ts.handler.ServeHTTP(echoed, req)
	assert.Equal(t, "abc-123", echoed.Header().Get(RequestIDHeader))
}
