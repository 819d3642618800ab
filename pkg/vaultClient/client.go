package vaultClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// ClientConfig holds the configuration for the vault client
type ClientConfig struct {
	ServerURL string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client talks to a vault server over HTTP
type Client struct {
	serverURL  string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response from the vault server. It unwraps to the matching
// vault sentinel, so errors.Is(err, vault.ErrAlreadyUsed) works across the wire.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case types.ErrorCode_Unauthorized:
		return vault.ErrUnauthorized
	case types.ErrorCode_AlreadyUsed:
		return vault.ErrAlreadyUsed
	case types.ErrorCode_InsufficientBalance:
		return vault.ErrInsufficientBalance
	case types.ErrorCode_InvalidAmount:
		return vault.ErrInvalidAmount
	case types.ErrorCode_InvalidRecipient:
		return vault.ErrInvalidRecipient
	case types.ErrorCode_TransferFailed:
		return vault.ErrTransferFailed
	case types.ErrorCode_TransferUnconfirmed:
		return vault.ErrTransferUnconfirmed
	}
	return nil
}

// NewClient creates a new vault client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		serverURL:  strings.TrimRight(config.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     config.Logger,
	}, nil
}

// AuthorizationID asks the server for the id the authority must sign
func (c *Client) AuthorizationID(ctx context.Context, recipient common.Address, amount, nonce *big.Int) (common.Hash, error) {
	if amount == nil || nonce == nil {
		return common.Hash{}, fmt.Errorf("amount and nonce are required")
	}
	query := url.Values{}
	query.Set("recipient", recipient.Hex())
	query.Set("amount", amount.String())
	query.Set("nonce", nonce.String())

	var resp types.AuthorizationIDResponse
	if err := c.do(ctx, http.MethodGet, "/authorization-id?"+query.Encode(), nil, &resp); err != nil {
		return common.Hash{}, err
	}
	return parseHash(resp.AuthorizationID)
}

// Deposit adds amount to the vault balance
func (c *Client) Deposit(ctx context.Context, from common.Address, amount *big.Int) (*types.DepositResponse, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount is required")
	}
	req := types.DepositRequest{From: from.Hex(), Amount: amount.String()}

	var resp types.DepositResponse
	if err := c.do(ctx, http.MethodPost, "/deposit", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Sugar().Infow("Deposit accepted", "receipt_id", resp.ReceiptID, "balance", resp.Balance)
	return &resp, nil
}

// Withdraw submits a signed authorization
func (c *Client) Withdraw(ctx context.Context, req *types.WithdrawalRequest) (*types.WithdrawResponse, error) {
	if req == nil || req.Amount == nil || req.Nonce == nil {
		return nil, fmt.Errorf("recipient, amount and nonce are required")
	}
	body := types.WithdrawRequest{
		Recipient: req.Recipient.Hex(),
		Amount:    req.Amount.String(),
		Nonce:     req.Nonce.String(),
		Signature: hexutil.Encode(req.Signature),
	}

	var resp types.WithdrawResponse
	if err := c.do(ctx, http.MethodPost, "/withdraw", body, &resp); err != nil {
		return nil, err
	}

	c.logger.Sugar().Infow("Withdrawal paid",
		"authorization_id", resp.AuthorizationID,
		"recipient", resp.Recipient,
		"amount", resp.Amount,
	)
	return &resp, nil
}

// Balance returns the vault balance
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	var resp types.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/balance", nil, &resp); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("server returned invalid balance %q", resp.Balance)
	}
	return balance, nil
}

// VaultInfo returns identity and bookkeeping for the vault
func (c *Client) VaultInfo(ctx context.Context) (*types.VaultInfoResponse, error) {
	var resp types.VaultInfoResponse
	if err := c.do(ctx, http.MethodGet, "/vault", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAuthorization returns the ledger entry for id
func (c *Client) GetAuthorization(ctx context.Context, id common.Hash) (*types.AuthorizationResponse, error) {
	var resp types.AuthorizationResponse
	if err := c.do(ctx, http.MethodGet, "/authorizations/"+id.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAuthorizations returns every consumed authorization
func (c *Client) ListAuthorizations(ctx context.Context) ([]types.AuthorizationResponse, error) {
	var resp types.AuthorizationListResponse
	if err := c.do(ctx, http.MethodGet, "/authorizations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Authorizations, nil
}

// Health returns nil when the server reports healthy
func (c *Client) Health(ctx context.Context) error {
	var resp types.HealthResponse
	return c.do(ctx, http.MethodGet, "/health", nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Sugar().Debugw("Sending vault request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach vault server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp types.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Code != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(raw), nil
}
