package types

// Amounts and nonces travel as decimal strings; signatures and hashes as 0x-prefixed hex.

// DepositRequest is the body of POST /deposit
type DepositRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// DepositResponse is returned by POST /deposit
type DepositResponse struct {
	ReceiptID string `json:"receipt_id"`
	From      string `json:"from"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
	Timestamp int64  `json:"timestamp"`
}

// WithdrawRequest is the body of POST /withdraw
type WithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// WithdrawResponse is returned by POST /withdraw
type WithdrawResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	Nonce           string `json:"nonce"`
	Balance         string `json:"balance"`
	TxHash          string `json:"tx_hash,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// BalanceResponse is returned by GET /balance
type BalanceResponse struct {
	VaultAddress string `json:"vault_address"`
	Balance      string `json:"balance"`
}

// VaultInfoResponse is returned by GET /vault
type VaultInfoResponse struct {
	VaultAddress     string `json:"vault_address"`
	ChainID          uint64 `json:"chain_id"`
	ChainName        string `json:"chain_name"`
	AuthorityAddress string `json:"authority_address"`
	Balance          string `json:"balance"`
	TotalDeposited   string `json:"total_deposited"`
	TotalWithdrawn   string `json:"total_withdrawn"`
	DepositCount     uint64 `json:"deposit_count"`
	WithdrawalCount  uint64 `json:"withdrawal_count"`
}

// AuthorizationResponse is returned by GET /authorizations/{id}
type AuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Consumed        bool   `json:"consumed"`
	Recipient       string `json:"recipient,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	ConsumedAt      int64  `json:"consumed_at,omitempty"`
}

// Error codes carried in ErrorResponse.Code
const (
	ErrorCode_BadRequest          = "bad_request"
	ErrorCode_InvalidAmount       = "invalid_amount"
	ErrorCode_InvalidRecipient    = "invalid_recipient"
	ErrorCode_Unauthorized        = "unauthorized"
	ErrorCode_AlreadyUsed         = "already_used"
	ErrorCode_InsufficientBalance = "insufficient_balance"
	ErrorCode_TransferFailed      = "transfer_failed"
	ErrorCode_TransferUnconfirmed = "transfer_unconfirmed"
	ErrorCode_RateLimited         = "rate_limited"
	ErrorCode_Internal            = "internal"
)

// ErrorResponse is the JSON body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AuthorizationIDResponse is returned by GET /authorization-id
type AuthorizationIDResponse struct {
	AuthorizationID string `json:"authorization_id"`
	VaultAddress    string `json:"vault_address"`
	ChainID         uint64 `json:"chain_id"`
}

// AuthorizationListResponse is returned by GET /authorizations
type AuthorizationListResponse struct {
	Authorizations []AuthorizationResponse `json:"authorizations"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
