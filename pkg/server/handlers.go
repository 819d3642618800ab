package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// maxBodyBytes bounds request bodies; every request type is a handful of short strings
const maxBodyBytes = 1 << 16

// handleDeposit handles POST /deposit
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.DepositRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	var from common.Address
	if req.From != "" {
		addr, err := types.ParseAddress(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.ErrorCode_BadRequest, err.Error())
			return
		}
		from = addr
	}

	amount, err := types.ParseUint256(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_InvalidAmount, err.Error())
		return
	}

	receipt, err := s.vault.Deposit(r.Context(), from, amount)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.DepositResponse{
		ReceiptID: receipt.ID,
		From:      receipt.From.Hex(),
		Amount:    receipt.Amount.String(),
		Balance:   receipt.Balance.String(),
		Timestamp: receipt.Timestamp,
	})
}

// handleWithdraw handles POST /withdraw
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, types.ErrorCode_RateLimited, "withdraw rate limit exceeded")
		return
	}

	var req types.WithdrawRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	recipient, err := types.ParseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_InvalidRecipient, err.Error())
		return
	}
	amount, err := types.ParseUint256(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_InvalidAmount, fmt.Sprintf("invalid amount: %v", err))
		return
	}
	nonce, err := types.ParseUint256(req.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_BadRequest, fmt.Sprintf("invalid nonce: %v", err))
		return
	}

	// An undecodable signature is indistinguishable from a wrong one
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		signature = nil
	}

	receipt, err := s.vault.Withdraw(r.Context(), &types.WithdrawalRequest{
		Recipient: recipient,
		Amount:    amount,
		Nonce:     nonce,
		Signature: signature,
	})
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.WithdrawResponse{
		AuthorizationID: receipt.AuthorizationID.Hex(),
		Recipient:       receipt.Recipient.Hex(),
		Amount:          receipt.Amount.String(),
		Nonce:           receipt.Nonce.String(),
		Balance:         receipt.Balance.String(),
		TxHash:          receipt.TxHash,
		Timestamp:       receipt.Timestamp,
	})
}

// handleAuthorizationID handles GET /authorization-id
func (s *Server) handleAuthorizationID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	recipient, err := types.ParseAddress(query.Get("recipient"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_InvalidRecipient, err.Error())
		return
	}
	amount, err := types.ParseUint256(query.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_InvalidAmount, fmt.Sprintf("invalid amount: %v", err))
		return
	}
	nonce, err := types.ParseUint256(query.Get("nonce"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_BadRequest, fmt.Sprintf("invalid nonce: %v", err))
		return
	}

	id, err := s.vault.AuthorizationID(recipient, amount, nonce)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.AuthorizationIDResponse{
		AuthorizationID: id.Hex(),
		VaultAddress:    s.vault.Address().Hex(),
		ChainID:         s.vault.ChainID().Uint64(),
	})
}

// handleListAuthorizations handles GET /authorizations
func (s *Server) handleListAuthorizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.vault.ListAuthorizations()
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	response := types.AuthorizationListResponse{
		Authorizations: make([]types.AuthorizationResponse, 0, len(records)),
	}
	for _, record := range records {
		response.Authorizations = append(response.Authorizations, toAuthorizationResponse(record.AuthorizationID, record))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetAuthorization handles GET /authorizations/{id}.
// Unknown ids are reported as not consumed rather than 404.
func (s *Server) handleGetAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.PathValue("id")
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		writeError(w, http.StatusBadRequest, types.ErrorCode_BadRequest, fmt.Sprintf("invalid authorization id %q", raw))
		return
	}
	id := common.BytesToHash(decoded)

	record, err := s.vault.GetAuthorization(id)
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorizationResponse(id, record))
}

// handleBalance handles GET /balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, types.BalanceResponse{
		VaultAddress: s.vault.Address().Hex(),
		Balance:      s.vault.Balance().String(),
	})
}

// handleVaultInfo handles GET /vault
func (s *Server) handleVaultInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.vault.State()
	writeJSON(w, http.StatusOK, types.VaultInfoResponse{
		VaultAddress:     s.vault.Address().Hex(),
		ChainID:          s.vault.ChainID().Uint64(),
		ChainName:        string(s.cfg.ChainName),
		AuthorityAddress: s.cfg.AuthorityAddress.Hex(),
		Balance:          state.Balance.String(),
		TotalDeposited:   state.TotalDeposited.String(),
		TotalWithdrawn:   state.TotalWithdrawn.String(),
		DepositCount:     state.DepositCount,
		WithdrawalCount:  state.WithdrawalCount,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.vault.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok"})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCode_BadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return false
	}
	return true
}

// writeVaultError maps vault sentinels onto status codes; anything else is a 500
func (s *Server) writeVaultError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		status, code = http.StatusForbidden, types.ErrorCode_Unauthorized
	case errors.Is(err, vault.ErrAlreadyUsed):
		status, code = http.StatusConflict, types.ErrorCode_AlreadyUsed
	case errors.Is(err, vault.ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, types.ErrorCode_InsufficientBalance
	case errors.Is(err, vault.ErrInvalidAmount):
		status, code = http.StatusBadRequest, types.ErrorCode_InvalidAmount
	case errors.Is(err, vault.ErrInvalidRecipient):
		status, code = http.StatusBadRequest, types.ErrorCode_InvalidRecipient
	case errors.Is(err, vault.ErrTransferFailed):
		status, code = http.StatusBadGateway, types.ErrorCode_TransferFailed
	case errors.Is(err, vault.ErrTransferUnconfirmed):
		status, code = http.StatusGatewayTimeout, types.ErrorCode_TransferUnconfirmed
	default:
		s.logger.Sugar().Errorw("Request failed",
			"request_id", w.Header().Get(RequestIDHeader),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, types.ErrorCode_Internal, "Internal error")
		return
	}

	// Sentinel text only; wrapped details such as signature parse errors stay in the logs
	message := err.Error()
	if idx := strings.Index(message, ":"); idx > 0 && code != types.ErrorCode_InvalidAmount {
		message = message[:idx]
	}
	writeError(w, status, code, message)
}

func toAuthorizationResponse(id common.Hash, record *persistence.ConsumptionRecord) types.AuthorizationResponse {
	if record == nil {
		return types.AuthorizationResponse{AuthorizationID: id.Hex(), Consumed: false}
	}
	resp := types.AuthorizationResponse{
		AuthorizationID: id.Hex(),
		Consumed:        true,
		Recipient:       record.Recipient.Hex(),
		Outcome:         string(record.Outcome),
		TxHash:          record.TxHash,
		ConsumedAt:      record.ConsumedAt,
	}
	if record.Amount != nil {
		resp.Amount = record.Amount.String()
	}
	if record.Nonce != nil {
		resp.Nonce = record.Nonce.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: message, Code: code})
}
