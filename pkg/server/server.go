package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

/*
Server exposes a SecureVault over HTTP.

  POST /deposit
    - Request: { from, amount }
    - Adds amount to the pooled balance. Anyone may deposit.

  POST /withdraw
    - Request: { recipient, amount, nonce, signature }
    - Releases amount to recipient when signature is the authority's EIP-191
      signature over keccak256(abi.encode(vault, recipient, amount, chainId, nonce))
    - Each authorization id is accepted at most once
    - Rate limited when a withdraw limit is configured

  GET /authorization-id?recipient=&amount=&nonce=
    - Returns the id the authority must sign for this vault and chain

  GET /authorizations
  GET /authorizations/{id}
    - Ledger of consumed authorization ids and their outcomes

  GET /balance
  GET /vault
  GET /health

Errors are returned as { error, code } with:
  400 malformed input, invalid amount or recipient
  403 unauthorized signature
  409 authorization already used
  422 insufficient balance (the authorization is burned)
  429 withdraw rate limit exceeded
  502 payout failed (the authorization stays consumed)
*/

// RequestIDHeader carries the per-request id assigned by the server
const RequestIDHeader = "X-Request-Id"

// Config holds the HTTP surface settings
type Config struct {
	Port int

	// AuthorityAddress and ChainName are reported by GET /vault
	AuthorityAddress common.Address
	ChainName        config.ChainName

	// WithdrawRateLimit is withdraw requests per second; 0 disables limiting
	WithdrawRateLimit float64
	WithdrawBurst     int
}

// Server handles HTTP requests for the vault
type Server struct {
	vault      *vault.SecureVault
	cfg        *Config
	limiter    *rate.Limiter
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *Config, v *vault.SecureVault, logger *zap.Logger) *Server {
	s := &Server{
		vault:  v,
		cfg:    cfg,
		logger: logger,
	}

	if cfg.WithdrawRateLimit > 0 {
		burst := cfg.WithdrawBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.WithdrawRateLimit), burst)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/deposit", s.handleDeposit)
	mux.HandleFunc("/withdraw", s.handleWithdraw)

	mux.HandleFunc("/authorization-id", s.handleAuthorizationID)
	mux.HandleFunc("/authorizations", s.handleListAuthorizations)
	mux.HandleFunc("/authorizations/{id}", s.handleGetAuthorization)

	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/vault", s.handleVaultInfo)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server",
			"vault_address", s.vault.Address().Hex(),
			"port", s.httpServer.Addr,
		)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "vault_address", s.vault.Address().Hex(), "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Sugar().Debugw("Handled request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
