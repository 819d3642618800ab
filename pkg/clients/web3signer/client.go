package web3signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"go.uber.org/zap"
)

// Config holds connection settings for a Web3Signer instance
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig points at a Web3Signer running on its default port
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:9000",
		Timeout: 30 * time.Second,
	}
}

// Client is a JSON-RPC client for Web3Signer
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
	requestID  atomic.Int64
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// JSONRPCError is an error object returned by Web3Signer
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("web3signer error %d: %s", e.Code, e.Message)
}

// NewClient creates a Web3Signer client. A nil config uses DefaultConfig.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("web3signer base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// NewWeb3SignerClientFromRemoteSignerConfig builds a client from the remote signer config,
// enabling mutual TLS when certificates are provided. A nil config uses DefaultConfig.
func NewWeb3SignerClientFromRemoteSignerConfig(rsc *config.RemoteSignerConfig, logger *zap.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if rsc == nil {
		return NewClient(cfg, logger)
	}
	if rsc.Url != "" {
		cfg.BaseURL = rsc.Url
	}

	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	if rsc.CACert == "" && rsc.Cert == "" && rsc.Key == "" {
		return client, nil
	}

	tlsConfig, err := buildTLSConfig(rsc)
	if err != nil {
		return nil, fmt.Errorf("failed to configure web3signer TLS: %w", err)
	}
	client.SetHttpClient(&http.Client{
		Timeout:   cfg.Timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	})

	return client, nil
}

func buildTLSConfig(rsc *config.RemoteSignerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if rsc.CACert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(rsc.CACert)) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if rsc.Cert != "" || rsc.Key != "" {
		if rsc.Cert == "" || rsc.Key == "" {
			return nil, fmt.Errorf("both client certificate and key are required")
		}
		pair, err := tls.X509KeyPair([]byte(rsc.Cert), []byte(rsc.Key))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}

	return tlsConfig, nil
}

// SetHttpClient replaces the underlying HTTP client
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// EthAccounts returns the addresses Web3Signer holds keys for
func (c *Client) EthAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := c.call(ctx, "eth_accounts", []interface{}{}, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// EthSignTransaction signs a transaction and returns the RLP encoded signed transaction
func (c *Client) EthSignTransaction(ctx context.Context, from string, transaction map[string]interface{}) (string, error) {
	tx := make(map[string]interface{}, len(transaction)+1)
	for k, v := range transaction {
		tx[k] = v
	}
	tx["from"] = from

	var signed string
	if err := c.call(ctx, "eth_signTransaction", []interface{}{tx}, &signed); err != nil {
		return "", err
	}
	return signed, nil
}

// EthSign signs hex encoded data as an EIP-191 personal message
func (c *Client) EthSign(ctx context.Context, account string, data string) (string, error) {
	var signature string
	if err := c.call(ctx, "eth_sign", []interface{}{account, data}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Sugar().Debugw("Calling web3signer", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
