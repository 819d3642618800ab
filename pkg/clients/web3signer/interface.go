package web3signer

import (
	"context"
	"net/http"
)

// IWeb3Signer defines the subset of the Web3Signer JSON-RPC API the vault relies on.
type IWeb3Signer interface {
	// SetHttpClient allows setting a custom HTTP client for the Web3Signer client.
	SetHttpClient(client *http.Client)

	// EthAccounts returns a list of accounts available for signing.
	// This corresponds to the eth_accounts JSON-RPC method.
	EthAccounts(ctx context.Context) ([]string, error)

	// EthSignTransaction signs a transaction and returns the RLP encoded signed transaction.
	// This corresponds to the eth_signTransaction JSON-RPC method.
	EthSignTransaction(ctx context.Context, from string, transaction map[string]interface{}) (string, error)

	// EthSign signs data with the specified account after applying the EIP-191 personal message prefix.
	// This corresponds to the eth_sign JSON-RPC method.
	EthSign(ctx context.Context, account string, data string) (string, error)
}

// Compile-time check to ensure Client implements IWeb3Signer
var _ IWeb3Signer = (*Client)(nil)
