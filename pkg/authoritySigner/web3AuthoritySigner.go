package authoritySigner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/clients/web3signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// Web3AuthoritySigner signs through a Web3Signer eth_sign call.
// eth_sign applies the EIP-191 prefix itself, so the raw id is sent.
type Web3AuthoritySigner struct {
	client  web3signer.IWeb3Signer
	address common.Address
	logger  *zap.Logger
}

var _ IAuthoritySigner = (*Web3AuthoritySigner)(nil)

// NewWeb3AuthoritySigner checks that Web3Signer holds a key for address
func NewWeb3AuthoritySigner(ctx context.Context, client web3signer.IWeb3Signer, address common.Address, logger *zap.Logger) (*Web3AuthoritySigner, error) {
	accounts, err := client.EthAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list web3signer accounts: %w", err)
	}

	found := false
	for _, account := range accounts {
		if strings.EqualFold(account, address.Hex()) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("web3signer has no key for authority %s", address.Hex())
	}

	return &Web3AuthoritySigner{
		client:  client,
		address: address,
		logger:  logger,
	}, nil
}

func (w *Web3AuthoritySigner) Address() common.Address {
	return w.address
}

func (w *Web3AuthoritySigner) SignAuthorization(ctx context.Context, id common.Hash) ([]byte, error) {
	sigHex, err := w.client.EthSign(ctx, w.address.Hex(), hexutil.Encode(id[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization with web3signer: %w", err)
	}

	raw, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode web3signer signature: %w", err)
	}

	sig, err := authorization.NormalizeSignature(raw)
	if err != nil {
		return nil, err
	}

	if err := verifySignature(id, sig, w.address); err != nil {
		w.logger.Sugar().Errorw("Web3Signer returned a signature for the wrong key",
			"authorization_id", id.Hex(), "authority", w.address.Hex(), "error", err)
		return nil, err
	}

	return sig, nil
}
