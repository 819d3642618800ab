// Package authoritySigner produces withdrawal authorizations on behalf of the
// vault authority. The signed digest is always the EIP-191 personal message hash of
// the 32-byte authorization id, and signatures are returned as r || s || v with v in {27, 28}.
package authoritySigner

import (
	"context"
	"fmt"

	vaultAws "github.com/Layr-Labs/eigenx-vault-go/internal/aws"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// IAuthoritySigner signs authorization identifiers
type IAuthoritySigner interface {
	// Address returns the address signatures recover to
	Address() common.Address

	// SignAuthorization signs id and returns a 65-byte signature
	SignAuthorization(ctx context.Context, id common.Hash) ([]byte, error)
}

// SignerType selects the backend holding the authority key
type SignerType string

const (
	SignerType_PrivateKey SignerType = "private_key"
	SignerType_AwsKms     SignerType = "aws_kms"
	SignerType_Web3Signer SignerType = "web3signer"
)

// verifySignature checks that sig recovers to expected over id
func verifySignature(id common.Hash, sig []byte, expected common.Address) error {
	recovered, err := authorization.RecoverSigner(id, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return fmt.Errorf("signature recovers to %s, expected %s", recovered.Hex(), expected.Hex())
	}
	return nil
}

// Config selects and configures an authority signer backend
type Config struct {
	Type SignerType

	// SignerType_PrivateKey
	PrivateKey string

	// SignerType_AwsKms
	KmsKeyId  string
	AwsRegion string

	// SignerType_Web3Signer; FromAddress names the authority key
	RemoteSigner *config.RemoteSignerConfig
}

// NewAuthoritySigner builds the backend named by cfg.Type
func NewAuthoritySigner(ctx context.Context, cfg *Config, logger *zap.Logger) (IAuthoritySigner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("authority signer config is required")
	}

	switch cfg.Type {
	case SignerType_PrivateKey:
		return NewInMemoryAuthoritySigner(cfg.PrivateKey)
	case SignerType_AwsKms:
		awsCfg, err := vaultAws.LoadAWSConfig(ctx, cfg.AwsRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewAwsKmsAuthoritySignerFromConfig(ctx, awsCfg, cfg.KmsKeyId, logger)
	case SignerType_Web3Signer:
		if cfg.RemoteSigner == nil {
			return nil, fmt.Errorf("remote signer config is required for %s", cfg.Type)
		}
		if err := cfg.RemoteSigner.Validate(); err != nil {
			return nil, fmt.Errorf("invalid remote signer config: %w", err)
		}
		client, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(cfg.RemoteSigner, logger)
		if err != nil {
			return nil, err
		}
		return NewWeb3AuthoritySigner(ctx, client, common.HexToAddress(cfg.RemoteSigner.FromAddress), logger)
	default:
		return nil, fmt.Errorf("unsupported authority signer type: %q", cfg.Type)
	}
}
