package authoritySigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// InMemoryAuthoritySigner signs with a private key held in process memory
type InMemoryAuthoritySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ IAuthoritySigner = (*InMemoryAuthoritySigner)(nil)

// NewInMemoryAuthoritySigner parses a hex private key, with or without 0x prefix
func NewInMemoryAuthoritySigner(privateKeyHex string) (*InMemoryAuthoritySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse authority private key: %w", err)
	}
	return NewInMemoryAuthoritySignerFromKey(key), nil
}

// NewInMemoryAuthoritySignerFromKey wraps an existing key
func NewInMemoryAuthoritySignerFromKey(key *ecdsa.PrivateKey) *InMemoryAuthoritySigner {
	return &InMemoryAuthoritySigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *InMemoryAuthoritySigner) Address() common.Address {
	return s.address
}

func (s *InMemoryAuthoritySigner) SignAuthorization(_ context.Context, id common.Hash) ([]byte, error) {
	return authorization.SignAuthorizationID(id, s.privateKey)
}
