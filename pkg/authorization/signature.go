package authorization

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an r || s || v signature
const SignatureLength = 65

// ErrInvalidSignature is returned for signatures that cannot yield a signer
var ErrInvalidSignature = errors.New("invalid signature")

// SignAuthorizationID signs the EIP-191 digest of id and returns r || s || v with v in {27, 28}
func SignAuthorizationID(id common.Hash, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}

	digest := SignedMessageHash(id)
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that signed the EIP-191 digest of id.
// Malleable (high-s) signatures and unknown recovery ids are rejected.
func RecoverSigner(id common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)

	// Ethereum signatures have recovery byte 27/28, crypto expects 0/1
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: unsupported recovery id %d", ErrInvalidSignature, signature[64])
	}

	r := new(big.Int).SetBytes(sig[0:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}

	digest := SignedMessageHash(id)
	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// NormalizeSignature returns a copy of signature with v moved into {27, 28}
func NormalizeSignature(signature []byte) ([]byte, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] < 27 {
		sig[64] += 27
	}
	if sig[64] != 27 && sig[64] != 28 {
		return nil, fmt.Errorf("%w: unsupported recovery id %d", ErrInvalidSignature, signature[64])
	}
	return sig, nil
}
