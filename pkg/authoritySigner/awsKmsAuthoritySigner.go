package authoritySigner

import (
	"context"
	cryptoEcdsa "crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KMSAPI is the subset of the AWS KMS client used for signing
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// AwsKmsAuthoritySigner signs with a secp256k1 key that never leaves AWS KMS
type AwsKmsAuthoritySigner struct {
	logger    *zap.Logger
	kmsClient KMSAPI
	keyId     string
	publicKey *cryptoEcdsa.PublicKey
	address   common.Address
}

var _ IAuthoritySigner = (*AwsKmsAuthoritySigner)(nil)

// secp256k1 curve order, used for low-s canonicalization
var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// NewAwsKmsAuthoritySignerFromConfig builds a signer backed by a KMS client for awsCfg
func NewAwsKmsAuthoritySignerFromConfig(ctx context.Context, awsCfg aws.Config, keyId string, logger *zap.Logger) (*AwsKmsAuthoritySigner, error) {
	return NewAwsKmsAuthoritySigner(ctx, kms.NewFromConfig(awsCfg), keyId, logger)
}

// NewAwsKmsAuthoritySigner fetches the public key for keyId and derives the authority address
func NewAwsKmsAuthoritySigner(ctx context.Context, kmsClient KMSAPI, keyId string, logger *zap.Logger) (*AwsKmsAuthoritySigner, error) {
	if keyId == "" {
		return nil, fmt.Errorf("kms key id is required")
	}

	res, err := kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyId)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for key %s", keyId)
	}

	pubKey, err := parseECDSAPublicKey(res.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for key %s", keyId)
	}

	address := crypto.PubkeyToAddress(*pubKey)
	logger.Sugar().Infow("Loaded AWS KMS authority key", "key_id", keyId, "address", address.Hex())

	return &AwsKmsAuthoritySigner{
		logger:    logger,
		kmsClient: kmsClient,
		keyId:     keyId,
		publicKey: pubKey,
		address:   address,
	}, nil
}

func (a *AwsKmsAuthoritySigner) Address() common.Address {
	return a.address
}

// SignAuthorization asks KMS to sign the EIP-191 digest of id
func (a *AwsKmsAuthoritySigner) SignAuthorization(ctx context.Context, id common.Hash) ([]byte, error) {
	digest := authorization.SignedMessageHash(id)

	sig, err := a.signDigest(ctx, digest.Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign authorization %s with key %s", id.Hex(), a.keyId)
	}
	return sig, nil
}

func (a *AwsKmsAuthoritySigner) signDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("hash must be exactly 32 bytes, got %d", len(digest))
	}

	signOutput, err := a.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(a.keyId),
		Message:          digest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      types.MessageTypeDigest,
	})
	if err != nil {
		return nil, err
	}

	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(signOutput.Signature, &sigAsn1); err != nil {
		return nil, fmt.Errorf("failed to parse KMS signature: %w", err)
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	s := new(big.Int).SetBytes(sigAsn1.S.Bytes)

	// KMS does not canonicalize; high-s signatures are rejected on verification
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	signature := make([]byte, authorization.SignatureLength)
	r.FillBytes(signature[0:32])
	s.FillBytes(signature[32:64])

	// KMS returns no recovery id; pick the one that recovers our key
	for recoveryId := byte(0); recoveryId < 2; recoveryId++ {
		signature[64] = recoveryId

		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			a.logger.Debug("Ecrecover failed",
				zap.Uint8("recoveryId", recoveryId),
				zap.Error(err))
			continue
		}

		if recovered.X.Cmp(a.publicKey.X) == 0 && recovered.Y.Cmp(a.publicKey.Y) == 0 {
			signature[64] = 27 + recoveryId
			return signature, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}

// parseECDSAPublicKey parses the DER-encoded SubjectPublicKeyInfo returned by KMS
func parseECDSAPublicKey(derBytes []byte) (*cryptoEcdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	if _, err := asn1.Unmarshal(derBytes, &asn1pubk); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}

	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}
