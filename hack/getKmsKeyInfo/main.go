package main

import (
	"context"
	"os"

	"github.com/Layr-Labs/eigenx-vault-go/internal/aws"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authoritySigner"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/logger"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Prints the vault authority address backed by an AWS KMS key and proves the key signs
// authorizations that recover to it.
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	keyId := os.Getenv("KEY_ID")
	if keyId == "" {
		l.Sugar().Fatal("KEY_ID environment variable is not set")
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		l.Sugar().Fatalw("failed to load AWS config", "error", err)
	}

	identity, err := aws.GetCallerIdentity(ctx, awsCfg)
	if err != nil {
		l.Sugar().Fatalw("failed to get caller identity", "error", err)
	}
	l.Sugar().Infow("AWS identity", "account", *identity.Account, "arn", *identity.Arn)

	signer, err := authoritySigner.NewAwsKmsAuthoritySignerFromConfig(ctx, awsCfg, keyId, l)
	if err != nil {
		l.Sugar().Fatalw("failed to load KMS authority key", "error", err)
	}

	probe := crypto.Keccak256Hash([]byte("eigenx-vault kms probe"))
	sig, err := signer.SignAuthorization(ctx, probe)
	if err != nil {
		l.Sugar().Fatalw("failed to sign probe authorization", "error", err)
	}
	recovered, err := authorization.RecoverSigner(probe, sig)
	if err != nil {
		l.Sugar().Fatalw("failed to recover probe signer", "error", err)
	}

	l.Sugar().Infow("KMS authority key",
		"keyId", keyId,
		"address", signer.Address().Hex(),
		"probeSignature", hexutil.Encode(sig),
		"recoveredAddress", recovered.Hex(),
		"matches", recovered == signer.Address(),
	)
}
