package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authoritySigner"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Signs the same authorization with Web3Signer and with the raw key and compares the results.
// Defaults match the anvil account 0 loaded into a local Web3Signer.
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	url := envOr("WEB3SIGNER_URL", "http://localhost:9100")
	privateKey := envOr("AUTHORITY_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	pkSigner, err := authoritySigner.NewInMemoryAuthoritySigner(privateKey)
	if err != nil {
		l.Sugar().Fatalf("failed to parse private key: %v", err)
	}

	signerCfg := &config.RemoteSignerConfig{
		Url:         url,
		FromAddress: pkSigner.Address().Hex(),
	}
	web3SignerClient, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(signerCfg, l)
	if err != nil {
		l.Sugar().Fatalw("failed to create Web3Signer client", "error", err)
	}

	remoteSigner, err := authoritySigner.NewWeb3AuthoritySigner(ctx, web3SignerClient, pkSigner.Address(), l)
	if err != nil {
		l.Sugar().Fatalw("failed to create Web3Signer authority signer", "error", err)
	}

	id, err := authorization.DeriveAuthorizationID(authorization.NewPayload(
		common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		big.NewInt(1),
		big.NewInt(int64(config.ChainId_EthereumAnvil)),
		big.NewInt(1),
	))
	if err != nil {
		l.Sugar().Fatalw("failed to derive authorization id", "error", err)
	}

	signatureWeb3, err := remoteSigner.SignAuthorization(ctx, id)
	if err != nil {
		l.Sugar().Fatalw("failed to sign authorization with Web3Signer", "error", err)
	}

	signaturePK, err := pkSigner.SignAuthorization(ctx, id)
	if err != nil {
		l.Sugar().Fatalw("failed to sign authorization with private key signer", "error", err)
	}

	fmt.Printf("Authorization ID: %s\n", id.Hex())
	fmt.Printf("Signature (Web3Signer):  %s\n", common.Bytes2Hex(signatureWeb3))
	fmt.Printf("Signature (Private Key): %s\n", common.Bytes2Hex(signaturePK))

	if common.Bytes2Hex(signatureWeb3) == common.Bytes2Hex(signaturePK) {
		fmt.Println("Signatures match!")
	} else {
		fmt.Println("Signatures do not match!")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
