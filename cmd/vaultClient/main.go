package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authoritySigner"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorization"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vaultClient"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var authorizationFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "vault-address",
		Usage:    "Vault address bound into the authorization id",
		EnvVars:  []string{config.EnvVaultAddress},
		Required: true,
	},
	&cli.Uint64Flag{
		Name:     "chain-id",
		Usage:    fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
		EnvVars:  []string{config.EnvVaultChainID},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "recipient",
		Usage:    "Recipient address",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "amount",
		Usage:    "Amount in wei (decimal or 0x hex)",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "nonce",
		Usage:    "Nonce distinguishing otherwise identical withdrawals",
		Required: true,
	},
}

var signerFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "signer-type",
		Usage: "Authority key backend: private_key, aws_kms or web3signer",
		Value: string(authoritySigner.SignerType_PrivateKey),
	},
	&cli.StringFlag{
		Name:    "private-key",
		Usage:   "Authority private key (hex) for private_key signing",
		EnvVars: []string{config.EnvVaultAuthorityKey},
	},
	&cli.StringFlag{
		Name:  "kms-key-id",
		Usage: "AWS KMS key id or ARN for aws_kms signing",
	},
	&cli.StringFlag{
		Name:  "aws-region",
		Usage: "AWS region for aws_kms signing",
	},
	&cli.StringFlag{
		Name:  "web3signer-url",
		Usage: "Web3Signer URL for web3signer signing",
	},
	&cli.StringFlag{
		Name:  "authority-address",
		Usage: "Authority address held by Web3Signer",
	},
}

func main() {
	app := &cli.App{
		Name:  "vault-client",
		Usage: "EigenX vault client for authorizing and submitting withdrawals",
		Description: `A client for the EigenX authorization-gated vault.

This client can:
- Derive authorization ids offline
- Sign authorizations with a private key, AWS KMS or Web3Signer
- Deposit, withdraw and inspect a running vault server`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server-url",
				Usage: "Vault server URL",
				Value: "http://localhost:8000",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "authorization-id",
				Usage:  "Derive the authorization id for a withdrawal",
				Flags:  authorizationFlags,
				Action: authorizationIDCommand,
			},
			{
				Name:   "sign",
				Usage:  "Sign a withdrawal authorization as the vault authority",
				Flags:  append(append([]cli.Flag{}, authorizationFlags...), signerFlags...),
				Action: signCommand,
			},
			{
				Name:  "deposit",
				Usage: "Deposit funds into the vault",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "amount", Usage: "Amount in wei", Required: true},
					&cli.StringFlag{Name: "from", Usage: "Depositor address"},
				},
				Action: depositCommand,
			},
			{
				Name:  "withdraw",
				Usage: "Submit a signed withdrawal",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "recipient", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "Amount in wei", Required: true},
					&cli.StringFlag{Name: "nonce", Required: true},
					&cli.StringFlag{Name: "signature", Usage: "65-byte authority signature (hex)", Required: true},
				},
				Action: withdrawCommand,
			},
			{
				Name:   "balance",
				Usage:  "Show the vault balance",
				Action: balanceCommand,
			},
			{
				Name:  "authorization",
				Usage: "Show whether an authorization id has been consumed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Authorization id (hex); lists all consumed ids when omitted"},
				},
				Action: authorizationCommand,
			},
			{
				Name:   "info",
				Usage:  "Show vault identity and bookkeeping",
				Action: infoCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	return logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
}

// createClient creates a new vault client from CLI context
func createClient(c *cli.Context) (*vaultClient.Client, error) {
	l, err := newLogger(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return vaultClient.NewClient(&vaultClient.ClientConfig{
		ServerURL: c.String("server-url"),
		Logger:    l,
	})
}

func parseAuthorizationPayload(c *cli.Context) (*authorization.Payload, error) {
	vaultAddress, err := types.ParseAddress(c.String("vault-address"))
	if err != nil {
		return nil, err
	}
	recipient, err := types.ParseAddress(c.String("recipient"))
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseUint256(c.String("amount"))
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	nonce, err := types.ParseUint256(c.String("nonce"))
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	chainID := new(big.Int).SetUint64(c.Uint64("chain-id"))
	return authorization.NewPayload(vaultAddress, recipient, amount, chainID, nonce), nil
}

func authorizationIDCommand(c *cli.Context) error {
	payload, err := parseAuthorizationPayload(c)
	if err != nil {
		return err
	}
	id, err := authorization.DeriveAuthorizationID(payload)
	if err != nil {
		return err
	}
	fmt.Println(id.Hex())
	return nil
}

func signCommand(c *cli.Context) error {
	payload, err := parseAuthorizationPayload(c)
	if err != nil {
		return err
	}
	id, err := authorization.DeriveAuthorizationID(payload)
	if err != nil {
		return err
	}

	l, err := newLogger(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	signerCfg := &authoritySigner.Config{
		Type:       authoritySigner.SignerType(c.String("signer-type")),
		PrivateKey: c.String("private-key"),
		KmsKeyId:   c.String("kms-key-id"),
		AwsRegion:  c.String("aws-region"),
	}
	if url := c.String("web3signer-url"); url != "" {
		signerCfg.RemoteSigner = &config.RemoteSignerConfig{
			Url:         url,
			FromAddress: c.String("authority-address"),
		}
	}

	signer, err := authoritySigner.NewAuthoritySigner(c.Context, signerCfg, l)
	if err != nil {
		return fmt.Errorf("failed to create authority signer: %w", err)
	}

	sig, err := signer.SignAuthorization(c.Context, id)
	if err != nil {
		return fmt.Errorf("failed to sign authorization: %w", err)
	}

	return printJSON(map[string]string{
		"authority":        signer.Address().Hex(),
		"authorization_id": id.Hex(),
		"recipient":        payload.Recipient.Hex(),
		"amount":           payload.Amount.String(),
		"nonce":            payload.Nonce.String(),
		"signature":        hexutil.Encode(sig),
	})
}

func depositCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}
	amount, err := types.ParseUint256(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	var from common.Address
	if raw := c.String("from"); raw != "" {
		if from, err = types.ParseAddress(raw); err != nil {
			return err
		}
	}

	resp, err := client.Deposit(c.Context, from, amount)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func withdrawCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}
	recipient, err := types.ParseAddress(c.String("recipient"))
	if err != nil {
		return err
	}
	amount, err := types.ParseUint256(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	nonce, err := types.ParseUint256(c.String("nonce"))
	if err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}
	sig, err := hexutil.Decode(c.String("signature"))
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}

	resp, err := client.Withdraw(c.Context, &types.WithdrawalRequest{
		Recipient: recipient,
		Amount:    amount,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func balanceCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}
	balance, err := client.Balance(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(balance.String())
	return nil
}

func authorizationCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	raw := c.String("id")
	if raw == "" {
		list, err := client.ListAuthorizations(c.Context)
		if err != nil {
			return err
		}
		return printJSON(list)
	}

	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		return fmt.Errorf("invalid authorization id %q", raw)
	}
	resp, err := client.GetAuthorization(c.Context, common.BytesToHash(decoded))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func infoCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}
	info, err := client.VaultInfo(c.Context)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
