package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/authorizationManager"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/payout"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence"
	badgerPersistence "github.com/Layr-Labs/eigenx-vault-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/persistence/memory"
	redisPersistence "github.com/Layr-Labs/eigenx-vault-go/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/server"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "vault-server",
		Usage: "EigenX authorization-gated vault server",
		Description: `Holds a pooled balance and releases funds only against single-use signatures
from the vault authority.

Each withdrawal names (recipient, amount, nonce). The authority signs
keccak256(abi.encode(vault, recipient, amount, chainId, nonce)) as an EIP-191
personal message, and the vault pays out at most once per signed id.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vault-address",
				Aliases:  []string{"vault"},
				Usage:    "Address identifying this vault in authorization ids",
				EnvVars:  []string{config.EnvVaultAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "authority-address",
				Aliases:  []string{"authority"},
				Usage:    "Address whose signatures authorize withdrawals",
				EnvVars:  []string{config.EnvVaultAuthorityAddress},
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars:  []string{config.EnvVaultChainID},
				Required: true,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvVaultPort},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Ledger storage: memory, badger or redis",
				Value:   string(config.PersistenceType_Memory),
				EnvVars: []string{config.EnvVaultPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				Value:   "./vault-data",
				EnvVars: []string{config.EnvVaultDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvVaultRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{config.EnvVaultRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{config.EnvVaultRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key, for sharing one Redis between vaults",
				EnvVars: []string{config.EnvVaultRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "payout",
				Usage:   "Payout backend: memory or onchain",
				Value:   string(config.PayoutType_Memory),
				EnvVars: []string{config.EnvVaultPayoutType},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL for onchain payouts",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvVaultRPCURL},
			},
			&cli.StringFlag{
				Name:    "payout-private-key",
				Usage:   "Hot wallet private key (hex) for onchain payouts",
				EnvVars: []string{config.EnvVaultPayoutPrivateKey},
			},
			&cli.StringFlag{
				Name:    "web3signer-url",
				Usage:   "Web3Signer URL holding the hot wallet key, instead of --payout-private-key",
				EnvVars: []string{config.EnvVaultWeb3SignerURL},
			},
			&cli.StringFlag{
				Name:    "payout-from-address",
				Usage:   "Hot wallet address held by Web3Signer",
				EnvVars: []string{config.EnvVaultPayoutFromAddress},
			},
			&cli.Float64Flag{
				Name:    "withdraw-rate-limit",
				Usage:   "Withdraw requests per second, 0 to disable",
				EnvVars: []string{config.EnvVaultWithdrawRateLimit},
			},
			&cli.IntFlag{
				Name:    "withdraw-burst",
				Value:   10,
				EnvVars: []string{config.EnvVaultWithdrawBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVaultVerbose},
			},
		},
		Action: runVaultServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runVaultServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	vaultConfig := parseVaultConfig(c)
	if err := vaultConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainID := new(big.Int).SetUint64(uint64(vaultConfig.ChainID))
	vaultAddress := common.HexToAddress(vaultConfig.VaultAddress)

	l.Sugar().Infow("Using chain", "name", vaultConfig.ChainName, "chain_id", vaultConfig.ChainID)

	am, err := authorizationManager.NewAuthorizationManager(common.HexToAddress(vaultConfig.AuthorityAddress))
	if err != nil {
		return fmt.Errorf("failed to create authorization manager: %w", err)
	}
	l.Sugar().Infow("Authorization manager ready", "authority", am.Authority().Hex())

	store, err := newPersistence(&vaultConfig.Persistence, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	payoutBackend, err := newPayout(ctx, &vaultConfig.Payout, chainID, l)
	if err != nil {
		return err
	}

	v, err := vault.NewSecureVault(&vault.Config{Address: vaultAddress, ChainID: chainID}, am, store, payoutBackend, l)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	l.Sugar().Infow("Vault ready",
		"chain_id", vaultConfig.ChainID,
		"authority", am.Authority().Hex(),
		"vault_address", v.Address().Hex(),
		"balance", v.Balance().String(),
	)

	srv := server.NewServer(&server.Config{
		Port:              vaultConfig.Port,
		AuthorityAddress:  am.Authority(),
		ChainName:         vaultConfig.ChainName,
		WithdrawRateLimit: vaultConfig.WithdrawRateLimit,
		WithdrawBurst:     vaultConfig.WithdrawBurst,
	}, v, l)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Available endpoints",
		"deposit", "POST /deposit",
		"withdraw", "POST /withdraw",
		"authorization_id", "GET /authorization-id",
		"authorizations", "GET /authorizations[/{id}]",
		"info", "GET /vault, GET /balance, GET /health")
	l.Sugar().Info("Press Ctrl+C to stop")

	<-ctx.Done()

	l.Sugar().Infow("Shutting down vault server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseVaultConfig(c *cli.Context) *config.VaultServerConfig {
	cfg := &config.VaultServerConfig{
		VaultAddress:     c.String("vault-address"),
		AuthorityAddress: c.String("authority-address"),
		ChainID:          config.ChainId(c.Uint64("chain-id")),
		Port:             c.Int("port"),
		Persistence: config.PersistenceConfig{
			Type:           config.PersistenceType(c.String("persistence")),
			DataPath:       c.String("data-path"),
			RedisAddress:   c.String("redis-address"),
			RedisPassword:  c.String("redis-password"),
			RedisDB:        c.Int("redis-db"),
			RedisKeyPrefix: c.String("redis-key-prefix"),
		},
		Payout: config.PayoutConfig{
			Type:       config.PayoutType(c.String("payout")),
			RpcUrl:     c.String("rpc-url"),
			PrivateKey: c.String("payout-private-key"),
		},
		WithdrawRateLimit: c.Float64("withdraw-rate-limit"),
		WithdrawBurst:     c.Int("withdraw-burst"),
		Debug:             c.Bool("verbose"),
		Verbose:           c.Bool("verbose"),
	}
	if url := c.String("web3signer-url"); url != "" {
		cfg.Payout.RemoteSigner = &config.RemoteSignerConfig{
			Url:         url,
			FromAddress: c.String("payout-from-address"),
		}
	}
	return cfg
}

func newPersistence(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.IVaultPersistence, error) {
	switch cfg.Type {
	case config.PersistenceType_Badger:
		store, err := badgerPersistence.NewBadgerPersistence(cfg.DataPath, l)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return store, nil
	case config.PersistenceType_Redis:
		store, err := redisPersistence.NewRedisPersistence(&redisPersistence.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis persistence: %w", err)
		}
		return store, nil
	default:
		return memory.NewMemoryPersistence(), nil
	}
}

func newPayout(ctx context.Context, cfg *config.PayoutConfig, chainID *big.Int, l *zap.Logger) (payout.IPayout, error) {
	if cfg.Type != config.PayoutType_Onchain {
		l.Sugar().Warnw("Using in-memory payout; withdrawals do not move real funds")
		return payout.NewInMemoryPayout(), nil
	}

	ethClient, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RpcUrl, err)
	}

	rpcChainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query RPC chain id: %w", err)
	}
	if rpcChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("RPC chain id %s does not match configured chain id %s", rpcChainID, chainID)
	}

	signer, err := transactionSigner.NewTransactionSigner(ctx, &transactionSigner.SignerConfig{
		PrivateKey:   cfg.PrivateKey,
		RemoteSigner: cfg.RemoteSigner,
	}, ethClient, l)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout signer: %w", err)
	}

	l.Sugar().Infow("Onchain payouts enabled", "hot_wallet", signer.GetFromAddress().Hex(), "rpc_url", cfg.RpcUrl)
	return payout.NewOnchainPayout(signer, l), nil
}
