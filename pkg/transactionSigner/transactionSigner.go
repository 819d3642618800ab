package transactionSigner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// receiptTimeout bounds the wait for a broadcast transaction to be mined
var receiptTimeout = 5 * time.Minute

// BroadcastError is returned when a transaction reached the node but no receipt was
// observed. The transaction may still be mined, so callers must treat the outcome as unknown.
type BroadcastError struct {
	TxHash common.Hash
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("transaction %s broadcast but not confirmed: %v", e.TxHash.Hex(), e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// ITransactionSigner provides methods for signing Ethereum transactions
type ITransactionSigner interface {
	// SignAndSendTransaction fills fees, gas and nonce for tx, signs it, sends it
	// and waits for a successful receipt. Only To, Value and Data of tx are used.
	SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address
}

// EthBackend is the subset of *ethclient.Client the signers use
type EthBackend interface {
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type SignerConfig struct {
	PrivateKey   string                     `json:"privateKey" yaml:"privateKey"`
	RemoteSigner *config.RemoteSignerConfig `json:"remoteSigner,omitempty" yaml:"remoteSigner,omitempty"`
}

// NewTransactionSigner returns a private key signer, or a Web3Signer backed one when
// a remote signer URL is configured
func NewTransactionSigner(ctx context.Context, cfg *SignerConfig, ethClient EthBackend, logger *zap.Logger) (ITransactionSigner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("signer config cannot be nil")
	}

	if cfg.RemoteSigner != nil && cfg.RemoteSigner.Url != "" {
		if err := cfg.RemoteSigner.Validate(); err != nil {
			return nil, fmt.Errorf("invalid remote signer config: %w", err)
		}
		client, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(cfg.RemoteSigner, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create web3signer client: %w", err)
		}
		return NewWeb3TransactionSigner(ctx, client, common.HexToAddress(cfg.RemoteSigner.FromAddress), ethClient, logger)
	}

	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	return NewPrivateKeySigner(ctx, cfg.PrivateKey, ethClient, logger)
}

// dynamicFees holds the EIP-1559 parameters shared by both signers
type dynamicFees struct {
	gasTipCap *big.Int
	gasFeeCap *big.Int
	baseFee   *big.Int
	gasLimit  uint64
	nonce     uint64
}

// estimateDynamicFees prices tx for the signer's chain: maxFee = baseFee * multiplier + tip
func estimateDynamicFees(ctx context.Context, ethClient EthBackend, chainID *big.Int, from common.Address, tx *types.Transaction, logger *zap.Logger) (*dynamicFees, error) {
	var fallbackGasTipCap *big.Int
	var baseFeeMultiplier int64

	if config.IsEthereum(config.ChainId(chainID.Uint64())) {
		fallbackGasTipCap = big.NewInt(1500000000) // 1.5 gwei
		baseFeeMultiplier = 3
	} else {
		fallbackGasTipCap = big.NewInt(1000000) // 0.001 gwei for L2s
		baseFeeMultiplier = 2
	}

	gasTipCap, err := ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		// Backends without eth_maxPriorityFeePerGas
		logger.Sugar().Warnw("cannot get gasTipCap, using fallback", zap.Error(err))
		gasTipCap = fallbackGasTipCap
	}

	header, err := ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain %s does not support EIP-1559 transactions", chainID.String())
	}

	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(baseFeeMultiplier)),
		gasTipCap,
	)

	gasLimit, err := ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// Always fetch from the network; a zero tx nonce is ambiguous
	nonce, err := ethClient.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	return &dynamicFees{
		gasTipCap: gasTipCap,
		gasFeeCap: maxFeePerGas,
		baseFee:   header.BaseFee,
		gasLimit:  addGasBuffer(gasLimit),
		nonce:     nonce,
	}, nil
}

// addGasBuffer adds 20% headroom to an estimated gas limit
func addGasBuffer(gasLimit uint64) uint64 {
	return gasLimit + gasLimit/5
}

// sendAndWait broadcasts a signed transaction and waits for a successful receipt.
// Once sent, the wait no longer follows ctx cancellation; it is bounded by receiptTimeout
// and any failure to observe a receipt is reported as a *BroadcastError.
func sendAndWait(ctx context.Context, ethClient EthBackend, signedTx *types.Transaction, logger *zap.Logger) (*types.Receipt, error) {
	if err := ethClient.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.Info("SignAndSendTransaction: transaction sent",
		zap.String("txHash", signedTx.Hash().Hex()),
	)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, ethClient, signedTx)
	if err != nil {
		logger.Error("SignAndSendTransaction: no receipt for broadcast transaction",
			zap.String("txHash", signedTx.Hash().Hex()),
			zap.Error(err),
		)
		return nil, &BroadcastError{TxHash: signedTx.Hash(), Err: fmt.Errorf("failed to wait for transaction receipt: %w", err)}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Error("SignAndSendTransaction: transaction failed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Uint64("status", receipt.Status),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return nil, fmt.Errorf("transaction failed with status %d", receipt.Status)
	}

	fields := []zap.Field{
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed),
	}
	if receipt.BlockNumber != nil {
		fields = append(fields, zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()))
	}
	logger.Info("SignAndSendTransaction: transaction succeeded", fields...)

	return receipt, nil
}
