package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// PrivateKeySigner implements ITransactionSigner with a local private key
type PrivateKeySigner struct {
	ethClient   EthBackend
	logger      *zap.Logger
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// NewPrivateKeySigner creates a signer for a hex private key, with or without 0x prefix
func NewPrivateKeySigner(ctx context.Context, privateKeyHex string, ethClient EthBackend, logger *zap.Logger) (*PrivateKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &PrivateKeySigner{
		ethClient:   ethClient,
		logger:      logger,
		chainID:     chainID,
		privateKey:  privateKey,
		fromAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// SignAndSendTransaction signs a transaction and sends it to the network
func (pks *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, fmt.Errorf("contract creation is not supported")
	}

	fees, err := estimateDynamicFees(ctx, pks.ethClient, pks.chainID, pks.fromAddress, tx, pks.logger)
	if err != nil {
		return nil, err
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   pks.chainID,
		Nonce:     fees.nonce,
		GasTipCap: fees.gasTipCap,
		GasFeeCap: fees.gasFeeCap,
		Gas:       fees.gasLimit,
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})

	pks.logger.Info("SignAndSendTransaction: sending transaction",
		zap.String("to", tx.To().Hex()),
		zap.String("value", tx.Value().String()),
		zap.String("maxPriorityFeePerGas", fees.gasTipCap.String()),
		zap.String("maxFeePerGas", fees.gasFeeCap.String()),
		zap.String("baseFee", fees.baseFee.String()),
		zap.Uint64("gasLimit", fees.gasLimit),
		zap.Uint64("nonce", fees.nonce),
	)

	signedTx, err := types.SignTx(unsigned, types.LatestSignerForChainID(pks.chainID), pks.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return sendAndWait(ctx, pks.ethClient, signedTx, pks.logger)
}

// GetFromAddress returns the address that will be used for signing
func (pks *PrivateKeySigner) GetFromAddress() common.Address {
	return pks.fromAddress
}
