package transactionSigner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/clients/web3signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Web3TransactionSigner implements ITransactionSigner using a Web3Signer service
type Web3TransactionSigner struct {
	ethClient        EthBackend
	logger           *zap.Logger
	chainID          *big.Int
	web3SignerClient web3signer.IWeb3Signer
	fromAddress      common.Address
}

// NewWeb3TransactionSigner creates a new Web3TransactionSigner
func NewWeb3TransactionSigner(ctx context.Context, web3SignerClient web3signer.IWeb3Signer, fromAddress common.Address, ethClient EthBackend, logger *zap.Logger) (*Web3TransactionSigner, error) {
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Web3TransactionSigner{
		ethClient:        ethClient,
		logger:           logger,
		chainID:          chainID,
		web3SignerClient: web3SignerClient,
		fromAddress:      fromAddress,
	}, nil
}

// SignAndSendTransaction signs a transaction with Web3Signer and sends it to the network
func (w3s *Web3TransactionSigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, fmt.Errorf("contract creation is not supported")
	}

	fees, err := estimateDynamicFees(ctx, w3s.ethClient, w3s.chainID, w3s.fromAddress, tx, w3s.logger)
	if err != nil {
		return nil, err
	}

	txData := map[string]interface{}{
		"to":                   tx.To().Hex(),
		"value":                hexutil.EncodeBig(tx.Value()),
		"gas":                  hexutil.EncodeUint64(fees.gasLimit),
		"maxPriorityFeePerGas": hexutil.EncodeBig(fees.gasTipCap),
		"maxFeePerGas":         hexutil.EncodeBig(fees.gasFeeCap),
		"nonce":                hexutil.EncodeUint64(fees.nonce),
		"data":                 hexutil.Encode(tx.Data()),
		"type":                 "0x2", // EIP-1559 transaction type
		"chainId":              hexutil.EncodeUint64(w3s.chainID.Uint64()),
	}

	w3s.logger.Info("SignAndSendTransaction: sending transaction",
		zap.String("to", tx.To().Hex()),
		zap.String("value", tx.Value().String()),
		zap.String("maxPriorityFeePerGas", fees.gasTipCap.String()),
		zap.String("maxFeePerGas", fees.gasFeeCap.String()),
		zap.String("baseFee", fees.baseFee.String()),
		zap.Uint64("gasLimit", fees.gasLimit),
		zap.Uint64("nonce", fees.nonce),
	)

	signedTxHex, err := w3s.web3SignerClient.EthSignTransaction(ctx, w3s.fromAddress.Hex(), txData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with Web3Signer: %w", err)
	}

	signedTxBytes, err := hexutil.Decode(signedTxHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	var signedTx types.Transaction
	if err := signedTx.UnmarshalBinary(signedTxBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed transaction: %w", err)
	}

	return sendAndWait(ctx, w3s.ethClient, &signedTx, w3s.logger)
}

// GetFromAddress returns the address that will be used for signing
func (w3s *Web3TransactionSigner) GetFromAddress() common.Address {
	return w3s.fromAddress
}
