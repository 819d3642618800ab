package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// OnchainPayout sends native value transfers from a funded hot wallet
type OnchainPayout struct {
	signer transactionSigner.ITransactionSigner
	logger *zap.Logger
}

var _ IPayout = (*OnchainPayout)(nil)

func NewOnchainPayout(signer transactionSigner.ITransactionSigner, logger *zap.Logger) *OnchainPayout {
	return &OnchainPayout{
		signer: signer,
		logger: logger,
	}
}

// Transfer sends amount wei to recipient and waits for the receipt
func (p *OnchainPayout) Transfer(ctx context.Context, recipient common.Address, amount *big.Int) (*types.TransferReceipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount", ErrPayoutFailed)
	}

	tx := ethTypes.NewTx(&ethTypes.DynamicFeeTx{
		To:    &recipient,
		Value: new(big.Int).Set(amount),
	})

	p.logger.Sugar().Infow("Sending onchain payout",
		"from", p.signer.GetFromAddress().Hex(),
		"recipient", recipient.Hex(),
		"amount", amount.String(),
	)

	receipt, err := p.signer.SignAndSendTransaction(ctx, tx)
	if err != nil {
		var broadcastErr *transactionSigner.BroadcastError
		if errors.As(err, &broadcastErr) {
			p.logger.Sugar().Errorw("Onchain payout broadcast without confirmation",
				"recipient", recipient.Hex(),
				"amount", amount.String(),
				"tx_hash", broadcastErr.TxHash.Hex(),
				"error", broadcastErr.Err,
			)
			return nil, &UnconfirmedTransferError{TxHash: broadcastErr.TxHash.Hex(), Err: broadcastErr.Err}
		}
		return nil, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	return &types.TransferReceipt{
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
		TxHash:    receipt.TxHash.Hex(),
	}, nil
}
