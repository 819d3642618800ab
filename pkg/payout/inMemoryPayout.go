package payout

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// InMemoryPayout credits recipients in a process-local balance table
type InMemoryPayout struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	rejecting map[common.Address]bool
}

var _ IPayout = (*InMemoryPayout)(nil)

func NewInMemoryPayout() *InMemoryPayout {
	return &InMemoryPayout{
		balances:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

// RejectRecipient makes every later transfer to recipient fail, like a contract
// without a payable fallback
func (p *InMemoryPayout) RejectRecipient(recipient common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejecting[recipient] = true
}

func (p *InMemoryPayout) Transfer(_ context.Context, recipient common.Address, amount *big.Int) (*types.TransferReceipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount", ErrPayoutFailed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejecting[recipient] {
		return nil, fmt.Errorf("%w: recipient %s rejected the transfer", ErrPayoutFailed, recipient.Hex())
	}

	balance, ok := p.balances[recipient]
	if !ok {
		balance = new(big.Int)
		p.balances[recipient] = balance
	}
	balance.Add(balance, amount)

	return &types.TransferReceipt{
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
	}, nil
}

// BalanceOf returns the total credited to recipient
func (p *InMemoryPayout) BalanceOf(recipient common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if balance, ok := p.balances[recipient]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}
