package authorization

import (
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-vault-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

/*
Withdrawal Authorization Format

An authorization releases `amount` from one vault, on one chain, to one recipient.

Identifier:
  id = keccak256(abi.encode(address vault, address recipient, uint256 amount, uint256 chainId, uint256 nonce))
  - 5 static ABI words, 160 bytes, fixed order
  - addresses are left-padded to 32 bytes, integers are big-endian uint256

Signature:
  - the authority signs the EIP-191 personal message of the 32 raw id bytes:
    keccak256("\x19Ethereum Signed Message:\n32" || id)
  - 65 bytes r || s || v, v in {27, 28} (0/1 also accepted)
  - this is what ethers' signer.signMessage(getBytes(id)) and web3signer's eth_sign produce

The vault address and chain id make a signature worthless on any other vault
instance or network. The nonce distinguishes otherwise identical authorizations.
*/

const (
	// PayloadLength is the byte length of an encoded authorization payload
	PayloadLength = 5 * 32
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)

	payloadArguments = abi.Arguments{
		{Name: "vault", Type: addressType},
		{Name: "recipient", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "chainId", Type: uint256Type},
		{Name: "nonce", Type: uint256Type},
	}
)

// Payload is the tuple bound into an authorization identifier
type Payload struct {
	Vault     common.Address
	Recipient common.Address
	Amount    *big.Int
	ChainID   *big.Int
	Nonce     *big.Int
}

// NewPayload builds a payload; integer arguments are copied
func NewPayload(vault, recipient common.Address, amount, chainID, nonce *big.Int) *Payload {
	return &Payload{
		Vault:     vault,
		Recipient: recipient,
		Amount:    copyInt(amount),
		ChainID:   copyInt(chainID),
		Nonce:     copyInt(nonce),
	}
}

func (p *Payload) validate() error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}
	if err := types.ValidateUint256(p.Amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if err := types.ValidateUint256(p.ChainID); err != nil {
		return fmt.Errorf("invalid chain id: %w", err)
	}
	if err := types.ValidateUint256(p.Nonce); err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}
	return nil
}

// EncodeAuthorizationPayload returns abi.encode(vault, recipient, amount, chainId, nonce).
// Signers and the vault must both go through this function.
func EncodeAuthorizationPayload(p *Payload) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	encoded, err := payloadArguments.Pack(p.Vault, p.Recipient, p.Amount, p.ChainID, p.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to abi encode authorization payload: %w", err)
	}
	return encoded, nil
}

// DecodeAuthorizationPayload is the inverse of EncodeAuthorizationPayload
func DecodeAuthorizationPayload(data []byte) (*Payload, error) {
	if len(data) != PayloadLength {
		return nil, fmt.Errorf("invalid payload length: expected %d bytes, got %d", PayloadLength, len(data))
	}

	values, err := payloadArguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to abi decode authorization payload: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("unexpected number of decoded values: %d", len(values))
	}

	vault, ok1 := values[0].(common.Address)
	recipient, ok2 := values[1].(common.Address)
	amount, ok3 := values[2].(*big.Int)
	chainID, ok4 := values[3].(*big.Int)
	nonce, ok5 := values[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("unexpected decoded value types")
	}

	return &Payload{
		Vault:     vault,
		Recipient: recipient,
		Amount:    amount,
		ChainID:   chainID,
		Nonce:     nonce,
	}, nil
}

// DeriveAuthorizationID computes keccak256 of the encoded payload
func DeriveAuthorizationID(p *Payload) (common.Hash, error) {
	encoded, err := EncodeAuthorizationPayload(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// SignedMessageHash returns the EIP-191 digest actually signed for an identifier
func SignedMessageHash(id common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(id.Bytes()))
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
