package authorization

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func FuzzEncodeAuthorizationPayloadRoundTrip(f *testing.F) {
	f.Add([]byte{0x01}, []byte{0x02}, uint64(1), uint64(31337), uint64(1))
	f.Add([]byte{}, []byte{}, uint64(0), uint64(0), uint64(0))
	f.Add([]byte{0xff, 0xee}, []byte{0xab}, ^uint64(0), uint64(1), ^uint64(0))

	f.Fuzz(func(t *testing.T, vaultBytes, recipientBytes []byte, amount, chainID, nonce uint64) {
		p := NewPayload(
			common.BytesToAddress(vaultBytes),
			common.BytesToAddress(recipientBytes),
			new(big.Int).SetUint64(amount),
			new(big.Int).SetUint64(chainID),
			new(big.Int).SetUint64(nonce),
		)

		encoded, err := EncodeAuthorizationPayload(p)
		require.NoError(t, err)
		require.Len(t, encoded, PayloadLength)

		decoded, err := DecodeAuthorizationPayload(encoded)
		require.NoError(t, err)
		require.Equal(t, p.Vault, decoded.Vault)
		require.Equal(t, p.Recipient, decoded.Recipient)
		require.Equal(t, amount, decoded.Amount.Uint64())
		require.Equal(t, chainID, decoded.ChainID.Uint64())
		require.Equal(t, nonce, decoded.Nonce.Uint64())

		id1, err := DeriveAuthorizationID(p)
		require.NoError(t, err)
		id2, err := DeriveAuthorizationID(decoded)
		require.NoError(t, err)
		require.Equal(t, id1, id2)
	})
}
