package custody

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreSignsWithSealedKey(t *testing.T) {
	const chainID = uint64(1)
	ks := NewKeystore("encryption-secret-at-least-16", chainID)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(priv.PublicKey)

	sealed, err := ks.Encrypt(priv)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(crypto.FromECDSA(priv)))

	tx := types.NewTransaction(0, common.HexToAddress("0x1111111111111111111111111111111111111111"),
		big.NewInt(1000), 21000, big.NewInt(1), nil)
	signed, err := ks.SignTx(sealed, tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), signed)
	require.NoError(t, err)
	assert.Equal(t, owner, sender)
}

func TestKeystoreSealedBlobsAreUnique(t *testing.T) {
	ks := NewKeystore("encryption-secret-at-least-16", 1)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	a, err := ks.Encrypt(priv)
	require.NoError(t, err)
	b, err := ks.Encrypt(priv)
	require.NoError(t, err)
	// Fresh nonce per seal, so identical keys never produce identical blobs.
	assert.NotEqual(t, a, b)
}

func TestKeystoreRejectsWrongSecret(t *testing.T) {
	ks := NewKeystore("encryption-secret-at-least-16", 1)
	other := NewKeystore("a-different-secret-entirely!!", 1)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, err := ks.Encrypt(priv)
	require.NoError(t, err)

	tx := types.NewTransaction(0, common.Address{}, big.NewInt(1), 21000, big.NewInt(1), nil)
	_, err = other.SignTx(sealed, tx)
	assert.ErrorIs(t, err, ErrKeyDecryptFailed)
}

func TestKeystoreRejectsTruncatedBlob(t *testing.T) {
	ks := NewKeystore("encryption-secret-at-least-16", 1)
	tx := types.NewTransaction(0, common.Address{}, big.NewInt(1), 21000, big.NewInt(1), nil)

	_, err := ks.SignTx([]byte("short"), tx)
	assert.ErrorIs(t, err, ErrKeyMaterialMissing)

	_, err = ks.SignTx(nil, tx)
	assert.ErrorIs(t, err, ErrKeyMaterialMissing)
}
