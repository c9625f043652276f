package custody

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Keystore seals private keys at rest and produces signatures without ever
// handing the plaintext key back to callers.
type Keystore interface {
	Encrypt(priv *ecdsa.PrivateKey) ([]byte, error)
	SignTx(encrypted []byte, tx *types.Transaction) (*types.Transaction, error)
}

// secretboxKeystore encrypts key material with NaCl secretbox. The symmetric
// key is derived from the configured secret; each sealed blob carries its own
// random nonce as a prefix.
type secretboxKeystore struct {
	key     [32]byte
	chainID *big.Int
}

func NewKeystore(secret string, chainID uint64) Keystore {
	return &secretboxKeystore{
		key:     sha256.Sum256([]byte(secret)),
		chainID: new(big.Int).SetUint64(chainID),
	}
}

func (k *secretboxKeystore) Encrypt(priv *ecdsa.PrivateKey) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], crypto.FromECDSA(priv), &nonce, &k.key)
	return sealed, nil
}

func (k *secretboxKeystore) decrypt(encrypted []byte) (*ecdsa.PrivateKey, error) {
	if len(encrypted) <= nonceSize {
		return nil, ErrKeyMaterialMissing
	}
	var nonce [nonceSize]byte
	copy(nonce[:], encrypted[:nonceSize])
	plaintext, ok := secretbox.Open(nil, encrypted[nonceSize:], &nonce, &k.key)
	if !ok {
		return nil, ErrKeyDecryptFailed
	}
	return crypto.ToECDSA(plaintext)
}

// SignTx decrypts the key only for the duration of the signature.
func (k *secretboxKeystore) SignTx(encrypted []byte, tx *types.Transaction) (*types.Transaction, error) {
	priv, err := k.decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(k.chainID), priv)
}
