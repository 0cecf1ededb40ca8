package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet signs transactions for a single Solana account.
type Wallet interface {
	PublicKey() solana.PublicKey
	// PrivateKey returns the key for pk, or nil if the wallet does not hold it.
	PrivateKey(pk solana.PublicKey) *solana.PrivateKey
}

// LocalWallet keeps its key in memory.
type LocalWallet struct {
	key solana.PrivateKey
}

func NewLocalWallet(key solana.PrivateKey) *LocalWallet {
	return &LocalWallet{key: key}
}

// LoadWallet reads a keypair file as written by solana-keygen.
func LoadWallet(path string) (*LocalWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load solana keypair from %s: %w", path, err)
	}
	return NewLocalWallet(key), nil
}

func (w *LocalWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *LocalWallet) PrivateKey(pk solana.PublicKey) *solana.PrivateKey {
	if !pk.Equals(w.key.PublicKey()) {
		return nil
	}
	return &w.key
}
