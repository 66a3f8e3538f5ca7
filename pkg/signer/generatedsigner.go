package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GeneratedSigner holds its key in memory. It exists for tests and devnets only.
type GeneratedSigner struct {
	privateKey *ecdsa.PrivateKey
}

// NewGeneratedSigner wraps key, or a fresh random key when key is nil.
func NewGeneratedSigner(key *ecdsa.PrivateKey) (*GeneratedSigner, error) {
	if key == nil {
		var err error
		key, err = ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
		if err != nil {
			return nil, err
		}
	}
	return &GeneratedSigner{privateKey: key}, nil
}

func (gs *GeneratedSigner) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	return ethcrypto.Sign(hash, gs.privateKey)
}

func (gs *GeneratedSigner) PublicKey(ctx context.Context) ecdsa.PublicKey {
	return gs.privateKey.PublicKey
}

func (gs *GeneratedSigner) Verify(ctx context.Context, sig []byte, hash []byte) (bool, error) {
	return verifyWithPublicKey(&gs.privateKey.PublicKey, sig, hash)
}

func (gs *GeneratedSigner) TypeAsString() string {
	return "generated"
}
