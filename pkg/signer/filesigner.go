package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/openpgp/armor" //nolint // Package is deprecated but armored key files still use it.
)

const (
	ValidatorKeyArmoredBlock = "SCAI BRIDGE VALIDATOR PRIVATE KEY"
	unsafeKeyHeader          = "UnsafeDeterministicKey"
)

type FileSigner struct {
	keyPath    string
	privateKey *ecdsa.PrivateKey
}

func NewFileSigner(allowUnsafe bool, signerKeyPath string) (*FileSigner, error) {
	key, err := LoadArmoredKey(signerKeyPath, allowUnsafe)
	if err != nil {
		return nil, fmt.Errorf("failed to load validator key: %w", err)
	}
	return &FileSigner{keyPath: signerKeyPath, privateKey: key}, nil
}

func (fs *FileSigner) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	return ethcrypto.Sign(hash, fs.privateKey)
}

func (fs *FileSigner) PublicKey(ctx context.Context) ecdsa.PublicKey {
	return fs.privateKey.PublicKey
}

func (fs *FileSigner) Verify(ctx context.Context, sig []byte, hash []byte) (bool, error) {
	return verifyWithPublicKey(&fs.privateKey.PublicKey, sig, hash)
}

func (fs *FileSigner) TypeAsString() string {
	return "file"
}

// LoadArmoredKey reads a validator key written by WriteArmoredKey. Keys flagged as deterministic are refused
// unless allowUnsafe is set.
func LoadArmoredKey(filename string, allowUnsafe bool) (*ecdsa.PrivateKey, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	p, err := armor.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read armored file: %w", err)
	}

	if p.Type != ValidatorKeyArmoredBlock {
		return nil, fmt.Errorf("invalid block type: %s", p.Type)
	}

	b, err := io.ReadAll(p.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if !allowUnsafe && p.Header[unsafeKeyHeader] == "true" {
		return nil, errors.New("refusing to use deterministic key in production")
	}

	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize raw key data: %w", err)
	}
	return key, nil
}

// WriteArmoredKey serializes a key and writes it to disk. Existing files are never overwritten.
func WriteArmoredKey(key *ecdsa.PrivateKey, description string, filename string, unsafe bool) error {
	if _, err := os.Stat(filename); !os.IsNotExist(err) {
		return errors.New("refusing to override existing key")
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	headers := map[string]string{
		"PublicKey": ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	if description != "" {
		headers["Description"] = description
	}
	if unsafe {
		headers[unsafeKeyHeader] = "true"
	}

	a, err := armor.Encode(f, ValidatorKeyArmoredBlock, headers)
	if err != nil {
		return fmt.Errorf("failed to create armor encoder: %w", err)
	}
	if _, err := a.Write(ethcrypto.FromECDSA(key)); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if err := a.Close(); err != nil {
		return fmt.Errorf("failed to close armor encoder: %w", err)
	}
	return nil
}
