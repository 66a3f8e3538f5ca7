// Package signer produces validator signatures over bridge message digests. Keys live in an armored file,
// in AWS KMS, or (tests and devnets only) in memory.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
)

// The types of validator signers that are supported
type SignerType int

const (
	InvalidSignerType SignerType = iota
	// file://<path-to-file>
	FileSignerType
	// amazonkms://<arn>
	AmazonKmsSignerType
)

// Signer is a validator key.
type Signer interface {
	// Sign expects a keccak256 hash and returns a 65 byte r || s || v signature with v in {0, 1}.
	Sign(ctx context.Context, hash []byte) (sig []byte, err error)
	// PublicKey returns the ECDSA public key of the signer.
	PublicKey(ctx context.Context) ecdsa.PublicKey
	// Verify recovers the public key from the sig/hash pair and checks it against the signer's.
	Verify(ctx context.Context, sig []byte, hash []byte) (valid bool, err error)
	TypeAsString() string
}

func NewSignerFromUri(ctx context.Context, signerUri string, env common.Environment) (Signer, error) {
	signerType, signerKeyConfig := ParseSignerUri(signerUri)

	switch signerType {
	case FileSignerType:
		return NewFileSigner(env.AllowsUnsafeKeys(), signerKeyConfig)
	case AmazonKmsSignerType:
		return NewAmazonKmsSigner(ctx, signerKeyConfig)
	default:
		return nil, fmt.Errorf("unsupported signer type in %q", signerUri)
	}
}

func ParseSignerUri(signerUri string) (signerType SignerType, signerKeyConfig string) {
	scheme, keyConfig, found := strings.Cut(signerUri, "://")
	if !found {
		return InvalidSignerType, ""
	}

	switch scheme {
	case "file":
		return FileSignerType, keyConfig
	case "amazonkms":
		return AmazonKmsSignerType, keyConfig
	default:
		return InvalidSignerType, ""
	}
}

// Address returns the validator address of s.
func Address(ctx context.Context, s Signer) ethcommon.Address {
	pk := s.PublicKey(ctx)
	return ethcrypto.PubkeyToAddress(pk)
}

// SignMessage signs the digest of msg.
func SignMessage(ctx context.Context, s Signer, msg *bridgemsg.BridgeMessage) (bridgemsg.SignatureData, error) {
	digest := msg.SigningDigest()
	sig, err := s.Sign(ctx, digest.Bytes())
	if err != nil {
		return bridgemsg.SignatureData{}, fmt.Errorf("failed to sign %s: %w", msg.MessageID(), err)
	}
	return bridgemsg.BytesToSignature(sig)
}

func verifyWithPublicKey(expected *ecdsa.PublicKey, sig []byte, hash []byte) (bool, error) {
	recovered, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return false, err
	}
	return recovered.Equal(expected), nil
}
