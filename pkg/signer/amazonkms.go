package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kms_types "github.com/aws/aws-sdk-go-v2/service/kms/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	secp256k1N     = ethcrypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Div(secp256k1N, big.NewInt(2))

	// KmsTimeout bounds every KMS call so a hung endpoint cannot block signing forever.
	KmsTimeout = time.Second * 15
)

const minimumKmsPubkeyLength = 65

// The ASN.1 structure for an ECDSA signature produced by AWS KMS.
type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

// The ASN.1 structure for an ECDSA public key produced by AWS KMS.
type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// kmsClient is the subset of *kms.Client the signer uses.
type kmsClient interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// regionFromArn extracts the region from arn:partition:service:region:account-id:resource.
func regionFromArn(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[0] != "arn" {
		return ""
	}
	return parts[3]
}

// AmazonKms signs with a secp256k1 key held in AWS KMS. The URI is amazonkms://<key-arn>.
type AmazonKms struct {
	keyId     string
	publicKey ecdsa.PublicKey
	client    kmsClient
}

// NewAmazonKmsSigner creates a KMS client in the key's region and fetches the public key once.
func NewAmazonKmsSigner(ctx context.Context, keyArn string) (*AmazonKms, error) {
	region := regionFromArn(keyArn)
	if region == "" {
		return nil, errors.New("invalid KMS ARN")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, KmsTimeout)
	defer cancel()

	// The region passed to the config must match the one in the ARN.
	cfg, err := config.LoadDefaultConfig(timeoutCtx, config.WithDefaultRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load KMS default config: %w", err)
	}

	return newAmazonKmsSignerWithClient(ctx, keyArn, kms.NewFromConfig(cfg))
}

func newAmazonKmsSignerWithClient(ctx context.Context, keyId string, client kmsClient) (*AmazonKms, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, KmsTimeout)
	defer cancel()

	out, err := client.GetPublicKey(timeoutCtx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyId),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS signer creation failed: %w", err)
	}

	var asn1Pubkey asn1EcPublicKey
	if _, err := asn1.Unmarshal(out.PublicKey, &asn1Pubkey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal KMS public key: %w", err)
	}

	raw := asn1Pubkey.PublicKey.Bytes
	if len(raw) < minimumKmsPubkeyLength {
		return nil, errors.New("invalid KMS public key length")
	}

	// 0x04 prefix, then 32 bytes X and 32 bytes Y.
	return &AmazonKms{
		keyId:  keyId,
		client: client,
		publicKey: ecdsa.PublicKey{
			Curve: ethcrypto.S256(),
			X:     new(big.Int).SetBytes(raw[1 : 1+32]),
			Y:     new(big.Int).SetBytes(raw[1+32 : 1+64]),
		},
	}, nil
}

func (a *AmazonKms) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, KmsTimeout)
	defer cancel()

	res, err := a.client.Sign(timeoutCtx, &kms.SignInput{
		KeyId:            aws.String(a.keyId),
		Message:          hash,
		SigningAlgorithm: kms_types.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      kms_types.MessageTypeDigest,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS signing failed: %w", err)
	}

	r, s, err := derSignatureToRS(res.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	// Only low-s signatures are accepted by ecrecover on EVM chains.
	sBigInt := new(big.Int).SetBytes(s)
	if sBigInt.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, sBigInt).Bytes()
	}

	signature := make([]byte, 0, 65)
	signature = append(signature, adjustBufferSize(r)...)
	signature = append(signature, adjustBufferSize(s)...)

	// KMS does not return the recovery id, so try both.
	expected := ethcrypto.CompressPubkey(&a.publicKey)
	for _, recid := range []byte{0, 1} {
		candidate := append(bytes.Clone(signature), recid)
		pubkey, err := ethcrypto.SigToPub(hash, candidate)
		if err != nil {
			continue
		}
		if bytes.Equal(ethcrypto.CompressPubkey(pubkey), expected) {
			return candidate, nil
		}
	}

	return nil, errors.New("failed to generate valid signature")
}

func (a *AmazonKms) PublicKey(ctx context.Context) ecdsa.PublicKey {
	return a.publicKey
}

func (a *AmazonKms) Verify(ctx context.Context, sig []byte, hash []byte) (bool, error) {
	return verifyWithPublicKey(&a.publicKey, sig, hash)
}

func (a *AmazonKms) TypeAsString() string {
	return "amazonkms"
}

func derSignatureToRS(signature []byte) ([]byte, []byte, error) {
	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(signature, &sigAsn1); err != nil {
		return nil, nil, err
	}
	return sigAsn1.R.Bytes, sigAsn1.S.Bytes, nil
}

// adjustBufferSize trims b to its 32 least significant bytes or left-pads it to 32 bytes.
func adjustBufferSize(b []byte) []byte {
	length := len(b)

	if length == 32 {
		return b
	}
	if length > 32 {
		return b[length-32:]
	}

	tmp := make([]byte, 32)
	copy(tmp[32-length:], b)
	return tmp
}
