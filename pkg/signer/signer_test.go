package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/devnet"
	"github.com/majednitol/scai-solana-bridge/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignerUri(t *testing.T) {
	tests := []struct {
		label        string
		path         string
		expectedType SignerType
		expectedCfg  string
	}{
		{label: "RandomText", path: "RandomText", expectedType: InvalidSignerType},
		{label: "ArbitraryUriScheme", path: "arb://data", expectedType: InvalidSignerType},
		{label: "FileURI", path: "file://whatever", expectedType: FileSignerType, expectedCfg: "whatever"},
		{label: "FileUriNoSchemeSeparator", path: "filewhatever", expectedType: InvalidSignerType},
		{label: "FileUriMultipleSchemeSeparators", path: "file://testing://this://", expectedType: FileSignerType, expectedCfg: "testing://this://"},
		{label: "AmazonKms", path: "amazonkms://arn:aws:kms:us-east-2:123456789012:key/abc", expectedType: AmazonKmsSignerType, expectedCfg: "arn:aws:kms:us-east-2:123456789012:key/abc"},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			signerType, cfg := ParseSignerUri(tc.path)
			assert.Equal(t, tc.expectedType, signerType)
			assert.Equal(t, tc.expectedCfg, cfg)
		})
	}
}

func TestRegionFromArn(t *testing.T) {
	assert.Equal(t, "us-east-2", regionFromArn("arn:aws:kms:us-east-2:123456789012:key/abc"))
	assert.Equal(t, "", regionFromArn("not-an-arn"))
	assert.Equal(t, "", regionFromArn("arn:aws:kms"))
}

func TestFileSignerNonExistentFile(t *testing.T) {
	_, err := NewSignerFromUri(context.Background(), "file://somewhere/on/disk.key", common.GoTest)
	assert.Error(t, err)

	fs, err := NewFileSigner(true, "somewhere/on/disk.key")
	assert.Nil(t, fs)
	assert.Error(t, err)
}

func TestFileSignerRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "validator.key")
	key := devnet.InsecureDeterministicEcdsaKeyByIndex(0)

	require.NoError(t, WriteArmoredKey(key, "validator 0", path, false))
	assert.Error(t, WriteArmoredKey(key, "validator 0", path, false), "existing key must not be overwritten")

	s, err := NewSignerFromUri(ctx, "file://"+path, common.MainNet)
	require.NoError(t, err)
	assert.Equal(t, "file", s.TypeAsString())
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), Address(ctx, s))

	hash := ethcrypto.Keccak256([]byte("data"))
	sig, err := s.Sign(ctx, hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	valid, err := s.Verify(ctx, sig, hash)
	require.NoError(t, err)
	assert.True(t, valid)

	other := ethcrypto.Keccak256([]byte("other"))
	valid, err = s.Verify(ctx, sig, other)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestFileSignerRefusesUnsafeKeyInProduction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devnet.key")
	require.NoError(t, WriteArmoredKey(devnet.InsecureDeterministicEcdsaKeyByIndex(1), "", path, true))

	_, err := NewSignerFromUri(context.Background(), "file://"+path, common.MainNet)
	assert.ErrorContains(t, err, "refusing to use deterministic key")

	_, err = NewSignerFromUri(context.Background(), "file://"+path, common.UnsafeDevNet)
	assert.NoError(t, err)
}

func TestSignMessageIsAcceptedByVerifier(t *testing.T) {
	ctx := context.Background()
	key := devnet.InsecureDeterministicEcdsaKeyByIndex(2)
	s, err := NewGeneratedSigner(key)
	require.NoError(t, err)

	set, err := common.NewValidatorSet([]ethcommon.Address{Address(ctx, s)}, 1, 0)
	require.NoError(t, err)

	msg := &bridgemsg.BridgeMessage{SourceChainID: 1, DestChainID: 2, Amount: 10, Nonce: 1, Timestamp: 1700000000}
	sig, err := SignMessage(ctx, s, msg)
	require.NoError(t, err)

	assert.Equal(t, 1, verifier.CountValidSigners(set, msg.SigningDigest(), []bridgemsg.SignatureData{sig}))
}

func TestGeneratedSignerRandomKey(t *testing.T) {
	a, err := NewGeneratedSigner(nil)
	require.NoError(t, err)
	b, err := NewGeneratedSigner(nil)
	require.NoError(t, err)
	assert.NotEqual(t, Address(context.Background(), a), Address(context.Background(), b))
}

// fakeKms signs with a local key and answers in the DER encodings KMS uses.
type fakeKms struct {
	key     *ecdsa.PrivateKey
	highS   bool
	signErr error
}

func (f *fakeKms) GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	raw := ethcrypto.FromECDSAPub(&f.key.PublicKey)
	der, err := asn1.Marshal(asn1EcPublicKey{
		EcPublicKeyInfo: asn1EcPublicKeyInfo{
			Algorithm:  asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1},
			Parameters: asn1.ObjectIdentifier{1, 3, 132, 0, 10},
		},
		PublicKey: asn1.BitString{Bytes: raw, BitLength: len(raw) * 8},
	})
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{PublicKey: der}, nil
}

func (f *fakeKms) Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	sig, err := ethcrypto.Sign(params.Message, f.key)
	if err != nil {
		return nil, err
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if f.highS {
		s = new(big.Int).Sub(secp256k1N, s)
	}
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: der}, nil
}

func TestAmazonKmsSigner(t *testing.T) {
	ctx := context.Background()
	key := devnet.InsecureDeterministicEcdsaKeyByIndex(3)

	for _, highS := range []bool{false, true} {
		client := &fakeKms{key: key, highS: highS}
		s, err := newAmazonKmsSignerWithClient(ctx, "arn:aws:kms:us-east-2:123456789012:key/abc", client)
		require.NoError(t, err)
		assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), Address(ctx, s))

		hash := ethcrypto.Keccak256([]byte("kms"))
		sig, err := s.Sign(ctx, hash)
		require.NoError(t, err)
		require.Len(t, sig, 65)
		assert.LessOrEqual(t, sig[64], byte(1))
		assert.LessOrEqual(t, new(big.Int).SetBytes(sig[32:64]).Cmp(secp256k1HalfN), 0)

		valid, err := s.Verify(ctx, sig, hash)
		require.NoError(t, err)
		assert.True(t, valid)
	}
}

func TestAmazonKmsSignerPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	client := &fakeKms{key: devnet.InsecureDeterministicEcdsaKeyByIndex(4), signErr: errors.New("throttled")}
	s, err := newAmazonKmsSignerWithClient(ctx, "key", client)
	require.NoError(t, err)

	_, err = s.Sign(ctx, ethcrypto.Keccak256([]byte("x")))
	assert.ErrorContains(t, err, "throttled")
}

func TestAdjustBufferSize(t *testing.T) {
	assert.Len(t, adjustBufferSize([]byte{1}), 32)
	assert.Equal(t, byte(1), adjustBufferSize([]byte{1})[31])

	long := make([]byte, 33)
	long[32] = 7
	assert.Len(t, adjustBufferSize(long), 32)
	assert.Equal(t, byte(7), adjustBufferSize(long)[31])
}
