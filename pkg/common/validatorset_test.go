package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeys = []common.Address{
	common.HexToAddress("0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"),
	common.HexToAddress("0x88D7D8B32a9105d228100E72dFFe2Fae0705D31c"),
	common.HexToAddress("0x58076F561CC62A47087B567C86f986426dFCD000"),
}

var testAdmin = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

func TestNewValidatorSet(t *testing.T) {
	set, err := NewValidatorSet(testKeys, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, testKeys, set.Keys)
	assert.Equal(t, 2, set.Threshold)
	assert.Equal(t, uint64(3), set.Epoch)
	assert.Equal(t, []string{testKeys[0].Hex(), testKeys[1].Hex(), testKeys[2].Hex()}, set.KeysAsHexStrings())
}

func TestNewValidatorSetRejectsInvalidInput(t *testing.T) {
	tooMany := make([]common.Address, MaxValidatorCount+1)
	for i := range tooMany {
		tooMany[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}

	tests := []struct {
		name      string
		keys      []common.Address
		threshold int
	}{
		{"empty", nil, 1},
		{"zero threshold", testKeys, 0},
		{"negative threshold", testKeys, -1},
		{"threshold above set size", testKeys, 4},
		{"duplicate key", []common.Address{testKeys[0], testKeys[0]}, 1},
		{"zero address", []common.Address{{}}, 1},
		{"too many validators", tooMany, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidatorSet(tc.keys, tc.threshold, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestKeyIndex(t *testing.T) {
	set, err := NewValidatorSet(testKeys, 1, 0)
	require.NoError(t, err)

	idx, ok := set.KeyIndex(testKeys[1])
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	idx, ok = set.KeyIndex(testAdmin)
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestValidatorRegistry(t *testing.T) {
	r, err := NewValidatorRegistry(testAdmin, testKeys, 2)
	require.NoError(t, err)

	assert.True(t, r.IsValidator(testKeys[0]))
	assert.False(t, r.IsValidator(testAdmin))
	assert.Equal(t, 2, r.Threshold())
	assert.Equal(t, uint64(0), r.Epoch())
	assert.True(t, r.IsAdmin(testAdmin))
	assert.Equal(t, testAdmin, r.Admin())
}

func TestValidatorRegistryUpdate(t *testing.T) {
	r, err := NewValidatorRegistry(testAdmin, testKeys, 2)
	require.NoError(t, err)
	before := r.Current()

	_, err = r.UpdateValidators(testKeys[0], testKeys[:1], 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Same(t, before, r.Current())

	_, err = r.UpdateValidators(testAdmin, testKeys, 5)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Same(t, before, r.Current())

	set, err := r.UpdateValidators(testAdmin, testKeys[1:], 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), set.Epoch)
	assert.Same(t, set, r.Current())
	assert.False(t, r.IsValidator(testKeys[0]))
	assert.True(t, r.IsValidator(testKeys[2]))
	assert.Equal(t, 1, r.Threshold())

	// The previous snapshot is unchanged.
	assert.Equal(t, testKeys, before.Keys)
	assert.Equal(t, 2, before.Threshold)
}
