package devnet

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func TestInsecureDeterministicEcdsaKeyByIndex(t *testing.T) {
	k1 := InsecureDeterministicEcdsaKeyByIndex(0)
	k2 := InsecureDeterministicEcdsaKeyByIndex(0)
	k3 := InsecureDeterministicEcdsaKeyByIndex(1)

	assert.Equal(t, crypto.FromECDSA(k1), crypto.FromECDSA(k2))
	assert.NotEqual(t, crypto.FromECDSA(k1), crypto.FromECDSA(k3))
}

func TestValidatorKeys(t *testing.T) {
	keys, addrs := ValidatorKeys(3)
	assert.Len(t, keys, 3)
	assert.Len(t, addrs, 3)
	for i := range keys {
		assert.Equal(t, crypto.PubkeyToAddress(keys[i].PublicKey), addrs[i])
	}
	assert.NotEqual(t, addrs[0], addrs[1])
	assert.NotEqual(t, crypto.PubkeyToAddress(AdminKey().PublicKey), addrs[0])
}
