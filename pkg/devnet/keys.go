// Package devnet holds helpers for local development networks. Nothing in here is safe for production.
package devnet

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// InsecureDeterministicEcdsaKeyByIndex derives a deterministic secp256k1 key for the idx-th devnet validator.
func InsecureDeterministicEcdsaKeyByIndex(idx uint64) *ecdsa.PrivateKey {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], idx)
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("scai-bridge-devnet-validator"), seed[:]))
	if err != nil {
		panic(err)
	}
	return key
}

// ValidatorKeys returns n deterministic devnet validator keys and their addresses.
func ValidatorKeys(n int) ([]*ecdsa.PrivateKey, []common.Address) {
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]common.Address, n)
	for i := 0; i < n; i++ {
		keys[i] = InsecureDeterministicEcdsaKeyByIndex(uint64(i))
		addrs[i] = crypto.PubkeyToAddress(keys[i].PublicKey)
	}
	return keys, addrs
}

// AdminKey is the deterministic devnet admin key.
func AdminKey() *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("scai-bridge-devnet-admin")))
	if err != nil {
		panic(err)
	}
	return key
}
