// Package verifier counts the distinct validator signatures over a message digest.
package verifier

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	bridgecommon "github.com/majednitol/scai-solana-bridge/pkg/common"
)

// SetSource provides the validator set snapshot a verification runs against.
type SetSource interface {
	Current() *bridgecommon.ValidatorSet
}

type Verifier struct {
	sets SetSource
}

func New(sets SetSource) *Verifier {
	return &Verifier{sets: sets}
}

// RecoverSigner returns the address that produced sig over digest. Recovery ids 27/28 are
// accepted and treated as 0/1.
func RecoverSigner(digest common.Hash, sig bridgemsg.SignatureData) (common.Address, error) {
	s := sig
	switch s[64] {
	case 0, 1:
	case 27, 28:
		s[64] -= 27
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}

	pubKey, err := crypto.Ecrecover(digest.Bytes(), s[:])
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:]), nil
}

// CountValidSigners returns the number of distinct members of set that signed digest. Signatures that do
// not recover, recover to a non-member, or repeat a signer that was already counted are ignored.
func CountValidSigners(set *bridgecommon.ValidatorSet, digest common.Hash, sigs []bridgemsg.SignatureData) int {
	seen := make(map[common.Address]struct{}, len(sigs))
	for _, sig := range sigs {
		addr, err := RecoverSigner(digest, sig)
		if err != nil {
			continue
		}
		if _, ok := set.KeyIndex(addr); !ok {
			continue
		}
		seen[addr] = struct{}{}
	}
	return len(seen)
}

// Count is CountValidSigners against the current validator set.
func (v *Verifier) Count(digest common.Hash, sigs []bridgemsg.SignatureData) int {
	return CountValidSigners(v.sets.Current(), digest, sigs)
}

// Verify returns the number of distinct valid signers, or ErrInsufficientSignatures when it is below
// the threshold. Membership and threshold are read from the same snapshot.
func (v *Verifier) Verify(digest common.Hash, sigs []bridgemsg.SignatureData) (int, error) {
	set := v.sets.Current()
	n := CountValidSigners(set, digest, sigs)
	if n < set.Threshold {
		return n, fmt.Errorf("%w: %d valid of %d required (epoch %d)", bridgecommon.ErrInsufficientSignatures, n, set.Threshold, set.Epoch)
	}
	return n, nil
}

// IsInsufficient reports whether err is a threshold rejection.
func IsInsufficient(err error) bool {
	return errors.Is(err, bridgecommon.ErrInsufficientSignatures)
}
