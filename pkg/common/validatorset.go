package common

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MaxValidatorCount is the largest validator set the destination program can store.
const MaxValidatorCount = 10

// ValidatorSet is an immutable snapshot of the validators allowed to attest and the number of
// distinct signatures required.
type ValidatorSet struct {
	// Validator addresses, keccak256(pubkey)[12:].
	Keys []common.Address
	// Threshold is the number of distinct valid signatures required.
	Threshold int
	// Epoch increases with every update.
	Epoch uint64
}

// NewValidatorSet validates the inputs and returns a set at the given epoch.
func NewValidatorSet(keys []common.Address, threshold int, epoch uint64) (*ValidatorSet, error) {
	if len(keys) == 0 {
		return nil, &ConfigError{Field: "validators", Reason: "validator set is empty"}
	}
	if len(keys) > MaxValidatorCount {
		return nil, &ConfigError{Field: "validators", Reason: fmt.Sprintf("%d validators exceeds the maximum of %d", len(keys), MaxValidatorCount)}
	}
	if threshold <= 0 {
		return nil, &ConfigError{Field: "threshold", Reason: "threshold must be at least 1"}
	}
	if threshold > len(keys) {
		return nil, &ConfigError{Field: "threshold", Reason: fmt.Sprintf("threshold %d exceeds %d validators", threshold, len(keys))}
	}

	seen := make(map[common.Address]struct{}, len(keys))
	for _, k := range keys {
		if k == (common.Address{}) {
			return nil, &ConfigError{Field: "validators", Reason: "zero address"}
		}
		if _, ok := seen[k]; ok {
			return nil, &ConfigError{Field: "validators", Reason: fmt.Sprintf("duplicate validator %s", k.Hex())}
		}
		seen[k] = struct{}{}
	}

	return &ValidatorSet{
		Keys:      append([]common.Address(nil), keys...),
		Threshold: threshold,
		Epoch:     epoch,
	}, nil
}

func (s *ValidatorSet) KeysAsHexStrings() []string {
	r := make([]string, len(s.Keys))
	for n, k := range s.Keys {
		r[n] = k.Hex()
	}
	return r
}

// KeyIndex returns a given address index from the validator set. Returns (-1, false)
// if the address wasn't found and (index, true) otherwise.
func (s *ValidatorSet) KeyIndex(addr common.Address) (int, bool) {
	for n, k := range s.Keys {
		if k == addr {
			return n, true
		}
	}
	return -1, false
}

// ValidatorRegistry holds the current validator set of one bridge deployment.
// Updates swap the whole snapshot so readers never observe a partially applied change.
type ValidatorRegistry struct {
	mu      sync.RWMutex
	admin   common.Address
	current *ValidatorSet
}

// NewValidatorRegistry initializes the registry at epoch 0.
func NewValidatorRegistry(admin common.Address, keys []common.Address, threshold int) (*ValidatorRegistry, error) {
	set, err := NewValidatorSet(keys, threshold, 0)
	if err != nil {
		return nil, err
	}
	return &ValidatorRegistry{admin: admin, current: set}, nil
}

// UpdateValidators replaces the validator set. Only the admin may call it.
func (r *ValidatorRegistry) UpdateValidators(caller common.Address, keys []common.Address, threshold int) (*ValidatorSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.admin {
		return nil, fmt.Errorf("%w: %s is not the registry admin", ErrUnauthorized, caller.Hex())
	}

	set, err := NewValidatorSet(keys, threshold, r.current.Epoch+1)
	if err != nil {
		return nil, err
	}
	r.current = set
	return set, nil
}

// Current returns the active snapshot. The snapshot must not be modified.
func (r *ValidatorRegistry) Current() *ValidatorSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *ValidatorRegistry) IsValidator(addr common.Address) bool {
	_, ok := r.Current().KeyIndex(addr)
	return ok
}

func (r *ValidatorRegistry) Threshold() int {
	return r.Current().Threshold
}

func (r *ValidatorRegistry) Epoch() uint64 {
	return r.Current().Epoch
}

func (r *ValidatorRegistry) Admin() common.Address {
	return r.admin
}

// IsAdmin reports whether caller may perform admin-gated operations.
func (r *ValidatorRegistry) IsAdmin(caller common.Address) bool {
	return caller == r.admin
}
