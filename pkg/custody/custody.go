// Package custody moves token balances for a bridge deployment running in process.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Custody is the token side of a bridge: escrow for locks, supply changes for mints and burns.
type Custody interface {
	// Escrow moves amount from owner into the bridge's escrow.
	Escrow(owner bridgemsg.Address, amount uint64) error
	// Release pays amount out of escrow to recipient.
	Release(recipient bridgemsg.Address, amount uint64) error
	// Mint creates amount new tokens for recipient.
	Mint(recipient bridgemsg.Address, amount uint64) error
	// Burn destroys amount tokens held by owner.
	Burn(owner bridgemsg.Address, amount uint64) error
}

// Ledger keeps balances in memory. Balances are 256 bit so repeated mints cannot wrap.
type Ledger struct {
	mu       sync.Mutex
	balances map[bridgemsg.Address]*uint256.Int
	escrow   *uint256.Int
	supply   *uint256.Int
}

var _ Custody = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[bridgemsg.Address]*uint256.Int),
		escrow:   new(uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (l *Ledger) balance(a bridgemsg.Address) *uint256.Int {
	b, ok := l.balances[a]
	if !ok {
		b = new(uint256.Int)
		l.balances[a] = b
	}
	return b
}

// Credit gives owner tokens outside of the bridge flow, e.g. a devnet faucet.
func (l *Ledger) Credit(owner bridgemsg.Address, amount uint64) error {
	return l.Mint(owner, amount)
}

func (l *Ledger) Escrow(owner bridgemsg.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(owner)
	a := uint256.NewInt(amount)
	if b.Lt(a) {
		return fmt.Errorf("%w: %s holds %s, needs %d", ErrInsufficientBalance, owner, b.Dec(), amount)
	}
	b.Sub(b, a)
	l.escrow.Add(l.escrow, a)
	return nil
}

func (l *Ledger) Release(recipient bridgemsg.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := uint256.NewInt(amount)
	if l.escrow.Lt(a) {
		return fmt.Errorf("%w: escrow holds %s, needs %d", common.ErrSupplyInvariant, l.escrow.Dec(), amount)
	}
	l.escrow.Sub(l.escrow, a)
	b := l.balance(recipient)
	b.Add(b, a)
	return nil
}

func (l *Ledger) Mint(recipient bridgemsg.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := uint256.NewInt(amount)
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, a)
	if overflow {
		return fmt.Errorf("%w: supply", common.ErrOverflow)
	}
	l.supply = supply
	b := l.balance(recipient)
	b.Add(b, a)
	return nil
}

func (l *Ledger) Burn(owner bridgemsg.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(owner)
	a := uint256.NewInt(amount)
	if b.Lt(a) {
		return fmt.Errorf("%w: %s holds %s, needs %d", ErrInsufficientBalance, owner, b.Dec(), amount)
	}
	b.Sub(b, a)
	l.supply.Sub(l.supply, a)
	return nil
}

// BalanceOf returns a copy of owner's balance.
func (l *Ledger) BalanceOf(owner bridgemsg.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Escrowed returns a copy of the escrowed amount.
func (l *Ledger) Escrowed() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow.Clone()
}

// Supply returns a copy of the circulating supply created through this ledger.
func (l *Ledger) Supply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.Clone()
}
