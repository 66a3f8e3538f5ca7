// Package ledger records which orders have been executed and which have been locked on this chain.
//
// An order is executed at most once: the executed flag goes from false to true exactly once and is never reset.
package ledger

import (
	"fmt"
	"math"
	"sync"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
)

// Ledger is the execution and order state of one bridge deployment.
type Ledger interface {
	IsExecuted(id bridgemsg.OrderID) (bool, error)
	// MarkExecuted sets the executed flag, or fails with common.ErrAlreadyExecuted.
	MarkExecuted(id bridgemsg.OrderID) error
	// Settle marks id executed, subtracts unlockAmount from the locked total and runs payout, as one unit.
	// If payout fails nothing is recorded. If payout succeeds but the flag cannot be stored, a
	// *common.ReconciliationError is returned.
	Settle(id bridgemsg.OrderID, unlockAmount uint64, payout func() error) error
	// RecordOrder stores a new lock or burn. Locks add to the locked total.
	RecordOrder(rec *OrderRecord) error
	// Order returns a recorded order or common.ErrUnknownOrder.
	Order(id bridgemsg.OrderID) (*OrderRecord, error)
	TotalLocked() (uint64, error)
}

// CheckedAdd returns a+b or common.ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: %d + %d", common.ErrOverflow, a, b)
	}
	return a + b, nil
}

// MemoryLedger keeps all state in process memory.
type MemoryLedger struct {
	mu          sync.Mutex
	executed    map[bridgemsg.OrderID]bool
	orders      map[bridgemsg.OrderID]*OrderRecord
	totalLocked uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		executed: make(map[bridgemsg.OrderID]bool),
		orders:   make(map[bridgemsg.OrderID]*OrderRecord),
	}
}

func (l *MemoryLedger) IsExecuted(id bridgemsg.OrderID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed[id], nil
}

func (l *MemoryLedger) MarkExecuted(id bridgemsg.OrderID) error {
	return l.Settle(id, 0, nil)
}

func (l *MemoryLedger) Settle(id bridgemsg.OrderID, unlockAmount uint64, payout func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.executed[id] {
		return fmt.Errorf("%w: order %s", common.ErrAlreadyExecuted, id)
	}
	if unlockAmount > l.totalLocked {
		return fmt.Errorf("%w: unlock of %d exceeds %d locked", common.ErrSupplyInvariant, unlockAmount, l.totalLocked)
	}
	if payout != nil {
		if err := payout(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrPayoutFailed, err)
		}
	}

	l.executed[id] = true
	l.totalLocked -= unlockAmount
	return nil
}

func (l *MemoryLedger) RecordOrder(rec *OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.orders[rec.OrderID]; ok {
		return fmt.Errorf("%w: order %s", common.ErrDuplicateOrder, rec.OrderID)
	}

	total := l.totalLocked
	if rec.Kind == OrderLock {
		var err error
		if total, err = CheckedAdd(total, rec.Amount); err != nil {
			return err
		}
	}

	stored := *rec
	l.orders[rec.OrderID] = &stored
	l.totalLocked = total
	return nil
}

func (l *MemoryLedger) Order(id bridgemsg.OrderID) (*OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", common.ErrUnknownOrder, id)
	}
	out := *rec
	return &out, nil
}

func (l *MemoryLedger) TotalLocked() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked, nil
}
