// SECURITY: LedgerDB serializes its own writes. Do not write its keys through any other handle.
package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executedOrdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scai_bridge_db_executed_orders_total",
			Help: "Total number of orders marked executed in the database",
		})
	reconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scai_bridge_db_reconciliation_required_total",
			Help: "Total number of payouts whose executed flag could not be committed",
		})
)

// Define prefixes used to isolate ledger entries stored in the database.
const (
	executedPrefix = "LEDGER:EXECUTED:V1:"
	orderPrefix    = "LEDGER:ORDER:V1:"
	totalLockedKey = "LEDGER:TOTAL_LOCKED:V1"
)

var errPayoutAborted = errors.New("payout aborted")

// LedgerDB is a ledger.Ledger persisted in badger.
type LedgerDB struct {
	mu sync.Mutex
	db *badger.DB
	// ns separates the ledgers of several in-process bridges sharing one database.
	ns string
}

var _ ledger.Ledger = (*LedgerDB)(nil)

func NewLedgerDB(d *Database) *LedgerDB {
	return &LedgerDB{db: d.db}
}

// NewChainLedgerDB returns the ledger of the bridge deployed on chainID.
func NewChainLedgerDB(d *Database, chainID uint64) *LedgerDB {
	return &LedgerDB{db: d.db, ns: fmt.Sprintf("%d:", chainID)}
}

func (d *LedgerDB) executedKey(id bridgemsg.OrderID) []byte {
	return []byte(executedPrefix + d.ns + id.String())
}

func (d *LedgerDB) orderKey(id bridgemsg.OrderID) []byte {
	return []byte(orderPrefix + d.ns + id.String())
}

func (d *LedgerDB) totalLockedKey() []byte {
	if d.ns == "" {
		return []byte(totalLockedKey)
	}
	return []byte(totalLockedKey + ":" + d.ns)
}

func (d *LedgerDB) IsExecuted(id bridgemsg.OrderID) (bool, error) {
	key := d.executedKey(id)
	var executed bool
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		executed, err = exists(txn, key)
		return err
	})
	if err != nil {
		return false, &DBError{Op: OpRead, Key: key, Err: err}
	}
	return executed, nil
}

func (d *LedgerDB) MarkExecuted(id bridgemsg.OrderID) error {
	return d.Settle(id, 0, nil)
}

// Settle checks, pays out and marks executed inside one badger transaction. The payout runs last, after
// every write has been staged, so the only failure left after a successful payout is the commit itself.
func (d *LedgerDB) Settle(id bridgemsg.OrderID, unlockAmount uint64, payout func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.executedKey(id)
	paid := false
	var payoutErr error

	err := d.db.Update(func(txn *badger.Txn) error {
		executed, err := exists(txn, key)
		if err != nil {
			return &DBError{Op: OpRead, Key: key, Err: err}
		}
		if executed {
			return fmt.Errorf("%w: order %s", common.ErrAlreadyExecuted, id)
		}

		total, err := d.readTotalLocked(txn)
		if err != nil {
			return err
		}
		if unlockAmount > total {
			return fmt.Errorf("%w: unlock of %d exceeds %d locked", common.ErrSupplyInvariant, unlockAmount, total)
		}

		if err := txn.Set(key, []byte{1}); err != nil {
			return &DBError{Op: OpUpdate, Key: key, Err: err}
		}
		if unlockAmount > 0 {
			if err := d.writeTotalLocked(txn, total-unlockAmount); err != nil {
				return err
			}
		}

		if payout != nil {
			if payoutErr = payout(); payoutErr != nil {
				return errPayoutAborted
			}
			paid = true
		}
		return nil
	})

	switch {
	case err == nil:
		executedOrdersTotal.Inc()
		return nil
	case errors.Is(err, errPayoutAborted):
		return fmt.Errorf("%w: %w", common.ErrPayoutFailed, payoutErr)
	case paid:
		reconciliationsTotal.Inc()
		return &common.ReconciliationError{OrderID: id, Err: &DBError{Op: OpUpdate, Key: key, Err: err}}
	default:
		return err
	}
}

func (d *LedgerDB) RecordOrder(rec *ledger.OrderRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	key := d.orderKey(rec.OrderID)

	return d.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, key)
		if err != nil {
			return &DBError{Op: OpRead, Key: key, Err: err}
		}
		if found {
			return fmt.Errorf("%w: order %s", common.ErrDuplicateOrder, rec.OrderID)
		}

		if rec.Kind == ledger.OrderLock {
			total, err := d.readTotalLocked(txn)
			if err != nil {
				return err
			}
			if total, err = ledger.CheckedAdd(total, rec.Amount); err != nil {
				return err
			}
			if err := d.writeTotalLocked(txn, total); err != nil {
				return err
			}
		}

		if err := txn.Set(key, b); err != nil {
			return &DBError{Op: OpUpdate, Key: key, Err: err}
		}
		return nil
	})
}

func (d *LedgerDB) Order(id bridgemsg.OrderID) (*ledger.OrderRecord, error) {
	key := d.orderKey(id)
	var rec ledger.OrderRecord

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return rec.UnmarshalBinary(val)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: order %s", common.ErrUnknownOrder, id)
	}
	if err != nil {
		return nil, &DBError{Op: OpRead, Key: key, Err: err}
	}
	return &rec, nil
}

func (d *LedgerDB) TotalLocked() (uint64, error) {
	var total uint64
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		total, err = d.readTotalLocked(txn)
		return err
	})
	return total, err
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *LedgerDB) readTotalLocked(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(d.totalLockedKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, &DBError{Op: OpRead, Key: d.totalLockedKey(), Err: err}
	}
	var total uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("locked total is %d bytes", len(val))
		}
		total = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, &DBError{Op: OpRead, Key: d.totalLockedKey(), Err: err}
	}
	return total, nil
}

func (d *LedgerDB) writeTotalLocked(txn *badger.Txn, total uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, total)
	if err := txn.Set(d.totalLockedKey(), b); err != nil {
		return &DBError{Op: OpUpdate, Key: d.totalLockedKey(), Err: err}
	}
	return nil
}
