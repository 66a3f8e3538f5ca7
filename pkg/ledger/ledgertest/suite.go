// Package ledgertest holds behaviour tests shared by all ledger implementations.
package ledgertest

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises an implementation. newLedger must return an empty ledger on every call.
func Run(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	t.Run("MarkExecutedOnce", func(t *testing.T) { testMarkExecutedOnce(t, newLedger(t)) })
	t.Run("SettleRunsPayoutOnce", func(t *testing.T) { testSettleRunsPayoutOnce(t, newLedger(t)) })
	t.Run("FailedPayoutLeavesOrderOpen", func(t *testing.T) { testFailedPayout(t, newLedger(t)) })
	t.Run("SupplyInvariant", func(t *testing.T) { testSupplyInvariant(t, newLedger(t)) })
	t.Run("RecordOrder", func(t *testing.T) { testRecordOrder(t, newLedger(t)) })
	t.Run("LockedTotalOverflow", func(t *testing.T) { testOverflow(t, newLedger(t)) })
	t.Run("ConcurrentSettle", func(t *testing.T) { testConcurrentSettle(t, newLedger(t)) })
}

func lockRecord(id byte, amount uint64) *ledger.OrderRecord {
	return &ledger.OrderRecord{
		OrderID: bridgemsg.OrderID{id},
		Kind:    ledger.OrderLock,
		Sender:  bridgemsg.Address{0xaa},
		Amount:  amount,
		Nonce:   uint64(id),
	}
}

func testMarkExecutedOnce(t *testing.T, l ledger.Ledger) {
	id := bridgemsg.OrderID{1}

	executed, err := l.IsExecuted(id)
	require.NoError(t, err)
	assert.False(t, executed)

	require.NoError(t, l.MarkExecuted(id))

	executed, err = l.IsExecuted(id)
	require.NoError(t, err)
	assert.True(t, executed)

	assert.ErrorIs(t, l.MarkExecuted(id), common.ErrAlreadyExecuted)
}

func testSettleRunsPayoutOnce(t *testing.T, l ledger.Ledger) {
	require.NoError(t, l.RecordOrder(lockRecord(1, 100)))

	payouts := 0
	payout := func() error {
		payouts++
		return nil
	}
	id := bridgemsg.OrderID{9}

	require.NoError(t, l.Settle(id, 40, payout))
	assert.ErrorIs(t, l.Settle(id, 40, payout), common.ErrAlreadyExecuted)
	assert.Equal(t, 1, payouts)

	total, err := l.TotalLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(60), total)
}

func testFailedPayout(t *testing.T, l ledger.Ledger) {
	require.NoError(t, l.RecordOrder(lockRecord(1, 100)))
	id := bridgemsg.OrderID{9}
	failure := errors.New("custody offline")

	err := l.Settle(id, 50, func() error { return failure })
	assert.ErrorIs(t, err, common.ErrPayoutFailed)
	assert.ErrorIs(t, err, failure)

	executed, err := l.IsExecuted(id)
	require.NoError(t, err)
	assert.False(t, executed)

	total, err := l.TotalLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), total)

	// A later attempt may still succeed.
	require.NoError(t, l.Settle(id, 50, func() error { return nil }))
}

func testSupplyInvariant(t *testing.T, l ledger.Ledger) {
	require.NoError(t, l.RecordOrder(lockRecord(1, 10)))

	called := false
	err := l.Settle(bridgemsg.OrderID{9}, 11, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, common.ErrSupplyInvariant)
	assert.False(t, called)

	executed, err := l.IsExecuted(bridgemsg.OrderID{9})
	require.NoError(t, err)
	assert.False(t, executed)
}

func testRecordOrder(t *testing.T, l ledger.Ledger) {
	lock := lockRecord(1, 10)
	require.NoError(t, l.RecordOrder(lock))
	assert.ErrorIs(t, l.RecordOrder(lock), common.ErrDuplicateOrder)

	burn := &ledger.OrderRecord{
		OrderID:       bridgemsg.OrderID{2},
		Kind:          ledger.OrderBurn,
		Sender:        bridgemsg.Address{0xbb},
		Amount:        7,
		DestRecipient: bridgemsg.Address{0xcc},
	}
	require.NoError(t, l.RecordOrder(burn))

	got, err := l.Order(lock.OrderID)
	require.NoError(t, err)
	assert.Equal(t, lock, got)

	got, err = l.Order(burn.OrderID)
	require.NoError(t, err)
	assert.Equal(t, burn, got)

	_, err = l.Order(bridgemsg.OrderID{3})
	assert.ErrorIs(t, err, common.ErrUnknownOrder)

	// Burns do not touch the locked total.
	total, err := l.TotalLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), total)
}

func testOverflow(t *testing.T, l ledger.Ledger) {
	require.NoError(t, l.RecordOrder(lockRecord(1, math.MaxUint64)))
	assert.ErrorIs(t, l.RecordOrder(lockRecord(2, 1)), common.ErrOverflow)

	_, err := l.Order(bridgemsg.OrderID{2})
	assert.ErrorIs(t, err, common.ErrUnknownOrder)
}

func testConcurrentSettle(t *testing.T, l ledger.Ledger) {
	require.NoError(t, l.RecordOrder(lockRecord(1, 1000)))

	const racers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		payouts   int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Settle(bridgemsg.OrderID{42}, 100, func() error {
				mu.Lock()
				payouts++
				mu.Unlock()
				return nil
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, common.ErrAlreadyExecuted)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, payouts)

	total, err := l.TotalLocked()
	require.NoError(t, err)
	assert.Equal(t, uint64(900), total)
}
