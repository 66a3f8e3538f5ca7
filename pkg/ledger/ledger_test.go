package ledger_test

import (
	"testing"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return ledger.NewMemoryLedger()
	})
}

func TestOrderRecordBinary(t *testing.T) {
	rec := &ledger.OrderRecord{
		OrderID:       bridgemsg.OrderID{1, 2, 3},
		Kind:          ledger.OrderBurn,
		Sender:        bridgemsg.Address{4},
		Amount:        500,
		Nonce:         9,
		Timestamp:     1700000000,
		DestRecipient: bridgemsg.Address{31: 5},
	}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)

	var decoded ledger.OrderRecord
	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.Equal(t, *rec, decoded)

	assert.Error(t, decoded.UnmarshalBinary(b[1:]))
}

func TestCheckedAdd(t *testing.T) {
	v, err := ledger.CheckedAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	_, err = ledger.CheckedAdd(^uint64(0), 1)
	assert.Error(t, err)
}
