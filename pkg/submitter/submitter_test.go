package submitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTarget struct {
	mu        sync.Mutex
	responses []error
	executed  bool
	// executeOnFailure simulates a transaction that landed even though the client saw an error.
	executeOnFailure bool
	queryErr         error
	submits          int
	queries          int
}

func (f *fakeTarget) Name() string { return "fake" }

func (f *fakeTarget) IsExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.executed, f.queryErr
}

func (f *fakeTarget) Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, limit uint64) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.executed {
		return nil, common.ErrAlreadyExecuted
	}
	if len(f.responses) > 0 {
		err := f.responses[0]
		f.responses = f.responses[1:]
		if err != nil {
			if f.executeOnFailure {
				f.executed = true
			}
			return nil, err
		}
	}
	f.executed = true
	return &Receipt{TxID: "0xabc", Height: 12}, nil
}

func testConfig() Config {
	return Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func testMessage() *bridgemsg.BridgeMessage {
	return &bridgemsg.BridgeMessage{SourceChainID: 1, DestChainID: 2, OrderID: bridgemsg.OrderID{1}, Amount: 10}
}

func TestSubmitSuccess(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testConfig(), zap.NewNop())

	r, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 300000)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", r.TxID)
	assert.Equal(t, "fake", r.Target)
	assert.Equal(t, common.OpExecuteMint, r.Operation)
	assert.Equal(t, bridgemsg.OrderID{1}, r.OrderID)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, 1, target.submits)
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	transient := common.NewTransientError(errors.New("connection refused"))
	target := &fakeTarget{responses: []error{transient, transient}}
	s := New(target, testConfig(), zap.NewNop())

	r, err := s.Submit(context.Background(), common.OpExecuteUnlock, testMessage(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 3, target.submits)
	assert.Equal(t, 3, target.queries)
}

func TestSubmitGivesUp(t *testing.T) {
	transient := common.NewTransientError(errors.New("connection refused"))
	target := &fakeTarget{responses: []error{transient, transient, transient, transient, transient}}
	s := New(target, testConfig(), zap.NewNop())

	_, err := s.Submit(context.Background(), common.OpExecuteUnlock, testMessage(), nil, 0)
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
	assert.Equal(t, 4, target.submits)
}

func TestSubmitDoesNotRetryRejections(t *testing.T) {
	for _, rejection := range []error{common.ErrExpired, common.ErrInsufficientSignatures, common.ErrPaused} {
		target := &fakeTarget{responses: []error{rejection}}
		s := New(target, testConfig(), zap.NewNop())

		_, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 0)
		assert.ErrorIs(t, err, rejection)
		assert.Equal(t, 1, target.submits)
		assert.False(t, IsSuccess(err))
	}
}

func TestSubmitStopsWhenAlreadyExecuted(t *testing.T) {
	target := &fakeTarget{executed: true}
	s := New(target, testConfig(), zap.NewNop())

	_, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 0)
	assert.ErrorIs(t, err, common.ErrAlreadyExecuted)
	assert.True(t, IsSuccess(err))
	assert.Equal(t, 0, target.submits)
}

func TestSubmitRechecksBeforeResubmitting(t *testing.T) {
	// The first transaction lands but the client times out waiting for it.
	target := &fakeTarget{
		responses:        []error{common.NewTransientError(context.DeadlineExceeded)},
		executeOnFailure: true,
	}
	s := New(target, testConfig(), zap.NewNop())

	_, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 0)
	assert.ErrorIs(t, err, common.ErrAlreadyExecuted)
	assert.Equal(t, 1, target.submits)
	assert.Equal(t, 2, target.queries)
}

func TestSubmitProceedsWhenQueryFails(t *testing.T) {
	target := &fakeTarget{queryErr: errors.New("rpc down")}
	s := New(target, testConfig(), zap.NewNop())

	_, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, target.submits)
}

func TestSubmitHonoursCancellation(t *testing.T) {
	transient := common.NewTransientError(errors.New("connection refused"))
	target := &fakeTarget{responses: []error{transient, transient, transient, transient}}
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	s := New(target, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, common.OpExecuteMint, testMessage(), nil, 0)
	require.Error(t, err)
	assert.Equal(t, 1, target.submits)
}

func TestRateLimit(t *testing.T) {
	target := &fakeTarget{}
	cfg := testConfig()
	cfg.RatePerSecond = 20
	s := New(target, cfg, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		target.executed = false
		_, err := s.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 0)
		require.NoError(t, err)
	}
	// Burst of one: the 2nd and 3rd submission each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
