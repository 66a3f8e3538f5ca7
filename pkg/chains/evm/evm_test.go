package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/devnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	bridgeAddress = ethCommon.HexToAddress("0x0290FB167208Af455bB137780163b7B7a9a10C16")
	senderAddress = ethCommon.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
)

type mockClient struct {
	mu sync.Mutex

	height        uint64
	logs          []ethTypes.Log
	filterErr     error
	headerCalls   int
	executed      map[[32]byte]bool
	sent          []*ethTypes.Transaction
	sendErr       error
	receiptStatus uint64
	lastQuery     ethereum.FilterQuery
	// replayErr is returned when a reverted transaction is replayed with CallContract.
	replayErr   error
	replayBlock *big.Int
}

func newMockClient() *mockClient {
	return &mockClient{executed: map[[32]byte]bool{}, receiptStatus: ethTypes.ReceiptStatusSuccessful}
}

func (m *mockClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (m *mockClient) BlockNumber(ctx context.Context) (uint64, error) {
	return m.height, nil
}

func (m *mockClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethTypes.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerCalls++
	return &ethTypes.Header{Number: number, Time: 1700000000 + number.Uint64()}, nil
}

func (m *mockClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethTypes.Log, error) {
	m.lastQuery = q
	if m.filterErr != nil {
		return nil, m.filterErr
	}
	var out []ethTypes.Log
	for _, l := range m.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() && l.Topics[0] == q.Topics[0][0] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if !bytes.Equal(msg.Data[:4], bridgeABI.Methods["executed"].ID) {
		m.replayBlock = blockNumber
		return nil, m.replayErr
	}
	var id [32]byte
	copy(id[:], msg.Data[4:36])
	return bridgeABI.Methods["executed"].Outputs.Pack(m.executed[id])
}

func (m *mockClient) PendingNonceAt(ctx context.Context, account ethCommon.Address) (uint64, error) {
	return uint64(len(m.sent)), nil
}

func (m *mockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockClient) SendTransaction(ctx context.Context, tx *ethTypes.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockClient) TransactionReceipt(ctx context.Context, txHash ethCommon.Hash) (*ethTypes.Receipt, error) {
	return &ethTypes.Receipt{Status: m.receiptStatus, TxHash: txHash, BlockNumber: big.NewInt(42)}, nil
}

func (m *mockClient) CodeAt(ctx context.Context, account ethCommon.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func lockLog(t *testing.T, block uint64, index uint, sender ethCommon.Address, amount *big.Int, orderID [32]byte, nonce uint64) ethTypes.Log {
	t.Helper()
	ev := bridgeABI.Events["Lock"]
	data, err := ev.Inputs.NonIndexed().Pack(amount, nonce)
	require.NoError(t, err)
	return ethTypes.Log{
		Address:     bridgeAddress,
		Topics:      []ethCommon.Hash{ev.ID, ethCommon.BytesToHash(sender.Bytes()), ethCommon.Hash(orderID)},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      ethCommon.BytesToHash([]byte{byte(block), byte(index)}),
	}
}

func burnLog(t *testing.T, block uint64, sender ethCommon.Address, amount *big.Int, orderID [32]byte, dest [32]byte, nonce uint64) ethTypes.Log {
	t.Helper()
	ev := bridgeABI.Events["Burn"]
	data, err := ev.Inputs.NonIndexed().Pack(amount, dest, nonce)
	require.NoError(t, err)
	return ethTypes.Log{
		Address:     bridgeAddress,
		Topics:      []ethCommon.Hash{ev.ID, ethCommon.BytesToHash(sender.Bytes()), ethCommon.Hash(orderID)},
		Data:        data,
		BlockNumber: block,
	}
}

func TestSourceDecodesLockEvents(t *testing.T) {
	client := newMockClient()
	client.height = 20
	client.logs = []ethTypes.Log{
		lockLog(t, 11, 0, senderAddress, big.NewInt(500), [32]byte{1}, 7),
		lockLog(t, 11, 1, senderAddress, big.NewInt(600), [32]byte{2}, 8),
		lockLog(t, 30, 0, senderAddress, big.NewInt(700), [32]byte{3}, 9),
	}

	s, err := NewSource(client, bridgeAddress, 5, zap.NewNop())
	require.NoError(t, err)

	height, err := s.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), height)

	events, err := s.Events(context.Background(), common.EventLock, 10, 20)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(11), client.lastQuery.FromBlock.Uint64())
	assert.Equal(t, uint64(20), client.lastQuery.ToBlock.Uint64())
	assert.Equal(t, []ethCommon.Address{bridgeAddress}, client.lastQuery.Addresses)

	ev := events[0]
	assert.Equal(t, common.EventLock, ev.Kind)
	assert.Equal(t, uint64(5), ev.ChainID)
	assert.Equal(t, uint64(11), ev.Height)
	assert.Equal(t, bridgemsg.AddressFromEVM(senderAddress), ev.Sender)
	assert.Equal(t, uint64(500), ev.Amount)
	assert.Equal(t, bridgemsg.OrderID{1}, ev.OrderID)
	assert.Equal(t, uint64(7), ev.Nonce)
	assert.Equal(t, int64(1700000011), ev.Timestamp.Unix())
	assert.Equal(t, uint32(1), events[1].Index)

	// Both logs share a block, so the header is fetched once.
	assert.Equal(t, 1, client.headerCalls)
}

func TestSourceDecodesBurnEvents(t *testing.T) {
	client := newMockClient()
	dest := [32]byte{31: 0xd5}
	client.logs = []ethTypes.Log{burnLog(t, 3, senderAddress, big.NewInt(42), [32]byte{9}, dest, 1)}

	s, err := NewSource(client, bridgeAddress, 5, zap.NewNop())
	require.NoError(t, err)

	events, err := s.Events(context.Background(), common.EventBurn, 0, 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, common.EventBurn, events[0].Kind)
	assert.Equal(t, bridgemsg.Address(dest), events[0].DestRecipient)
	assert.Equal(t, bridgemsg.Address(dest), events[0].Recipient())
}

func TestSourceSkipsOversizedAmounts(t *testing.T) {
	client := newMockClient()
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	client.logs = []ethTypes.Log{
		lockLog(t, 1, 0, senderAddress, huge, [32]byte{1}, 0),
		lockLog(t, 1, 1, senderAddress, big.NewInt(1), [32]byte{2}, 1),
	}

	s, err := NewSource(client, bridgeAddress, 5, zap.NewNop())
	require.NoError(t, err)

	events, err := s.Events(context.Background(), common.EventLock, 0, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, bridgemsg.OrderID{2}, events[0].OrderID)
}

func TestSourceErrorsAreTransient(t *testing.T) {
	client := newMockClient()
	client.filterErr = errors.New("connection refused")

	s, err := NewSource(client, bridgeAddress, 5, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Events(context.Background(), common.EventLock, 0, 1)
	assert.True(t, common.IsTransient(err))

	_, err = s.Events(context.Background(), common.EventMintExecuted, 0, 1)
	assert.Error(t, err)
	assert.False(t, common.IsTransient(err))
}

func testMessage() *bridgemsg.BridgeMessage {
	return &bridgemsg.BridgeMessage{
		SourceChainID: 2,
		DestChainID:   5,
		OrderID:       bridgemsg.OrderID{0xaa},
		Recipient:     bridgemsg.AddressFromEVM(senderAddress),
		Amount:        1000,
		Nonce:         3,
		Timestamp:     1700000000,
	}
}

func TestTargetSubmit(t *testing.T) {
	client := newMockClient()
	key := devnet.InsecureDeterministicEcdsaKeyByIndex(9)
	target := NewTarget("evm", client, bridgeAddress, key, 0, zap.NewNop())

	msg := testMessage()
	sig, err := msg.SignWith(devnet.InsecureDeterministicEcdsaKeyByIndex(0))
	require.NoError(t, err)

	receipt, err := target.Submit(context.Background(), common.OpExecuteUnlock, msg, []bridgemsg.SignatureData{sig}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), receipt.Height)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, bridgeAddress, *tx.To())
	assert.Equal(t, uint64(DefaultGasLimit), tx.Gas())
	assert.Equal(t, tx.Hash().Hex(), receipt.TxID)

	from, err := ethTypes.Sender(ethTypes.NewEIP155Signer(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, ethCrypto.PubkeyToAddress(key.PublicKey), from)

	method := bridgeABI.Methods["executeUnlock"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, msg.SourceChainID, args[0])
	assert.Equal(t, [32]byte(msg.OrderID), args[1])
	assert.Equal(t, senderAddress, args[2])
	assert.Equal(t, 0, big.NewInt(1000).Cmp(args[3].(*big.Int)))
	assert.Equal(t, [][]byte{sig[:]}, args[6])
}

func TestTargetGasLimitOverride(t *testing.T) {
	client := newMockClient()
	target := NewTarget("evm", client, bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())

	_, err := target.Submit(context.Background(), common.OpExecuteMint, testMessage(), nil, 500_000)
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, uint64(500_000), client.sent[0].Gas())
	assert.Equal(t, bridgeABI.Methods["executeMint"].ID, client.sent[0].Data()[:4])
}

func TestTargetRejectsNonEVMRecipient(t *testing.T) {
	target := NewTarget("evm", newMockClient(), bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())
	msg := testMessage()
	msg.Recipient = bridgemsg.Address{0: 1, 31: 1}

	_, err := target.Submit(context.Background(), common.OpExecuteUnlock, msg, nil, 0)
	assert.ErrorIs(t, err, common.ErrOrderMismatch)
}

func TestTargetRejectsUnsupportedOperation(t *testing.T) {
	target := NewTarget("evm", newMockClient(), bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())
	_, err := target.Submit(context.Background(), common.OpConfirmUnlock, testMessage(), nil, 0)
	assert.Error(t, err)
	assert.False(t, common.IsTransient(err))
}

func TestTargetRevertClassification(t *testing.T) {
	tests := []struct {
		label     string
		replayErr error
		executed  bool
		kind      error
	}{
		{"Expired", errors.New("execution reverted: BridgeManager: Expired message"), false, common.ErrExpired},
		{"InvalidSignatures", errors.New("execution reverted: BridgeManager: Invalid validator signatures"), false, common.ErrInsufficientSignatures},
		{"AlreadyExecuted", errors.New("execution reverted: BridgeManager: Already executed"), true, common.ErrAlreadyExecuted},
		{"ExecutedWithoutReason", nil, true, common.ErrAlreadyExecuted},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			client := newMockClient()
			client.receiptStatus = ethTypes.ReceiptStatusFailed
			client.replayErr = tc.replayErr
			msg := testMessage()
			client.executed[[32]byte(msg.OrderID)] = tc.executed
			target := NewTarget("evm", client, bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())

			_, err := target.Submit(context.Background(), common.OpExecuteUnlock, msg, nil, 0)
			assert.ErrorIs(t, err, tc.kind)
			assert.False(t, common.IsTransient(err))
			assert.Equal(t, int64(42), client.replayBlock.Int64())
		})
	}
}

func TestTargetRevertWithoutReason(t *testing.T) {
	client := newMockClient()
	client.receiptStatus = ethTypes.ReceiptStatusFailed
	target := NewTarget("evm", client, bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())

	_, err := target.Submit(context.Background(), common.OpExecuteUnlock, testMessage(), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted in block 42")
	assert.NotErrorIs(t, err, common.ErrAlreadyExecuted)
	assert.False(t, common.IsTransient(err))
}

func TestTargetSendErrors(t *testing.T) {
	tests := []struct {
		label     string
		sendErr   string
		kind      error
		transient bool
	}{
		{"ConnectionRefused", "dial tcp: connection refused", nil, true},
		{"AlreadyExecuted", "execution reverted: BridgeManager: Already executed", common.ErrAlreadyExecuted, false},
		{"Expired", "execution reverted: BridgeManager: Expired message", common.ErrExpired, false},
		{"InvalidSignatures", "execution reverted: BridgeManager: Invalid validator signatures", common.ErrInsufficientSignatures, false},
		{"Paused", "execution reverted: Pausable: paused", common.ErrPaused, false},
		{"UnknownRevert", "execution reverted", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			client := newMockClient()
			client.sendErr = errors.New(tc.sendErr)
			target := NewTarget("evm", client, bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())

			_, err := target.Submit(context.Background(), common.OpExecuteUnlock, testMessage(), nil, 0)
			require.Error(t, err)
			assert.Equal(t, tc.transient, common.IsTransient(err))
			if tc.kind != nil {
				assert.ErrorIs(t, err, tc.kind)
			}
		})
	}
}

func TestTargetIsExecuted(t *testing.T) {
	client := newMockClient()
	target := NewTarget("evm", client, bridgeAddress, devnet.InsecureDeterministicEcdsaKeyByIndex(9), 0, zap.NewNop())
	id := bridgemsg.OrderID{5}

	executed, err := target.IsExecuted(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, executed)

	client.executed[[32]byte(id)] = true
	executed, err = target.IsExecuted(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestABIParses(t *testing.T) {
	for _, name := range []string{"Lock", "Burn"} {
		_, ok := bridgeABI.Events[name]
		assert.True(t, ok, name)
	}
	for _, name := range []string{"executeUnlock", "executeMint", "executed"} {
		_, ok := bridgeABI.Methods[name]
		assert.True(t, ok, name)
	}
}
