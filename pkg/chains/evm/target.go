package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"go.uber.org/zap"
)

// DefaultGasLimit is used when the caller does not pass a resource limit.
const DefaultGasLimit = 300_000

// Target submits executeUnlock / executeMint transactions to the bridge contract.
type Target struct {
	name     string
	client   Client
	address  ethCommon.Address
	key      *ecdsa.PrivateKey
	from     ethCommon.Address
	gasLimit uint64
	logger   *zap.Logger

	// mu serializes nonce allocation of the sender account.
	mu      sync.Mutex
	chainID *big.Int
}

var _ submitter.Target = (*Target)(nil)

func NewTarget(name string, client Client, address ethCommon.Address, key *ecdsa.PrivateKey, gasLimit uint64, logger *zap.Logger) *Target {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	from := ethCrypto.PubkeyToAddress(key.PublicKey)
	return &Target{
		name:     name,
		client:   client,
		address:  address,
		key:      key,
		from:     from,
		gasLimit: gasLimit,
		logger:   logger.With(zap.String("target", name), zap.Stringer("sender", from)),
	}
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) IsExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error) {
	data, err := bridgeABI.Pack("executed", [32]byte(id))
	if err != nil {
		return false, err
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return false, common.NewTransientError(fmt.Errorf("executed(%s) call failed: %w", id, err))
	}
	res, err := bridgeABI.Unpack("executed", out)
	if err != nil {
		return false, fmt.Errorf("failed to unpack executed(%s): %w", id, err)
	}
	executed, ok := res[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected executed(%s) result %T", id, res[0])
	}
	return executed, nil
}

func methodFor(op common.Operation) (string, error) {
	switch op {
	case common.OpExecuteUnlock:
		return "executeUnlock", nil
	case common.OpExecuteMint:
		return "executeMint", nil
	default:
		return "", fmt.Errorf("operation %s is not supported by the EVM bridge", op)
	}
}

// packCall encodes the contract call for op.
func packCall(op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData) ([]byte, error) {
	method, err := methodFor(op)
	if err != nil {
		return nil, err
	}
	for _, b := range msg.Recipient[:12] {
		if b != 0 {
			return nil, fmt.Errorf("%w: recipient %s is not an EVM address", common.ErrOrderMismatch, msg.Recipient)
		}
	}

	rawSigs := make([][]byte, len(sigs))
	for i := range sigs {
		rawSigs[i] = sigs[i][:]
	}

	return bridgeABI.Pack(method,
		msg.SourceChainID,
		[32]byte(msg.OrderID),
		msg.Recipient.EVM(),
		new(big.Int).SetUint64(msg.Amount),
		msg.Nonce,
		msg.Timestamp,
		rawSigs,
	)
}

// Submit sends the transaction and waits for its receipt. Reverts are permanent failures carrying the
// rejection kind named by the contract's revert reason.
func (t *Target) Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, resourceLimit uint64) (*submitter.Receipt, error) {
	data, err := packCall(op, msg, sigs)
	if err != nil {
		return nil, err
	}
	gasLimit := t.gasLimit
	if resourceLimit > 0 {
		gasLimit = resourceLimit
	}

	signed, err := t.signTransaction(ctx, data, gasLimit)
	if err != nil {
		return nil, err
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return nil, classifyRPCError(fmt.Errorf("failed to send %s: %w", signed.Hash(), err))
	}
	t.logger.Info("submitted transaction",
		zap.String("operation", string(op)),
		zap.Stringer("order_id", msg.OrderID),
		zap.Stringer("tx", signed.Hash()),
		zap.Uint64("gas_limit", gasLimit))

	receipt, err := bind.WaitMined(ctx, t.client, signed)
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("waiting for %s: %w", signed.Hash(), err))
	}

	if receipt.Status != ethTypes.ReceiptStatusSuccessful {
		return nil, t.revertError(ctx, signed, receipt, msg.OrderID)
	}

	var height uint64
	if receipt.BlockNumber != nil {
		height = receipt.BlockNumber.Uint64()
	}
	return &submitter.Receipt{TxID: signed.Hash().Hex(), Height: height}, nil
}

// revertError explains a mined revert. The call is replayed at the receipt's block to recover the revert
// reason, since receipts do not carry it.
func (t *Target) revertError(ctx context.Context, tx *ethTypes.Transaction, receipt *ethTypes.Receipt, id bridgemsg.OrderID) error {
	call := ethereum.CallMsg{
		From:     t.from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Data:     tx.Data(),
	}
	_, callErr := t.client.CallContract(ctx, call, receipt.BlockNumber)
	if callErr != nil {
		if kind := revertKind(callErr.Error()); kind != nil {
			return fmt.Errorf("%w: transaction %s reverted in block %s: %v", kind, tx.Hash(), receipt.BlockNumber, callErr)
		}
	}

	if executed, err := t.IsExecuted(ctx, id); err == nil && executed {
		return fmt.Errorf("%w: transaction %s reverted", common.ErrAlreadyExecuted, tx.Hash())
	}
	if callErr != nil {
		return fmt.Errorf("transaction %s reverted in block %s: %v", tx.Hash(), receipt.BlockNumber, callErr)
	}
	return fmt.Errorf("transaction %s reverted in block %s", tx.Hash(), receipt.BlockNumber)
}

func (t *Target) signTransaction(ctx context.Context, data []byte, gasLimit uint64) (*ethTypes.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.chainID == nil {
		id, err := t.client.ChainID(ctx)
		if err != nil {
			return nil, common.NewTransientError(fmt.Errorf("failed to read chain id: %w", err))
		}
		t.chainID = id
	}

	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("failed to read nonce: %w", err))
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("failed to suggest gas price: %w", err))
	}

	tx := ethTypes.NewTransaction(nonce, t.address, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethTypes.SignTx(tx, ethTypes.NewEIP155Signer(t.chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
