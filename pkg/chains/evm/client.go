// Package evm connects the relayer to the bridge contract on an EVM chain: a log based event source and a
// transaction submitting target.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	ethClient "github.com/ethereum/go-ethereum/ethclient"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
)

// Client is the part of *ethclient.Client used by the source and the target.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethTypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethTypes.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account ethCommon.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethTypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethCommon.Hash) (*ethTypes.Receipt, error)
	CodeAt(ctx context.Context, account ethCommon.Address, blockNumber *big.Int) ([]byte, error)
}

var _ Client = (*ethClient.Client)(nil)

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rawUrl string) (*ethClient.Client, error) {
	c, err := ethClient.DialContext(ctx, rawUrl)
	if err != nil {
		return nil, common.NewTransientError(err)
	}
	return c, nil
}

// executionReverted prefixes the error of a call or transaction the contract rejected.
const executionReverted = "execution reverted"

// revertReasons maps revert reasons of the bridge contracts to rejection kinds.
var revertReasons = []struct {
	reason string
	kind   error
}{
	{"already executed", common.ErrAlreadyExecuted},
	{"expired message", common.ErrExpired},
	{"invalid validator signatures", common.ErrInsufficientSignatures},
	{"must lock >0", common.ErrInvalidAmount},
	{"paused", common.ErrPaused},
}

// revertKind returns the rejection kind named by a revert reason in msg, or nil.
func revertKind(msg string) error {
	msg = strings.ToLower(msg)
	for _, r := range revertReasons {
		if strings.Contains(msg, r.reason) {
			return r.kind
		}
	}
	return nil
}

// classifyRPCError maps node errors to the error kinds the submitter understands. Reverts are permanent,
// everything else the node reports is retried.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	if kind := revertKind(err.Error()); kind != nil {
		return fmt.Errorf("%w: %v", kind, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), executionReverted) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return common.NewTransientError(err)
}
