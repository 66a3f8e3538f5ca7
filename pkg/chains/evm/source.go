package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
	"go.uber.org/zap"
)

const blockTimeCacheSize = 1024

// Source reads Lock and Burn logs of the bridge contract.
type Source struct {
	client   Client
	address  ethCommon.Address
	chainID  uint64
	contract *bind.BoundContract
	// block number -> block time
	blockTimes *lru.Cache
	logger     *zap.Logger
}

var _ watcher.Source = (*Source)(nil)

// NewSource watches the contract at address. chainID is the bridge chain id stamped on the events.
func NewSource(client Client, address ethCommon.Address, chainID uint64, logger *zap.Logger) (*Source, error) {
	cache, err := lru.New(blockTimeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Source{
		client:     client,
		address:    address,
		chainID:    chainID,
		contract:   bind.NewBoundContract(address, bridgeABI, nil, nil, nil),
		blockTimes: cache,
		logger:     logger.With(zap.Stringer("contract", address)),
	}, nil
}

func (s *Source) CurrentHeight(ctx context.Context) (uint64, error) {
	h, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, common.NewTransientError(err)
	}
	return h, nil
}

func (s *Source) Events(ctx context.Context, kind common.EventKind, from, to uint64) ([]*common.BridgeEvent, error) {
	var name string
	switch kind {
	case common.EventLock, common.EventBurn:
		name = string(kind)
	default:
		return nil, fmt.Errorf("event %s is not emitted by the EVM bridge", kind)
	}
	if to <= from {
		return nil, nil
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from + 1),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethCommon.Address{s.address},
		Topics:    [][]ethCommon.Hash{{bridgeABI.Events[name].ID}},
	})
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("failed to filter %s logs: %w", name, err))
	}

	events := make([]*common.BridgeEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := s.decode(ctx, kind, name, l)
		if err != nil {
			if common.IsTransient(err) {
				return nil, err
			}
			s.logger.Error("dropping undecodable log",
				zap.Stringer("tx", l.TxHash),
				zap.Uint64("block", l.BlockNumber),
				zap.Uint("log_index", l.Index),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Source) decode(ctx context.Context, kind common.EventKind, name string, l ethTypes.Log) (*common.BridgeEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != bridgeABI.Events[name].ID {
		return nil, fmt.Errorf("unexpected topic in %s log", name)
	}

	var out eventLog
	if err := s.contract.UnpackLog(&out, name, l); err != nil {
		return nil, fmt.Errorf("failed to unpack %s log: %w", name, err)
	}

	amount, err := toUint64(out.Amount)
	if err != nil {
		return nil, err
	}

	ts, err := s.blockTime(ctx, l.BlockNumber)
	if err != nil {
		return nil, err
	}

	ev := &common.BridgeEvent{
		Kind:      kind,
		ChainID:   s.chainID,
		Height:    l.BlockNumber,
		Index:     uint32(l.Index), // #nosec G115 -- log indices are small
		TxHash:    l.TxHash,
		Timestamp: ts,
		OrderID:   bridgemsg.OrderID(out.OrderId),
		Sender:    bridgemsg.AddressFromEVM(out.Sender),
		Amount:    amount,
		Nonce:     out.Nonce,
	}
	if kind == common.EventBurn {
		ev.DestRecipient = bridgemsg.Address(out.DestRecipient)
	}
	return ev, nil
}

func (s *Source) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	if v, ok := s.blockTimes.Get(number); ok {
		return v.(time.Time), nil
	}
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, common.NewTransientError(fmt.Errorf("failed to fetch header %d: %w", number, err))
	}
	ts := time.Unix(int64(header.Time), 0) // #nosec G115 -- block times fit in int64
	s.blockTimes.Add(number, ts)
	return ts, nil
}

// toUint64 narrows a uint256 contract amount to the message amount type.
func toUint64(v *big.Int) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing amount", common.ErrInvalidAmount)
	}
	n, overflow := uint256.FromBig(v)
	if overflow || !n.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s does not fit in 64 bits", common.ErrOverflow, v)
	}
	return n.Uint64(), nil
}
