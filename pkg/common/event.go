package common

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
)

// EventKind names an event emitted by a bridge deployment.
type EventKind string

const (
	EventLock            EventKind = "Lock"
	EventBurn            EventKind = "Burn"
	EventUnlockExecuted  EventKind = "UnlockExecuted"
	EventMintExecuted    EventKind = "MintExecuted"
	EventUnlockConfirmed EventKind = "UnlockConfirmed"
)

// ParseEventKind accepts the event names used in configuration files.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case EventLock, EventBurn, EventUnlockExecuted, EventMintExecuted, EventUnlockConfirmed:
		return EventKind(s), nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// BridgeEvent is a chain event observed by a watcher.
type BridgeEvent struct {
	Kind    EventKind
	ChainID uint64
	// Height of the block (or slot) that contains the event.
	Height uint64
	// Index orders events within one height.
	Index uint32
	// TxHash is the chain-specific transaction identifier, if any.
	TxHash common.Hash
	// Timestamp is the block time of the event.
	Timestamp time.Time

	OrderID bridgemsg.OrderID
	Sender  bridgemsg.Address
	Amount  uint64
	Nonce   uint64
	// DestRecipient is set for burns. Locks pay out to the sender's address on the destination.
	DestRecipient bridgemsg.Address
}

// Recipient returns the payout address on the destination chain.
func (e *BridgeEvent) Recipient() bridgemsg.Address {
	if e.Kind == EventBurn {
		return e.DestRecipient
	}
	return e.Sender
}

// Message builds the attestation for this event, addressed to destChainID.
func (e *BridgeEvent) Message(destChainID uint64) *bridgemsg.BridgeMessage {
	return &bridgemsg.BridgeMessage{
		SourceChainID: e.ChainID,
		DestChainID:   destChainID,
		OrderID:       e.OrderID,
		Recipient:     e.Recipient(),
		Amount:        e.Amount,
		Nonce:         e.Nonce,
		Timestamp:     uint64(e.Timestamp.Unix()),
	}
}

// Operation is an execution entry point on a destination chain.
type Operation string

const (
	OpExecuteUnlock Operation = "executeUnlock"
	OpExecuteMint   Operation = "executeMint"
	OpConfirmUnlock Operation = "confirmUnlock"
)

// ParseOperation accepts the operation names used in configuration files.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpExecuteUnlock, OpExecuteMint, OpConfirmUnlock:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}
