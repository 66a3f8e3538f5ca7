// Package bridge implements the settlement state machine of one bridge deployment: locks and burns create orders,
// and validator attestations execute unlocks, mints and unlock confirmations exactly once.
//
// Orders move Locked -> Executed, or Locked -> Expired when nobody executes them within the validity window.
// Every call is one indivisible unit, the way a chain runtime serializes transactions.
package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/custody"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger"
	"github.com/majednitol/scai-solana-bridge/pkg/verifier"
	"go.uber.org/zap"
)

// DefaultMaxFutureSkew bounds how far a message timestamp may be ahead of the local clock.
const DefaultMaxFutureSkew = 5 * time.Minute

type Config struct {
	ChainID uint64
	// ValidityWindow is how long after its timestamp a message may be executed.
	ValidityWindow time.Duration
	// MaxFutureSkew is how far ahead of the local clock a message timestamp may be. Zero selects
	// DefaultMaxFutureSkew.
	MaxFutureSkew time.Duration

	Registry *common.ValidatorRegistry
	Ledger   ledger.Ledger
	Custody  custody.Custody
	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Logger *zap.Logger
}

type Bridge struct {
	mu sync.Mutex

	chainID        uint64
	chainLabel     string
	validityWindow time.Duration
	maxFutureSkew  time.Duration

	registry *common.ValidatorRegistry
	verifier *verifier.Verifier
	ledger   ledger.Ledger
	custody  custody.Custody
	clock    clock.Clock
	logger   *zap.Logger
	events   *EventLog

	nonce       uint64
	paused      bool
	totalMinted uint64
	totalBurned uint64
}

func New(cfg Config) (*Bridge, error) {
	if cfg.ValidityWindow <= 0 {
		return nil, &common.ConfigError{Field: "validityWindow", Reason: "must be positive"}
	}
	if cfg.MaxFutureSkew < 0 {
		return nil, &common.ConfigError{Field: "maxFutureSkew", Reason: "must not be negative"}
	}
	if cfg.Registry == nil || cfg.Ledger == nil || cfg.Custody == nil {
		return nil, &common.ConfigError{Field: "bridge", Reason: "registry, ledger and custody are required"}
	}
	if cfg.MaxFutureSkew == 0 {
		cfg.MaxFutureSkew = DefaultMaxFutureSkew
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Bridge{
		chainID:        cfg.ChainID,
		chainLabel:     strconv.FormatUint(cfg.ChainID, 10),
		validityWindow: cfg.ValidityWindow,
		maxFutureSkew:  cfg.MaxFutureSkew,
		registry:       cfg.Registry,
		verifier:       verifier.New(cfg.Registry),
		ledger:         cfg.Ledger,
		custody:        cfg.Custody,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With(zap.Uint64("chain_id", cfg.ChainID)),
		events:         NewEventLog(),
	}, nil
}

// Lock escrows amount from sender and emits a Lock event for the validators to attest.
func (b *Bridge) Lock(sender bridgemsg.Address, amount uint64) (bridgemsg.OrderID, error) {
	return b.createOrder(ledger.OrderLock, sender, amount, bridgemsg.Address{})
}

// Burn destroys amount of sender's tokens and emits a Burn event naming the recipient on the other chain.
func (b *Bridge) Burn(sender bridgemsg.Address, amount uint64, destRecipient bridgemsg.Address) (bridgemsg.OrderID, error) {
	return b.createOrder(ledger.OrderBurn, sender, amount, destRecipient)
}

func (b *Bridge) createOrder(kind ledger.OrderKind, sender bridgemsg.Address, amount uint64, destRecipient bridgemsg.Address) (bridgemsg.OrderID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		return bridgemsg.OrderID{}, common.ErrPaused
	}
	if amount == 0 {
		return bridgemsg.OrderID{}, fmt.Errorf("%w: must be greater than zero", common.ErrInvalidAmount)
	}

	id, err := b.nextOrderID(sender)
	if err != nil {
		return bridgemsg.OrderID{}, err
	}
	now := b.clock.Now()

	var totalBurned uint64
	switch kind {
	case ledger.OrderLock:
		err = b.custody.Escrow(sender, amount)
	case ledger.OrderBurn:
		if totalBurned, err = ledger.CheckedAdd(b.totalBurned, amount); err == nil {
			err = b.custody.Burn(sender, amount)
		}
	}
	if err != nil {
		return bridgemsg.OrderID{}, fmt.Errorf("%s of %d failed: %w", kind, amount, err)
	}

	rec := &ledger.OrderRecord{
		OrderID:       id,
		Kind:          kind,
		Sender:        sender,
		Amount:        amount,
		Nonce:         b.nonce,
		Timestamp:     uint64(now.Unix()), // #nosec G115 -- the clock is past 1970
		DestRecipient: destRecipient,
	}
	if err := b.ledger.RecordOrder(rec); err != nil {
		b.refund(kind, sender, amount)
		return bridgemsg.OrderID{}, err
	}
	b.nonce++
	if kind == ledger.OrderBurn {
		b.totalBurned = totalBurned
	}

	ev := &common.BridgeEvent{
		ChainID:   b.chainID,
		Timestamp: now,
		OrderID:   id,
		Sender:    sender,
		Amount:    amount,
		Nonce:     rec.Nonce,
	}
	if kind == ledger.OrderLock {
		ev.Kind = common.EventLock
	} else {
		ev.Kind = common.EventBurn
		ev.DestRecipient = destRecipient
	}
	height := b.events.commit(ev)

	ordersCreated.WithLabelValues(b.chainLabel, kind.String()).Inc()
	b.logger.Info("order created",
		zap.Stringer("kind", kind),
		zap.Stringer("order_id", id),
		zap.Stringer("sender", sender),
		zap.Uint64("amount", amount),
		zap.Uint64("height", height))

	return id, nil
}

// nextOrderID skips nonces whose order id is already recorded, e.g. after a restart on a persistent ledger.
func (b *Bridge) nextOrderID(sender bridgemsg.Address) (bridgemsg.OrderID, error) {
	for {
		id := bridgemsg.NewOrderID(b.chainID, sender, b.nonce)
		_, err := b.ledger.Order(id)
		if errors.Is(err, common.ErrUnknownOrder) {
			return id, nil
		}
		if err != nil {
			return bridgemsg.OrderID{}, err
		}
		b.nonce++
	}
}

func (b *Bridge) refund(kind ledger.OrderKind, sender bridgemsg.Address, amount uint64) {
	var err error
	if kind == ledger.OrderLock {
		err = b.custody.Release(sender, amount)
	} else {
		err = b.custody.Mint(sender, amount)
	}
	if err != nil {
		b.logger.Error("failed to refund order that could not be recorded",
			zap.Stringer("kind", kind),
			zap.Stringer("sender", sender),
			zap.Uint64("amount", amount),
			zap.Error(err))
	}
}

// ExecuteUnlock releases escrowed tokens to msg.Recipient, once, given enough validator signatures.
func (b *Bridge) ExecuteUnlock(msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.execute(common.OpExecuteUnlock, msg, sigs, msg.Amount, func() error {
		return b.custody.Release(msg.Recipient, msg.Amount)
	})
}

// ExecuteMint mints msg.Amount to msg.Recipient, once, given enough validator signatures.
func (b *Bridge) ExecuteMint(msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.execute(common.OpExecuteMint, msg, sigs, 0, func() error {
		total, err := ledger.CheckedAdd(b.totalMinted, msg.Amount)
		if err != nil {
			return err
		}
		if err := b.custody.Mint(msg.Recipient, msg.Amount); err != nil {
			return err
		}
		b.totalMinted = total
		return nil
	})
}

// ConfirmUnlock closes a burn recorded on this chain once the validators attest that the matching unlock
// happened on the other chain. msg is the attestation of the burn itself, so its source is this chain.
func (b *Bridge) ConfirmUnlock(msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.execute(common.OpConfirmUnlock, msg, sigs, 0, nil)
}

func (b *Bridge) execute(op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, unlockAmount uint64, payout func() error) error {
	logger := b.logger.With(zap.String("operation", string(op)), zap.String("message_id", msg.MessageID()))

	err := b.checkAndSettle(op, msg, sigs, unlockAmount, payout)
	if err != nil {
		executionsRejected.WithLabelValues(b.chainLabel, string(op), rejectionReason(err)).Inc()

		var recErr *common.ReconciliationError
		switch {
		case errors.As(err, &recErr):
			reconciliationRequired.WithLabelValues(b.chainLabel).Inc()
			logger.Error("payout happened but the order could not be marked executed, manual reconciliation required", zap.Error(err))
		case errors.Is(err, common.ErrAlreadyExecuted):
			logger.Info("message already executed")
		default:
			logger.Warn("message rejected", zap.Error(err))
		}
		return err
	}

	kind := common.EventUnlockExecuted
	switch op {
	case common.OpExecuteMint:
		kind = common.EventMintExecuted
	case common.OpConfirmUnlock:
		kind = common.EventUnlockConfirmed
	}
	height := b.events.commit(&common.BridgeEvent{
		Kind:          kind,
		ChainID:       b.chainID,
		Timestamp:     b.clock.Now(),
		OrderID:       msg.OrderID,
		Amount:        msg.Amount,
		Nonce:         msg.Nonce,
		DestRecipient: msg.Recipient,
	})

	executionsSucceeded.WithLabelValues(b.chainLabel, string(op)).Inc()
	logger.Info("message executed",
		zap.Stringer("order_id", msg.OrderID),
		zap.Stringer("recipient", msg.Recipient),
		zap.Uint64("amount", msg.Amount),
		zap.Uint64("height", height))
	return nil
}

// checkAndSettle runs the acceptance checks in order: pause, routing, time, replay, signatures. Only then
// is the order settled.
func (b *Bridge) checkAndSettle(op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, unlockAmount uint64, payout func() error) error {
	if b.paused {
		return common.ErrPaused
	}

	if op == common.OpConfirmUnlock {
		if err := b.checkConfirmation(msg); err != nil {
			return err
		}
	} else if msg.DestChainID != b.chainID {
		return fmt.Errorf("%w: message for chain %d executed on chain %d", common.ErrWrongDestination, msg.DestChainID, b.chainID)
	}

	if err := b.checkTimestamp(msg.Timestamp); err != nil {
		return err
	}

	executed, err := b.ledger.IsExecuted(msg.OrderID)
	if err != nil {
		return err
	}
	if executed {
		return fmt.Errorf("%w: order %s", common.ErrAlreadyExecuted, msg.OrderID)
	}

	if _, err := b.verifier.Verify(msg.SigningDigest(), sigs); err != nil {
		return err
	}

	return b.ledger.Settle(msg.OrderID, unlockAmount, payout)
}

func (b *Bridge) checkConfirmation(msg *bridgemsg.BridgeMessage) error {
	if msg.SourceChainID != b.chainID {
		return fmt.Errorf("%w: confirmation for a burn on chain %d submitted to chain %d", common.ErrWrongDestination, msg.SourceChainID, b.chainID)
	}
	rec, err := b.ledger.Order(msg.OrderID)
	if err != nil {
		return err
	}
	if rec.Kind != ledger.OrderBurn || rec.Amount != msg.Amount || rec.DestRecipient != msg.Recipient {
		return fmt.Errorf("%w: order %s", common.ErrOrderMismatch, msg.OrderID)
	}
	return nil
}

// checkTimestamp rejects messages older than the validity window and messages too far in the future.
func (b *Bridge) checkTimestamp(ts uint64) error {
	now := uint64(b.clock.Now().Unix()) // #nosec G115 -- the clock is past 1970
	window := uint64(b.validityWindow / time.Second)
	skew := uint64(b.maxFutureSkew / time.Second)

	if now > ts && now-ts > window {
		return fmt.Errorf("%w: timestamp %d is %ds old, window is %ds", common.ErrExpired, ts, now-ts, window)
	}
	if ts > now && ts-now > skew {
		return fmt.Errorf("%w: timestamp %d is %ds ahead", common.ErrFutureTimestamp, ts, ts-now)
	}
	return nil
}

// UpdateValidators replaces the validator set. Only the admin may call it.
func (b *Bridge) UpdateValidators(caller ethcommon.Address, keys []ethcommon.Address, threshold int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, err := b.registry.UpdateValidators(caller, keys, threshold)
	if err != nil {
		return err
	}
	b.logger.Info("validator set updated",
		zap.Strings("validators", set.KeysAsHexStrings()),
		zap.Int("threshold", set.Threshold),
		zap.Uint64("epoch", set.Epoch))
	return nil
}

// Pause stops all order creation and execution until Unpause. Only the admin may call it.
func (b *Bridge) Pause(caller ethcommon.Address) error {
	return b.setPaused(caller, true)
}

func (b *Bridge) Unpause(caller ethcommon.Address) error {
	return b.setPaused(caller, false)
}

func (b *Bridge) setPaused(caller ethcommon.Address, paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.registry.IsAdmin(caller) {
		return fmt.Errorf("%w: %s is not the bridge admin", common.ErrUnauthorized, caller.Hex())
	}
	b.paused = paused
	b.logger.Info("pause state changed", zap.Bool("paused", paused))
	return nil
}

func (b *Bridge) IsExecuted(id bridgemsg.OrderID) (bool, error) {
	return b.ledger.IsExecuted(id)
}

func (b *Bridge) Order(id bridgemsg.OrderID) (*ledger.OrderRecord, error) {
	return b.ledger.Order(id)
}

func (b *Bridge) TotalLocked() (uint64, error) {
	return b.ledger.TotalLocked()
}

func (b *Bridge) TotalMinted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalMinted
}

func (b *Bridge) TotalBurned() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalBurned
}

func (b *Bridge) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *Bridge) ChainID() uint64 {
	return b.chainID
}

func (b *Bridge) Registry() *common.ValidatorRegistry {
	return b.registry
}

// Events exposes the bridge's event history, e.g. as a watcher source.
func (b *Bridge) Events() *EventLog {
	return b.events
}
