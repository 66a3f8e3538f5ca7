// Package relayer turns observed bridge events into attested messages and delivers them to the destination
// chain. Delivery may happen more than once across relayers and restarts; the destination's executed flag
// keeps the effect single.
package relayer

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/majednitol/scai-solana-bridge/pkg/verifier"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
	"go.uber.org/zap"
)

const DefaultCompletedCacheSize = 4096

// Route relays one event kind from a source chain to a destination chain.
type Route struct {
	Name        string
	DestChainID uint64
	Operation   common.Operation
	Destination *submitter.Submitter
	// ResourceLimit is passed to the destination (gas limit on EVM). Zero selects the target default.
	ResourceLimit uint64
	// Confirm, if set, receives the same message as confirmUnlock once the destination executed it.
	Confirm *submitter.Submitter
}

type Relayer struct {
	attester *Attester
	// route/order id -> struct{} for orders that are fully relayed
	completed *lru.Cache
	logger    *zap.Logger
}

func New(attester *Attester, cacheSize int, logger *zap.Logger) (*Relayer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCompletedCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Relayer{attester: attester, completed: cache, logger: logger}, nil
}

func completedKey(route string, id bridgemsg.OrderID) string {
	return route + "/" + id.String()
}

// Handler returns the watcher handler for route.
func (r *Relayer) Handler(route Route) watcher.Handler {
	logger := r.logger.With(zap.String("route", route.Name))
	return func(ctx context.Context, ev *common.BridgeEvent) error {
		return r.relay(ctx, logger, route, ev)
	}
}

func (r *Relayer) relay(ctx context.Context, logger *zap.Logger, route Route, ev *common.BridgeEvent) error {
	key := completedKey(route.Name, ev.OrderID)
	if r.completed.Contains(key) {
		relayedMessages.WithLabelValues(route.Name, "cached").Inc()
		return nil
	}

	msg := ev.Message(route.DestChainID)
	logger = logger.With(zap.String("message_id", msg.MessageID()), zap.Uint64("height", ev.Height))

	sigs, err := r.attester.Attest(ctx, msg)
	if err != nil {
		relayedMessages.WithLabelValues(route.Name, "attest_failed").Inc()
		return fmt.Errorf("failed to attest %s: %w", msg.MessageID(), err)
	}

	if _, err := route.Destination.Submit(ctx, route.Operation, msg, sigs, route.ResourceLimit); !submitter.IsSuccess(err) {
		return r.failed(logger, route, "submit", err)
	}

	if route.Confirm != nil {
		if _, err := route.Confirm.Submit(ctx, common.OpConfirmUnlock, msg, sigs, 0); !submitter.IsSuccess(err) {
			return r.failed(logger, route, "confirm", err)
		}
	}

	r.completed.Add(key, struct{}{})
	relayedMessages.WithLabelValues(route.Name, "relayed").Inc()
	logger.Info("message relayed", zap.Stringer("order_id", msg.OrderID), zap.Uint64("amount", msg.Amount))
	return nil
}

// failed records a delivery failure. Transient errors are returned as is so the watcher redelivers the event.
func (r *Relayer) failed(logger *zap.Logger, route Route, stage string, err error) error {
	if common.IsTransient(err) {
		relayedMessages.WithLabelValues(route.Name, stage+"_retry").Inc()
		return err
	}
	relayedMessages.WithLabelValues(route.Name, stage+"_rejected").Inc()
	switch {
	case errors.Is(err, common.ErrExpired):
		logger.Warn("message expired before it could be executed", zap.Error(err))
	case verifier.IsInsufficient(err):
		logger.Warn("destination rejected the attestation, check that its validator set matches the signers", zap.Error(err))
	}
	return fmt.Errorf("%s rejected: %w", stage, err)
}
