package bridge

import (
	"errors"

	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_orders_created_total",
			Help: "Total number of lock and burn orders created",
		}, []string{"chain_id", "kind"})
	executionsSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_executions_total",
			Help: "Total number of executed attestations",
		}, []string{"chain_id", "operation"})
	executionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_executions_rejected_total",
			Help: "Total number of rejected attestations by reason",
		}, []string{"chain_id", "operation", "reason"})
	reconciliationRequired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_reconciliation_required_total",
			Help: "Total number of payouts that happened without a stored executed flag",
		}, []string{"chain_id"})
)

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{common.ErrPaused, "paused"},
	{common.ErrWrongDestination, "wrong_destination"},
	{common.ErrExpired, "expired"},
	{common.ErrFutureTimestamp, "future_timestamp"},
	{common.ErrAlreadyExecuted, "already_executed"},
	{common.ErrInsufficientSignatures, "insufficient_signatures"},
	{common.ErrSupplyInvariant, "supply_invariant"},
	{common.ErrOverflow, "overflow"},
	{common.ErrUnknownOrder, "unknown_order"},
	{common.ErrOrderMismatch, "order_mismatch"},
	{common.ErrPayoutFailed, "payout_failed"},
}

func rejectionReason(err error) string {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
