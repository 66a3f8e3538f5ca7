// Package submitter sends attested messages to a destination chain, retrying transient failures without ever
// executing an order twice.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Receipt describes a successful submission.
type Receipt struct {
	Target    string
	Operation common.Operation
	OrderID   bridgemsg.OrderID
	// TxID is the chain-specific transaction id (hash or signature).
	TxID string
	// Height is the block or slot the transaction landed in, if known.
	Height   uint64
	Attempts int
}

// Target is a destination chain deployment.
type Target interface {
	Name() string
	IsExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error)
	// Submit sends one transaction and waits for its outcome. Network failures must be wrapped with
	// common.NewTransientError. Protocol rejections carry their common.Err* kind.
	Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, resourceLimit uint64) (*Receipt, error)
}

type Config struct {
	// MaxAttempts bounds the number of submissions per message, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// SubmitTimeout bounds one submission including confirmation.
	SubmitTimeout time.Duration
	// QueryTimeout bounds one IsExecuted query.
	QueryTimeout time.Duration
	// RatePerSecond throttles submissions to the target. Zero disables throttling.
	RatePerSecond float64
	Burst         int
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 120 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

type Submitter struct {
	target  Target
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(target Target, cfg Config, logger *zap.Logger) *Submitter {
	cfg.setDefaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Submitter{
		target:  target,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With(zap.String("target", target.Name())),
	}
}

func (s *Submitter) Target() Target {
	return s.target
}

// Submit delivers msg to the target. It returns common.ErrAlreadyExecuted, which callers should treat as
// success, when the order turns out to be executed already. Only transient errors are retried, and the
// executed flag is checked before every attempt.
func (s *Submitter) Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, resourceLimit uint64) (*Receipt, error) {
	logger := s.logger.With(zap.String("operation", string(op)), zap.String("message_id", msg.MessageID()))
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx) // #nosec G115 -- MaxAttempts is positive

	var (
		attempts int
		receipt  *Receipt
	)
	operation := func() error {
		attempts++

		if executed, err := s.isExecuted(ctx, msg.OrderID); err != nil {
			logger.Warn("failed to query executed flag, submitting anyway", zap.Int("attempt", attempts), zap.Error(err))
		} else if executed {
			return backoff.Permanent(fmt.Errorf("%w: order %s", common.ErrAlreadyExecuted, msg.OrderID))
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		r, err := s.target.Submit(sctx, op, msg, sigs, resourceLimit)
		cancel()

		if err == nil {
			receipt = r
			return nil
		}
		if common.IsTransient(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		submitRetries.WithLabelValues(s.target.Name()).Inc()
		logger.Warn("transient submission failure, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, policy, notify)
	submitDuration.WithLabelValues(s.target.Name()).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if receipt == nil {
			receipt = &Receipt{}
		}
		receipt.Target = s.target.Name()
		receipt.Operation = op
		receipt.OrderID = msg.OrderID
		receipt.Attempts = attempts
		submissions.WithLabelValues(s.target.Name(), "success").Inc()
		logger.Info("message submitted", zap.String("tx", receipt.TxID), zap.Int("attempts", attempts))
		return receipt, nil
	case errors.Is(err, common.ErrAlreadyExecuted):
		submissions.WithLabelValues(s.target.Name(), "already_executed").Inc()
		logger.Info("message already executed on target, nothing to do")
		return nil, err
	case common.IsTransient(err):
		submissions.WithLabelValues(s.target.Name(), "exhausted").Inc()
		return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	default:
		submissions.WithLabelValues(s.target.Name(), "rejected").Inc()
		return nil, err
	}
}

func (s *Submitter) isExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.target.IsExecuted(qctx, id)
}

// IsSuccess reports whether the outcome of Submit means the order is executed on the target.
func IsSuccess(err error) bool {
	return err == nil || errors.Is(err, common.ErrAlreadyExecuted)
}
