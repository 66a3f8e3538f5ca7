package relayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultSignTimeout = 15 * time.Second

// Attester collects validator signatures over a message.
type Attester struct {
	signers     []signer.Signer
	threshold   int
	signTimeout time.Duration
	logger      *zap.Logger
}

// NewAttester signs with every signer and requires threshold valid signatures.
func NewAttester(signers []signer.Signer, threshold int, logger *zap.Logger) (*Attester, error) {
	if threshold <= 0 || threshold > len(signers) {
		return nil, &common.ConfigError{Field: "threshold", Reason: fmt.Sprintf("must be in [1, %d]", len(signers))}
	}
	return &Attester{
		signers:     signers,
		threshold:   threshold,
		signTimeout: DefaultSignTimeout,
		logger:      logger,
	}, nil
}

func (a *Attester) Threshold() int {
	return a.threshold
}

// Attest asks all signers in parallel. Signatures are returned in signer order. Failing signers are logged
// and skipped. Fewer than threshold signatures is a transient ErrInsufficientSignatures.
func (a *Attester) Attest(ctx context.Context, msg *bridgemsg.BridgeMessage) ([]bridgemsg.SignatureData, error) {
	digest := msg.SigningDigest()

	var (
		mu      sync.Mutex
		results = make([]*bridgemsg.SignatureData, len(a.signers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range a.signers {
		i, s := i, s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, a.signTimeout)
			defer cancel()

			sig, err := signer.SignMessage(sctx, s, msg)
			if err == nil {
				var ok bool
				ok, err = s.Verify(sctx, sig[:], digest.Bytes())
				if err == nil && !ok {
					err = fmt.Errorf("signature does not match the signer's key")
				}
			}
			if err != nil {
				signingFailures.WithLabelValues(s.TypeAsString()).Inc()
				a.logger.Warn("validator failed to sign",
					zap.Int("signer", i),
					zap.String("message_id", msg.MessageID()),
					zap.Error(err))
				return nil
			}

			mu.Lock()
			results[i] = &sig
			mu.Unlock()
			return nil
		})
	}
	// The goroutines never return errors, only the context can fail the group.
	_ = g.Wait()

	sigs := make([]bridgemsg.SignatureData, 0, len(results))
	for _, r := range results {
		if r != nil {
			sigs = append(sigs, *r)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, common.NewTransientError(err)
	}
	if len(sigs) < a.threshold {
		return nil, common.NewTransientError(fmt.Errorf("%w: collected %d of %d", common.ErrInsufficientSignatures, len(sigs), a.threshold))
	}
	return sigs, nil
}
