package common

import (
	"context"
	"fmt"

	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScissorsErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scai_bridge_scissor_errors_caught",
			Help: "Total number of unhandled panics caught",
		})
)

// RunWithScissors starts runnable in a goroutine. Panics and errors are delivered on errC.
func RunWithScissors(ctx context.Context, errC chan error, name string, runnable supervisor.Runnable) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- panicToError(name, r)
				ScissorsErrors.Inc()
			}
		}()
		if err := runnable(ctx); err != nil {
			errC <- err
		}
	}()
}

// WrapWithScissors turns panics raised by runnable into returned errors.
func WrapWithScissors(runnable supervisor.Runnable, name string) supervisor.Runnable {
	return func(ctx context.Context) (result error) {
		defer func() {
			if r := recover(); r != nil {
				result = panicToError(name, r)
				ScissorsErrors.Inc()
			}
		}()
		return runnable(ctx)
	}
}

func panicToError(name string, r interface{}) error {
	switch x := r.(type) {
	case error:
		return fmt.Errorf("%s: %w", name, x)
	default:
		return fmt.Errorf("%s: %v", name, x)
	}
}
