// Package supervisor runs a tree of named runnables. A runnable that dies is restarted together
// with the other members of its group, after an exponential backoff. Runnables obtain a logger
// named after their position in the tree with Logger(ctx).
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// A Runnable is a long-running function. It should block until ctx is cancelled and then return
// ctx.Err(), or call Signal(ctx, SignalDone) before returning nil. Any other return is treated as
// a failure and the runnable's group is restarted.
type Runnable func(ctx context.Context) error

type SignalType int

const (
	// SignalHealthy marks the runnable as healthy. A runnable that dies after becoming healthy is
	// restarted with a fresh backoff.
	SignalHealthy SignalType = iota
	// SignalDone marks the runnable as finished. Returning nil afterwards is not a failure.
	SignalDone
)

type supervisor struct {
	logger         *zap.Logger
	ilogger        *zap.Logger
	propagatePanic bool
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// SupervisorOpt configures a supervisor created by New.
type SupervisorOpt func(s *supervisor)

var (
	// WithPropagatePanic lets panics in runnables crash the process instead of being recovered.
	WithPropagatePanic = func(s *supervisor) {
		s.propagatePanic = true
	}
)

// WithBackoff overrides the restart backoff bounds.
func WithBackoff(initial, max time.Duration) SupervisorOpt {
	return func(s *supervisor) {
		s.initialBackoff = initial
		s.maxBackoff = max
	}
}

// New starts rootRunnable as the "root" node of a new supervision tree. The tree is torn down
// when ctx is cancelled.
func New(ctx context.Context, logger *zap.Logger, rootRunnable Runnable, opts ...SupervisorOpt) *supervisor {
	sup := &supervisor{
		logger:         logger,
		ilogger:        logger.Named("supervisor"),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     60 * time.Second,
	}
	for _, o := range opts {
		o(sup)
	}

	top := &node{
		sup:      sup,
		logger:   logger,
		children: make(map[string]bool),
	}
	top.children["root"] = true
	go top.superviseGroup(ctx, map[string]Runnable{"root": rootRunnable})

	return sup
}

// RunGroup starts a set of runnables as children of the calling runnable. If any of them dies,
// all of them are cancelled and restarted together. RunGroup does not block.
func RunGroup(ctx context.Context, runnables map[string]Runnable) error {
	n := fromContext(ctx)

	n.mu.Lock()
	defer n.mu.Unlock()

	for name := range runnables {
		if name == "" || strings.ContainsAny(name, ". ") {
			return fmt.Errorf("invalid runnable name %q", name)
		}
		if n.children[name] {
			return fmt.Errorf("runnable %q already exists under %q", name, n.dn)
		}
	}
	for name := range runnables {
		n.children[name] = true
	}

	go n.superviseGroup(ctx, runnables)
	return nil
}

// Run starts a single runnable as a child of the calling runnable.
func Run(ctx context.Context, name string, runnable Runnable) error {
	return RunGroup(ctx, map[string]Runnable{name: runnable})
}

// Signal reports a state change of the calling runnable.
func Signal(ctx context.Context, signal SignalType) {
	n := fromContext(ctx)

	n.mu.Lock()
	defer n.mu.Unlock()

	switch signal {
	case SignalHealthy:
		if n.done {
			panic(fmt.Sprintf("runnable %q signalled healthy after done", n.dn))
		}
		n.healthy = true
	case SignalDone:
		n.done = true
	}
}

// Logger returns the logger of the calling runnable, named after its position in the tree.
func Logger(ctx context.Context) *zap.Logger {
	return fromContext(ctx).logger
}

// DN returns the distinguished name of the calling runnable, e.g. "root.watchers.evm".
func DN(ctx context.Context) string {
	return fromContext(ctx).dn
}
