package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type nodeKey struct{}

// node is one runnable in the supervision tree. A new node is created every time a runnable is
// (re)started, so its state always describes the current incarnation.
type node struct {
	sup    *supervisor
	dn     string
	logger *zap.Logger

	mu       sync.Mutex
	healthy  bool
	done     bool
	children map[string]bool
}

type result struct {
	node *node
	err  error
}

func fromContext(ctx context.Context) *node {
	n, ok := ctx.Value(nodeKey{}).(*node)
	if !ok {
		panic("supervisor function called from non-runnable context")
	}
	return n
}

func (n *node) child(name string) *node {
	dn := name
	if n.dn != "" {
		dn = n.dn + "." + name
	}
	return &node{
		sup:      n.sup,
		dn:       dn,
		logger:   n.logger.Named(name),
		children: make(map[string]bool),
	}
}

func (n *node) state() (healthy, done bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthy, n.done
}

// run executes a runnable, recovering panics unless the supervisor propagates them.
func (n *node) run(ctx context.Context, r Runnable, results chan<- result) {
	var err error
	defer func() {
		results <- result{node: n, err: err}
	}()
	if !n.sup.propagatePanic {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
	}
	err = r(ctx)
}

// superviseGroup keeps a group of runnables alive until ctx is cancelled or all of them are done.
func (n *node) superviseGroup(ctx context.Context, runnables map[string]Runnable) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.sup.initialBackoff
	bo.MaxInterval = n.sup.maxBackoff
	bo.MaxElapsedTime = 0

	for {
		gctx, cancel := context.WithCancel(ctx)
		results := make(chan result, len(runnables))

		for name, r := range runnables {
			c := n.child(name)
			go c.run(context.WithValue(gctx, nodeKey{}, c), r, results)
		}

		var died *result
		for remaining := len(runnables); remaining > 0; remaining-- {
			res := <-results
			if ctx.Err() != nil || died != nil {
				continue
			}
			if _, done := res.node.state(); done && res.err == nil {
				continue
			}
			if res.err == nil {
				res.err = errors.New("returned nil without signalling done")
			}
			died = &res
			cancel()
		}
		cancel()

		if ctx.Err() != nil || died == nil {
			return
		}

		if healthy, _ := died.node.state(); healthy {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		n.sup.ilogger.Error("runnable died, restarting group",
			zap.String("dn", died.node.dn),
			zap.Duration("backoff", wait),
			zap.Error(died.err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
