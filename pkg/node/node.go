// Package node composes networks, signers, watchers and submitters into a running relayer node.
package node

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/db"
	"github.com/majednitol/scai-solana-bridge/pkg/readiness"
	"github.com/majednitol/scai-solana-bridge/pkg/relayer"
	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
	"go.uber.org/zap"
)

type Node struct {
	env common.Environment

	// components
	db       *db.Database
	cursors  watcher.CursorStore
	networks map[string]*Network
	relayer  *relayer.Relayer

	mu        sync.RWMutex
	readiness *readiness.Registry
	watchers  map[string]*watcher.Watcher

	// runnables
	runnablesWithScissors map[string]supervisor.Runnable
	runnables             map[string]supervisor.Runnable
}

func NewNode(env common.Environment) *Node {
	return &Node{
		env:       env,
		readiness: readiness.NewRegistry(),
	}
}

// Readiness returns the registry behind /readyz.
func (n *Node) Readiness() *readiness.Registry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.readiness
}

// Cursors returns the last processed height of every watcher, by route name.
func (n *Node) Cursors() map[string]uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]uint64, len(n.watchers))
	for name, w := range n.watchers {
		out[name] = w.LastProcessedHeight()
	}
	return out
}

// initializeBasic resets the per-run state. The root runnable is restarted by the supervisor after a failure
// and every run registers its components anew.
func (n *Node) initializeBasic() {
	n.mu.Lock()
	n.readiness = readiness.NewRegistry()
	n.watchers = make(map[string]*watcher.Watcher)
	n.mu.Unlock()
	n.runnablesWithScissors = make(map[string]supervisor.Runnable)
	n.runnables = make(map[string]supervisor.Runnable)
}

// applyOptions applies options in order. Each option must have a unique name and its dependencies must have
// been applied before it.
func (n *Node) applyOptions(ctx context.Context, logger *zap.Logger, options []*Option) error {
	configured := make(map[string]struct{})

	for _, option := range options {
		if _, ok := configured[option.name]; ok {
			return fmt.Errorf("component %s is already configured and cannot be configured a second time", option.name)
		}
		for _, dep := range option.dependencies {
			if _, ok := configured[dep]; !ok {
				return fmt.Errorf("component %s requires %s to be configured first, check the order of your options", option.name, dep)
			}
		}
		if err := option.f(ctx, logger, n); err != nil {
			return fmt.Errorf("error applying option for component %s: %w", option.name, err)
		}
		configured[option.name] = struct{}{}
	}
	return nil
}

// Run returns the root runnable of the node. rootCtxCancel shuts down the whole node.
func (n *Node) Run(rootCtxCancel context.CancelFunc, options ...*Option) supervisor.Runnable {
	return func(ctx context.Context) error {
		logger := supervisor.Logger(ctx)

		n.initializeBasic()
		if err := n.applyOptions(ctx, logger, options); err != nil {
			logger.Error("failed to initialize node", zap.Error(err))
			rootCtxCancel()
			return err
		}
		logger.Info("node initialization done")

		for _, name := range sortedRunnables(n.runnablesWithScissors) {
			logger.Info("starting runnable with scissors", zap.String("runnable", name))
			if err := supervisor.Run(ctx, name, common.WrapWithScissors(n.runnablesWithScissors[name], name)); err != nil {
				return fmt.Errorf("failed to start %s: %w", name, err)
			}
		}
		for _, name := range sortedRunnables(n.runnables) {
			if err := supervisor.Run(ctx, name, n.runnables[name]); err != nil {
				return fmt.Errorf("failed to start %s: %w", name, err)
			}
		}

		logger.Info("started internal services")
		supervisor.Signal(ctx, supervisor.SignalHealthy)

		<-ctx.Done()
		return ctx.Err()
	}
}

func sortedRunnables(m map[string]supervisor.Runnable) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
