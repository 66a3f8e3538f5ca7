package node

import (
	"context"
	"sort"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"go.uber.org/zap"
)

// DevnetUser is the account that devnet traffic is funded from and locked by.
var DevnetUser = bridgemsg.Address{12: 0xde, 13: 0xad, 30: 0xbe, 31: 0xef}

// OptionDevnetTraffic locks amount on every local network each interval, so that configured routes have
// something to relay. Only allowed in environments that allow unsafe keys.
// Dependencies: networks
func OptionDevnetTraffic(interval time.Duration, amount uint64) *Option {
	return &Option{
		name:         "devnet-traffic",
		dependencies: []string{"networks"},
		f: func(ctx context.Context, logger *zap.Logger, n *Node) error {
			if !n.env.AllowsUnsafeKeys() {
				return &common.ConfigError{Field: "devnetTraffic", Reason: "only available on devnets"}
			}

			var locals []*Network
			for _, name := range sortedNetworkNames(n.networks) {
				if net := n.networks[name]; net.bridge != nil && net.custody != nil {
					locals = append(locals, net)
				}
			}
			if len(locals) == 0 {
				return nil
			}

			n.runnables["devnet-traffic"] = func(ctx context.Context) error {
				logger := supervisor.Logger(ctx)
				supervisor.Signal(ctx, supervisor.SignalHealthy)

				t := time.NewTicker(interval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-t.C:
						for _, net := range locals {
							if err := net.custody.Credit(DevnetUser, amount); err != nil {
								logger.Error("failed to fund devnet user", zap.String("network", net.Name), zap.Error(err))
								continue
							}
							id, err := net.bridge.Lock(DevnetUser, amount)
							if err != nil {
								logger.Error("devnet lock failed", zap.String("network", net.Name), zap.Error(err))
								continue
							}
							logger.Info("devnet lock", zap.String("network", net.Name), zap.Stringer("order_id", id))
						}
					}
				}
			}
			return nil
		}}
}

func sortedNetworkNames(networks map[string]*Network) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
