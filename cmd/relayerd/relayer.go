// Package relayerd implements the relayer daemon and its operator tooling.
package relayerd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/db"
	"github.com/majednitol/scai-solana-bridge/pkg/node"
	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"github.com/majednitol/scai-solana-bridge/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	devnetTrafficInterval *time.Duration
	devnetTrafficAmount   *uint64
)

func init() {
	fs := RelayerCmd.Flags()
	fs.String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
	fs.String("statusAddr", "", "Listen address for /readyz, /metrics and cursor status (empty to disable)")
	fs.String("dataDir", "", "Data directory for the database (empty keeps all state in memory)")
	fs.String("environment", "", "Environment: prod, test or dev")
	bindFlags(fs, "logLevel", "statusAddr", "dataDir", "environment")

	devnetTrafficInterval = fs.Duration("devnetTrafficInterval", 0, "Lock devnet funds on every local network at this interval (devnet only, 0 to disable)")
	devnetTrafficAmount = fs.Uint64("devnetTrafficAmount", 1000, "Amount locked per devnet traffic tick")
}

// bindFlags lets the named flags override the config file.
func bindFlags(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// RelayerCmd represents the relayer command
var RelayerCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Run the bridge relayer",
	Run:   runRelayer,
}

// setRestrictiveUmask masks the group and world bits. This ensures that key material
// and sockets we create aren't accidentally group- or world-readable.
func setRestrictiveUmask() {
	syscall.Umask(0077) // cannot fail
}

func runRelayer(cmd *cobra.Command, args []string) {
	setRestrictiveUmask()

	logger, err := newLogger(viper.GetString("logLevel"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger = logger.Named("relayer")

	cfg, err := node.LoadConfig(viper.GetViper())
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	env, err := common.ParseEnvironment(cfg.Environment)
	if err != nil {
		logger.Fatal("invalid environment", zap.Error(err))
	}

	logger.Info("starting relayer",
		zap.String("version", version.Version()),
		zap.String("environment", string(env)),
		zap.Int("networks", len(cfg.Networks)),
		zap.Int("routes", len(cfg.Routes)),
	)

	// Node's main lifecycle context.
	rootCtx, rootCtxCancel := context.WithCancel(context.Background())
	defer rootCtxCancel()

	// Handle SIGTERM
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigterm
		logger.Info("received sigterm. exiting.")
		rootCtxCancel()
	}()

	var database *db.Database
	if cfg.DataDir != "" {
		database = db.OpenDb(logger, cfg.DataDir)
		defer database.Close()
	} else {
		logger.Warn("no dataDir configured, executed orders and cursors are kept in memory only")
	}

	networks, err := node.BuildNetworks(rootCtx, cfg, env, database, logger)
	if err != nil {
		logger.Fatal("failed to connect to networks", zap.Error(err))
	}
	signers, err := node.LoadSigners(rootCtx, cfg, env)
	if err != nil {
		logger.Fatal("failed to load signers", zap.Error(err))
	}

	opts, err := node.Options(cfg, database, networks, signers)
	if err != nil {
		logger.Fatal("failed to build node options", zap.Error(err))
	}
	if *devnetTrafficInterval > 0 {
		opts = append(opts, node.OptionDevnetTraffic(*devnetTrafficInterval, *devnetTrafficAmount))
	}

	n := node.NewNode(env)
	supervisor.New(rootCtx, logger, n.Run(rootCtxCancel, opts...))

	<-rootCtx.Done()
	logger.Info("root context cancelled, exiting...")
}
