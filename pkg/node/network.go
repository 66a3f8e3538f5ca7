package node

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/majednitol/scai-solana-bridge/pkg/bridge"
	"github.com/majednitol/scai-solana-bridge/pkg/chains/evm"
	"github.com/majednitol/scai-solana-bridge/pkg/chains/local"
	solanachain "github.com/majednitol/scai-solana-bridge/pkg/chains/solana"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/custody"
	"github.com/majednitol/scai-solana-bridge/pkg/db"
	"github.com/majednitol/scai-solana-bridge/pkg/ledger"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
	"go.uber.org/zap"
)

// Network is one chain the node talks to: an optional event source and a target per supported operation.
type Network struct {
	Name    string
	ChainID uint64
	// Source is nil for networks that are only ever a destination.
	Source  watcher.Source
	targets map[common.Operation]submitter.Target
	bridge  *bridge.Bridge
	// custody of a local network built from configuration, used to fund devnet traffic
	custody *custody.Ledger
}

// Target returns the destination endpoint for op.
func (n *Network) Target(op common.Operation) (submitter.Target, error) {
	t, ok := n.targets[op]
	if !ok {
		return nil, &common.ConfigError{Field: "networks." + n.Name, Reason: fmt.Sprintf("does not support %s", op)}
	}
	return t, nil
}

// Bridge returns the in-process bridge of a local network, nil otherwise.
func (n *Network) Bridge() *bridge.Bridge {
	return n.bridge
}

// NewLocalNetwork exposes an in-process bridge as both source and target of every operation.
func NewLocalNetwork(name string, b *bridge.Bridge) *Network {
	t := local.NewTarget(name, b)
	return &Network{
		Name:    name,
		ChainID: b.ChainID(),
		Source:  local.NewSource(b),
		targets: map[common.Operation]submitter.Target{
			common.OpExecuteUnlock: t,
			common.OpExecuteMint:   t,
			common.OpConfirmUnlock: t,
		},
		bridge: b,
	}
}

// newLocalBridge builds the bridge of a local network. The ledger lives in database when one is given.
func newLocalBridge(cfg NetworkConfig, database *db.Database, c *custody.Ledger, clk clock.Clock, logger *zap.Logger) (*bridge.Bridge, error) {
	validators := make([]ethcommon.Address, len(cfg.Validators))
	for i, v := range cfg.Validators {
		validators[i] = ethcommon.HexToAddress(v)
	}
	registry, err := common.NewValidatorRegistry(ethcommon.HexToAddress(cfg.Admin), validators, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	var l ledger.Ledger = ledger.NewMemoryLedger()
	if database != nil {
		l = db.NewChainLedgerDB(database, cfg.ChainID)
	}

	return bridge.New(bridge.Config{
		ChainID:        cfg.ChainID,
		ValidityWindow: time.Duration(cfg.ValidityWindowSeconds) * time.Second,
		Registry:       registry,
		Ledger:         l,
		Custody:        c,
		Clock:          clk,
		Logger:         logger,
	})
}

// NewEVMNetwork connects to an EVM bridge contract. Without a sender key the network can only be watched.
func NewEVMNetwork(ctx context.Context, name string, cfg NetworkConfig, env common.Environment, logger *zap.Logger) (*Network, error) {
	client, err := evm.Dial(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("failed to query chain id of %s: %w", name, err))
	}
	if !chainID.IsUint64() || chainID.Uint64() != cfg.ChainID {
		return nil, &common.ConfigError{Field: "networks." + name + ".chainId", Reason: fmt.Sprintf("node reports chain id %s", chainID)}
	}

	address := ethcommon.HexToAddress(cfg.BridgeAddress)
	source, err := evm.NewSource(client, address, cfg.ChainID, logger)
	if err != nil {
		return nil, err
	}

	n := &Network{
		Name:    name,
		ChainID: cfg.ChainID,
		Source:  source,
		targets: make(map[common.Operation]submitter.Target),
	}
	if cfg.SenderKey != "" {
		key, err := signer.LoadArmoredKey(cfg.SenderKey, env.AllowsUnsafeKeys())
		if err != nil {
			return nil, fmt.Errorf("failed to load sender key of %s: %w", name, err)
		}
		t := evm.NewTarget(name, client, address, key, cfg.GasLimit, logger)
		n.targets[common.OpExecuteUnlock] = t
		n.targets[common.OpExecuteMint] = t
	}
	return n, nil
}

// NewSolanaNetwork connects to the Solana bridge program. Solana is a destination only: it mints and confirms
// burns but is not watched.
func NewSolanaNetwork(name string, cfg NetworkConfig, logger *zap.Logger) (*Network, error) {
	accounts, err := solanaAccounts(name, cfg)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cfg.PayerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read payer key of %s: %w", name, err)
	}
	payer, err := solanachain.ParsePayerKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid payer key of %s: %w", name, err)
	}

	client := solanachain.Dial(cfg.RPC)
	n := &Network{
		Name:    name,
		ChainID: cfg.ChainID,
		targets: make(map[common.Operation]submitter.Target),
	}
	for _, op := range []common.Operation{common.OpExecuteMint, common.OpConfirmUnlock} {
		t, err := solanachain.NewTarget(name, client, accounts, op, payer, logger)
		if err != nil {
			return nil, err
		}
		n.targets[op] = t
	}
	return n, nil
}

func solanaAccounts(name string, cfg NetworkConfig) (solanachain.Accounts, error) {
	var (
		accounts solanachain.Accounts
		err      error
	)
	field := "networks." + name
	if accounts.Program, err = solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
		return accounts, &common.ConfigError{Field: field + ".programId", Reason: err.Error()}
	}
	if accounts.ValidatorSet, err = solana.PublicKeyFromBase58(cfg.ValidatorSet); err != nil {
		return accounts, &common.ConfigError{Field: field + ".validatorSet", Reason: err.Error()}
	}
	if accounts.Mint, err = solana.PublicKeyFromBase58(cfg.Mint); err != nil {
		return accounts, &common.ConfigError{Field: field + ".mint", Reason: err.Error()}
	}
	return accounts, nil
}
