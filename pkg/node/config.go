package node

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/custody"
	"github.com/majednitol/scai-solana-bridge/pkg/db"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	NetworkKindEVM    = "evm"
	NetworkKindSolana = "solana"
	NetworkKindLocal  = "local"
)

// NetworkConfig describes one chain. Which keys apply depends on Kind.
type NetworkConfig struct {
	Kind    string `mapstructure:"kind"`
	ChainID uint64 `mapstructure:"chainId"`
	RPC     string `mapstructure:"rpc"`

	// evm
	BridgeAddress string `mapstructure:"bridgeAddress"`
	GasLimit      uint64 `mapstructure:"gasLimit"`
	// SenderKey is an armored key file. It pays for and signs destination transactions.
	SenderKey string `mapstructure:"senderKey"`

	// solana
	ProgramID    string `mapstructure:"programId"`
	ValidatorSet string `mapstructure:"validatorSet"`
	Mint         string `mapstructure:"mint"`
	// PayerKey is a keypair file, either a JSON byte array or base58.
	PayerKey string `mapstructure:"payerKey"`

	// local
	Admin                 string   `mapstructure:"admin"`
	Validators            []string `mapstructure:"validators"`
	Threshold             int      `mapstructure:"threshold"`
	ValidityWindowSeconds uint64   `mapstructure:"validityWindowSeconds"`

	// watching
	PollIntervalMs uint64 `mapstructure:"pollIntervalMs"`
	StartHeight    uint64 `mapstructure:"startHeight"`
	MaxRange       uint64 `mapstructure:"maxRange"`
}

// RouteConfig relays Event from Source to Dest, calling Operation there.
type RouteConfig struct {
	Name      string `mapstructure:"name"`
	Source    string `mapstructure:"source"`
	Event     string `mapstructure:"event"`
	Dest      string `mapstructure:"dest"`
	Operation string `mapstructure:"operation"`
	// Confirm names the network that receives confirmUnlock after the destination executed, usually Source.
	Confirm       string `mapstructure:"confirm"`
	ResourceLimit uint64 `mapstructure:"resourceLimit"`
}

type SubmitConfig struct {
	MaxAttempts          int     `mapstructure:"maxAttempts"`
	InitialBackoffMs     uint64  `mapstructure:"initialBackoffMs"`
	MaxBackoffMs         uint64  `mapstructure:"maxBackoffMs"`
	SubmitTimeoutSeconds uint64  `mapstructure:"submitTimeoutSeconds"`
	RatePerSecond        float64 `mapstructure:"ratePerSecond"`
	Burst                int     `mapstructure:"burst"`
}

func (c SubmitConfig) submitterConfig() submitter.Config {
	return submitter.Config{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		SubmitTimeout:  time.Duration(c.SubmitTimeoutSeconds) * time.Second,
		RatePerSecond:  c.RatePerSecond,
		Burst:          c.Burst,
	}
}

// Config is the relayer node configuration file.
type Config struct {
	Environment string `mapstructure:"environment"`
	// DataDir holds the badger database. Empty keeps all state in memory.
	DataDir    string `mapstructure:"dataDir"`
	StatusAddr string `mapstructure:"statusAddr"`
	LogLevel   string `mapstructure:"logLevel"`

	Networks map[string]NetworkConfig `mapstructure:"networks"`
	// Signers are signer URIs (file://, amazonkms://) of the validators this node signs for.
	Signers []string `mapstructure:"signers"`
	// SignerThreshold is the number of signatures collected before submitting.
	SignerThreshold int           `mapstructure:"signerThreshold"`
	Routes          []RouteConfig `mapstructure:"routes"`
	Submit          SubmitConfig  `mapstructure:"submit"`
}

// LoadConfig decodes the node configuration from v and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// viper lowercases map keys, so network references must follow.
	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		r.Source, r.Dest, r.Confirm = strings.ToLower(r.Source), strings.ToLower(r.Dest), strings.ToLower(r.Confirm)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := common.ParseEnvironment(c.Environment); err != nil {
		return &common.ConfigError{Field: "environment", Reason: err.Error()}
	}
	if len(c.Networks) == 0 {
		return &common.ConfigError{Field: "networks", Reason: "at least one network is required"}
	}

	chainIDs := make(map[uint64]string)
	for _, name := range sortedNames(c.Networks) {
		n := c.Networks[name]
		if err := n.validate(name); err != nil {
			return err
		}
		if other, ok := chainIDs[n.ChainID]; ok {
			return &common.ConfigError{Field: "networks." + name + ".chainId", Reason: "already used by " + other}
		}
		chainIDs[n.ChainID] = name
	}

	if len(c.Signers) == 0 {
		return &common.ConfigError{Field: "signers", Reason: "at least one signer is required"}
	}
	if c.SignerThreshold <= 0 || c.SignerThreshold > len(c.Signers) {
		return &common.ConfigError{Field: "signerThreshold", Reason: fmt.Sprintf("must be in [1, %d]", len(c.Signers))}
	}

	if len(c.Routes) == 0 {
		return &common.ConfigError{Field: "routes", Reason: "at least one route is required"}
	}
	names := make(map[string]bool)
	for i, r := range c.Routes {
		if err := r.validate(i, c.Networks); err != nil {
			return err
		}
		if names[r.Name] {
			return &common.ConfigError{Field: fmt.Sprintf("routes[%d].name", i), Reason: "duplicate route " + r.Name}
		}
		names[r.Name] = true
	}
	return nil
}

func (n NetworkConfig) validate(name string) error {
	field := "networks." + name
	if n.ChainID == 0 {
		return &common.ConfigError{Field: field + ".chainId", Reason: "must be set"}
	}

	switch n.Kind {
	case NetworkKindEVM:
		if n.RPC == "" {
			return &common.ConfigError{Field: field + ".rpc", Reason: "must be set"}
		}
		if !ethcommon.IsHexAddress(n.BridgeAddress) {
			return &common.ConfigError{Field: field + ".bridgeAddress", Reason: "must be a hex address"}
		}
	case NetworkKindSolana:
		if n.RPC == "" {
			return &common.ConfigError{Field: field + ".rpc", Reason: "must be set"}
		}
		if n.PayerKey == "" {
			return &common.ConfigError{Field: field + ".payerKey", Reason: "must be set"}
		}
		if _, err := solanaAccounts(name, n); err != nil {
			return err
		}
	case NetworkKindLocal:
		if !ethcommon.IsHexAddress(n.Admin) {
			return &common.ConfigError{Field: field + ".admin", Reason: "must be a hex address"}
		}
		for _, v := range n.Validators {
			if !ethcommon.IsHexAddress(v) {
				return &common.ConfigError{Field: field + ".validators", Reason: fmt.Sprintf("%q is not a hex address", v)}
			}
		}
		if n.ValidityWindowSeconds == 0 {
			return &common.ConfigError{Field: field + ".validityWindowSeconds", Reason: "must be set"}
		}
	default:
		return &common.ConfigError{Field: field + ".kind", Reason: fmt.Sprintf("unknown network kind %q", n.Kind)}
	}
	return nil
}

func (r RouteConfig) validate(i int, networks map[string]NetworkConfig) error {
	field := fmt.Sprintf("routes[%d]", i)
	if r.Name == "" {
		return &common.ConfigError{Field: field + ".name", Reason: "must be set"}
	}
	src, ok := networks[r.Source]
	if !ok {
		return &common.ConfigError{Field: field + ".source", Reason: fmt.Sprintf("unknown network %q", r.Source)}
	}
	if src.Kind == NetworkKindSolana {
		return &common.ConfigError{Field: field + ".source", Reason: "solana networks cannot be watched"}
	}
	if _, ok := networks[r.Dest]; !ok {
		return &common.ConfigError{Field: field + ".dest", Reason: fmt.Sprintf("unknown network %q", r.Dest)}
	}
	if r.Dest == r.Source {
		return &common.ConfigError{Field: field + ".dest", Reason: "must differ from source"}
	}
	if r.Confirm != "" {
		if _, ok := networks[r.Confirm]; !ok {
			return &common.ConfigError{Field: field + ".confirm", Reason: fmt.Sprintf("unknown network %q", r.Confirm)}
		}
	}
	kind, err := common.ParseEventKind(r.Event)
	if err != nil {
		return &common.ConfigError{Field: field + ".event", Reason: err.Error()}
	}
	if kind != common.EventLock && kind != common.EventBurn {
		return &common.ConfigError{Field: field + ".event", Reason: "only Lock and Burn events can be relayed"}
	}
	op, err := common.ParseOperation(r.Operation)
	if err != nil {
		return &common.ConfigError{Field: field + ".operation", Reason: err.Error()}
	}
	if op == common.OpConfirmUnlock {
		return &common.ConfigError{Field: field + ".operation", Reason: "confirmUnlock is set with confirm"}
	}
	return nil
}

func sortedNames(networks map[string]NetworkConfig) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildNetworks connects to every configured network.
func BuildNetworks(ctx context.Context, cfg *Config, env common.Environment, database *db.Database, logger *zap.Logger) (map[string]*Network, error) {
	networks := make(map[string]*Network, len(cfg.Networks))
	for _, name := range sortedNames(cfg.Networks) {
		n := cfg.Networks[name]
		nlogger := logger.With(zap.String("network", name))

		var (
			network *Network
			err     error
		)
		switch n.Kind {
		case NetworkKindEVM:
			network, err = NewEVMNetwork(ctx, name, n, env, nlogger)
		case NetworkKindSolana:
			network, err = NewSolanaNetwork(name, n, nlogger)
		case NetworkKindLocal:
			c := custody.NewLedger()
			b, berr := newLocalBridge(n, database, c, clock.New(), nlogger)
			if berr != nil {
				return nil, fmt.Errorf("failed to create local bridge %s: %w", name, berr)
			}
			network = NewLocalNetwork(name, b)
			network.custody = c
		}
		if err != nil {
			return nil, err
		}
		networks[name] = network
	}
	return networks, nil
}

// LoadSigners opens every configured signer.
func LoadSigners(ctx context.Context, cfg *Config, env common.Environment) ([]signer.Signer, error) {
	signers := make([]signer.Signer, 0, len(cfg.Signers))
	for i, uri := range cfg.Signers {
		s, err := signer.NewSignerFromUri(ctx, uri, env)
		if err != nil {
			return nil, fmt.Errorf("failed to create signer %d: %w", i, err)
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// Options turns a validated configuration into node options.
func Options(cfg *Config, database *db.Database, networks map[string]*Network, signers []signer.Signer) ([]*Option, error) {
	opts := []*Option{
		OptionDatabase(database),
		OptionNetworks(networks),
		OptionSigners(signers, cfg.SignerThreshold),
	}
	for _, r := range cfg.Routes {
		kind, err := common.ParseEventKind(r.Event)
		if err != nil {
			return nil, err
		}
		op, err := common.ParseOperation(r.Operation)
		if err != nil {
			return nil, err
		}
		src := cfg.Networks[r.Source]
		opts = append(opts, OptionRoute(RouteOptions{
			Name:          r.Name,
			Source:        r.Source,
			Event:         kind,
			Dest:          r.Dest,
			Operation:     op,
			Confirm:       r.Confirm,
			ResourceLimit: r.ResourceLimit,
			StartHeight:   src.StartHeight,
			PollInterval:  time.Duration(src.PollIntervalMs) * time.Millisecond,
			MaxRange:      src.MaxRange,
			Submit:        cfg.Submit.submitterConfig(),
		}))
	}
	opts = append(opts, OptionStatusServer(cfg.StatusAddr))
	return opts, nil
}
