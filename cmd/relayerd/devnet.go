package relayerd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/devnet"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	devnetValidators *int
	devnetThreshold  *int
)

func init() {
	devnetValidators = DevnetCmd.Flags().Int("validators", 3, "Number of devnet validators")
	devnetThreshold = DevnetCmd.Flags().Int("threshold", 2, "Signatures required per message")
}

var DevnetCmd = &cobra.Command{
	Use:   "devnet [DIR]",
	Short: "Write deterministic validator keys and a two-chain local config for development",
	Run:   runDevnet,
	Args:  cobra.ExactArgs(1),
}

func runDevnet(cmd *cobra.Command, args []string) {
	setRestrictiveUmask()

	path, err := writeDevnet(args[0], *devnetValidators, *devnetThreshold)
	if err != nil {
		log.Fatalf("failed to write devnet: %v", err)
	}
	fmt.Println(path)
}

// writeDevnet writes validator keys and config.yaml into dir and returns the config path.
func writeDevnet(dir string, validators int, threshold int) (string, error) {
	if validators <= 0 || threshold <= 0 || threshold > validators {
		return "", fmt.Errorf("invalid threshold %d of %d validators", threshold, validators)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	keys, addrs := devnet.ValidatorKeys(validators)
	signers := make([]string, validators)
	hexAddrs := make([]string, validators)
	for i, key := range keys {
		path := filepath.Join(dir, fmt.Sprintf("validator-%d.key", i))
		if err := signer.WriteArmoredKey(key, fmt.Sprintf("devnet validator %d", i), path, true); err != nil {
			return "", fmt.Errorf("validator %d: %w", i, err)
		}
		signers[i] = "file://" + path
		hexAddrs[i] = addrs[i].Hex()
	}

	local := func(chainID uint64) map[string]interface{} {
		return map[string]interface{}{
			"kind":                  "local",
			"chainId":               chainID,
			"admin":                 ethcrypto.PubkeyToAddress(devnet.AdminKey().PublicKey).Hex(),
			"validators":            hexAddrs,
			"threshold":             threshold,
			"validityWindowSeconds": 3600,
			"pollIntervalMs":        500,
		}
	}

	v := viper.New()
	v.Set("environment", "dev")
	v.Set("dataDir", filepath.Join(dir, "data"))
	v.Set("statusAddr", "127.0.0.1:6060")
	v.Set("logLevel", "info")
	v.Set("networks", map[string]interface{}{
		"chain-a": local(1),
		"chain-b": local(2),
	})
	v.Set("signers", signers)
	v.Set("signerThreshold", threshold)
	v.Set("routes", []map[string]interface{}{
		{"name": "a-to-b", "source": "chain-a", "event": "Lock", "dest": "chain-b", "operation": "executeMint"},
		{"name": "b-to-a", "source": "chain-b", "event": "Burn", "dest": "chain-a", "operation": "executeUnlock", "confirm": "chain-b"},
	})

	path := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
