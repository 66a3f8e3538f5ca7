package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/majednitol/scai-solana-bridge/cmd/relayerd"
	"github.com/majednitol/scai-solana-bridge/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override the config file, e.g. SCAI_BRIDGE_LOGLEVEL.
const EnvPrefix = "SCAI_BRIDGE"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scai-bridge",
	Short: "SCAI bridge relayer and validator tooling",
}

// Top-level version subcommand
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display binary version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scai-bridge.yaml)")
	rootCmd.AddCommand(relayerd.RelayerCmd)
	rootCmd.AddCommand(relayerd.KeygenCmd)
	rootCmd.AddCommand(relayerd.SignCmd)
	rootCmd.AddCommand(relayerd.DevnetCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".scai-bridge" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".scai-bridge")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
