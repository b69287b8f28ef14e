// Command walletctl is the operator CLI for schema migrations, owner
// seeding, development tokens, card administration and idempotency log
// upkeep.
package main

import (
	"fmt"
	"os"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "walletctl - operator tooling for the RFID wallet ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RWL_CONFIG"), "path to config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ownerCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(idempotencyCmd())

	return rootCmd
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
