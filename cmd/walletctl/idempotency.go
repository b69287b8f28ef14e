package main

import (
	"fmt"
	"time"

	pgStorage "rfid-wallet-ledger/internal/adapter/storage/postgres"

	"github.com/spf13/cobra"
)

func idempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Maintain the idempotency log",
	}
	cmd.AddCommand(pruneIdempotencyCmd())
	return cmd
}

func pruneIdempotencyCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete idempotency records older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if olderThan < cfg.Ledger.IdempotencyTTL {
				return fmt.Errorf("--older-than %s is shorter than the idempotency TTL %s", olderThan, cfg.Ledger.IdempotencyTTL)
			}

			ctx := cmd.Context()
			pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := pgStorage.NewIdempotencyRepo(pool).Prune(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d idempotency records\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum record age")
	return cmd
}
