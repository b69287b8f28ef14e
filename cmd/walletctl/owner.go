package main

import (
	"fmt"
	"strings"
	"time"

	pgStorage "rfid-wallet-ledger/internal/adapter/storage/postgres"
	"rfid-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func ownerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Seed customers and merchants",
	}
	cmd.AddCommand(createCustomerCmd())
	cmd.AddCommand(createMerchantCmd())
	return cmd
}

func createCustomerCmd() *cobra.Command {
	var name, phone, email string

	cmd := &cobra.Command{
		Use:   "create-customer",
		Short: "Create a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			now := time.Now().UTC()
			customer := &domain.Customer{
				ID:        uuid.New(),
				FullName:  strings.TrimSpace(name),
				Phone:     domain.NormalizePhone(phone),
				Email:     strings.TrimSpace(email),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := pgStorage.NewOwnerRepo(pool).CreateCustomer(ctx, customer); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), customer.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}

func createMerchantCmd() *cobra.Command {
	var name, phone, email string

	cmd := &cobra.Command{
		Use:   "create-merchant",
		Short: "Create an active merchant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			now := time.Now().UTC()
			merchant := &domain.Merchant{
				ID:           uuid.New(),
				BusinessName: strings.TrimSpace(name),
				Phone:        domain.NormalizePhone(phone),
				Email:        strings.TrimSpace(email),
				Status:       domain.MerchantStatusActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := pgStorage.NewOwnerRepo(pool).CreateMerchant(ctx, merchant); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), merchant.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}
