package main

import (
	"context"
	"fmt"

	"rfid-wallet-ledger/internal/app"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var operatorID string

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Administer RFID cards",
	}
	cmd.PersistentFlags().StringVar(&operatorID, "operator", "", "admin id recorded in the audit log")

	cmd.AddCommand(assignCardCmd())
	cmd.AddCommand(unlockCardCmd())
	cmd.AddCommand(resetPinCmd())
	return cmd
}

// withAdmin opens the full stack and runs fn as the operator.
func withAdmin(ctx context.Context, fn func(svcs *app.Services, admin domain.Principal) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	admin := domain.Principal{Kind: domain.PrincipalAdmin}
	if operatorID != "" {
		if admin.ID, err = uuid.Parse(operatorID); err != nil {
			return fmt.Errorf("invalid --operator: %w", err)
		}
	}

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a.Services, admin)
}

func assignCardCmd() *cobra.Command {
	var customer, pin string

	cmd := &cobra.Command{
		Use:   "assign [card-uid]",
		Short: "Issue a card to a customer, replacing any active card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			customerID, err := uuid.Parse(customer)
			if err != nil {
				return fmt.Errorf("invalid --customer: %w", err)
			}
			return withAdmin(cmd.Context(), func(svcs *app.Services, admin domain.Principal) error {
				card, err := svcs.Cards.Assign(cmd.Context(), admin, ports.AssignCardRequest{
					CustomerID: customerID,
					CardUID:    args[0],
					Pin:        pin,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "card %s assigned, expires %s\n", card.CardUID, card.ExpiresAt.Format("2006-01-02"))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "customer id")
	cmd.Flags().StringVar(&pin, "pin", "", "initial PIN")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("pin")

	return cmd
}

func unlockCardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock [card-uid]",
		Short: "Clear a PIN lock and the failed-attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(svcs *app.Services, admin domain.Principal) error {
				if err := svcs.Gateway.Unlock(cmd.Context(), admin, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "card %s unlocked\n", args[0])
				return nil
			})
		},
	}
}

func resetPinCmd() *cobra.Command {
	var pin string

	cmd := &cobra.Command{
		Use:   "reset-pin [card-uid]",
		Short: "Set a new PIN; the holder must change it before paying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(svcs *app.Services, admin domain.Principal) error {
				if err := svcs.Gateway.AdminResetPin(cmd.Context(), admin, args[0], pin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "PIN reset for card %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pin, "pin", "", "new PIN")
	_ = cmd.MarkFlagRequired("pin")

	return cmd
}
