package main

import (
	"fmt"
	"strings"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint bearer tokens",
	}
	cmd.AddCommand(issueTokenCmd())
	return cmd
}

func issueTokenCmd() *cobra.Command {
	var kind, id string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a principal",
		Long: `Issue a signed bearer token for a customer, merchant or admin.

Examples:
  walletctl token issue --kind CUSTOMER --id 7b0c...
  walletctl token issue --kind ADMIN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}

			principal := domain.Principal{Kind: domain.PrincipalKind(strings.ToUpper(kind))}
			if !principal.Kind.Valid() {
				return fmt.Errorf("unknown principal kind %q", kind)
			}
			principal.ID = uuid.New()
			if id != "" {
				if principal.ID, err = uuid.Parse(id); err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
			}

			tokens := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
			token, expiresAt, err := tokens.Generate(principal)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "principal %s %s, expires %s\n",
				principal.Kind, principal.ID, expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "CUSTOMER, MERCHANT or ADMIN")
	cmd.Flags().StringVar(&id, "id", "", "principal id (random when empty)")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
