// cmd/accounts.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/trialctl/internal/observability"
)

func newAccountsCmd(a *app) *cobra.Command {
	var (
		owner  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List an owner's accounts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			components, err := a.factory.Create(ctx, cfg, observability.GetLogger(), false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			accounts, err := components.Lifecycle.ListAccounts(ctx, owner)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), accounts)
			}
			return printAccounts(cmd.OutOrStdout(), accounts, time.Now())
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owner identifier (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print accounts as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
