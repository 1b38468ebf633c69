// cmd/can_create.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/trialctl/internal/observability"
)

func newCanCreateCmd(a *app) *cobra.Command {
	var (
		owner  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "can-create",
		Short: "Report whether an owner may create an account now",
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

			decision, err := components.Lifecycle.Admit(ctx, owner)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), decision)
			}
			printDecision(cmd.OutOrStdout(), decision)
			return nil
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owner identifier (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
