// cmd/sweep.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/trialctl/internal/observability"
)

func newSweepCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired accounts and notify owners of accounts expiring soon",
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

			report, sweepErr := components.Sweeper(nil).RunOnce(ctx)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
				return sweepErr
			}
			for _, item := range report.Expiring {
				fmt.Fprintf(out, "%s\t%s\texpires in %dh\n", item.OwnerID, item.Account.ServiceEmail, item.HoursRemaining)
			}
			fmt.Fprintf(out, "Expiring: %d, notified: %d, failed: %d\n", len(report.Expiring), report.Notified, report.Failed)
			return sweepErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sweep report as JSON")
	return cmd
}
