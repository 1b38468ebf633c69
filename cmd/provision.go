// cmd/provision.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/trialctl/internal/observability"
	"github.com/xkilldash9x/trialctl/internal/progress"
)

const progressBuffer = 64

func newProvisionCmd(a *app) *cobra.Command {
	var (
		owner  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a trial account for an owner, subject to quota and cooldown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := a.factory.Create(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			bus := progress.NewBroadcaster(logger, progressBuffer)
			events, unsubscribe := bus.Subscribe()
			defer unsubscribe()

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					if !asJSON {
						printProgress(out, ev)
					}
				}
			}()

			outcome, runErr := components.Provisioner.Provision(ctx, owner, bus)
			bus.Close()
			<-done

			if outcome != nil {
				if asJSON {
					if err := writeJSON(out, outcome); err != nil {
						return err
					}
				} else {
					printOutcome(out, outcome)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owner identifier the account is tracked under (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
