// cmd/owners.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/observability"
)

// withLifecycle opens the store without the provisioning stack and runs fn.
func (a *app) withLifecycle(ctx context.Context, fn func(*lifecycle.Service) error) error {
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	components, err := a.factory.Create(ctx, cfg, observability.GetLogger(), false)
	if err != nil {
		return err
	}
	defer components.Shutdown()
	return fn(components.Lifecycle)
}

func newBlocklistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage owners barred from creating accounts",
	}

	var reason, by string
	add := &cobra.Command{
		Use:   "add <owner>",
		Short: "Block an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLifecycle(cmd.Context(), func(svc *lifecycle.Service) error {
				added, err := svc.Block(cmd.Context(), args[0], reason, by)
				if err != nil {
					return err
				}
				if !added {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already blocked.\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s.\n", args[0])
				return nil
			})
		},
	}
	add.Flags().StringVar(&reason, "reason", "", "why the owner is blocked")
	add.Flags().StringVar(&by, "by", "", "who blocked the owner")

	remove := &cobra.Command{
		Use:   "remove <owner>",
		Short: "Unblock an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLifecycle(cmd.Context(), func(svc *lifecycle.Service) error {
				removed, err := svc.Unblock(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is not blocked.\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %s.\n", args[0])
				return nil
			})
		},
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List blocked owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLifecycle(cmd.Context(), func(svc *lifecycle.Service) error {
				blocks, err := svc.ListBlocked(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), blocks)
				}
				return printBlocks(cmd.OutOrStdout(), blocks)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print the block list as JSON")

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the creation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLifecycle(cmd.Context(), func(svc *lifecycle.Service) error {
				st, err := svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				return printStats(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newProgressCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show the progress of an owner's running provisioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLifecycle(cmd.Context(), func(svc *lifecycle.Service) error {
				rec, err := svc.Progress(cmd.Context(), owner)
				if errors.Is(err, lifecycle.ErrProgressNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No provisioning in progress.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %s (updated %s)\n",
					rec.Percent, rec.Message, rec.UpdatedAt.Local().Format(timeLayout))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owner identifier (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func printBlocks(w io.Writer, blocks []schemas.BlockEntry) error {
	if len(blocks) == 0 {
		_, err := fmt.Fprintln(w, "No blocked owners.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tREASON\tBY\tSINCE")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.OwnerID, orDash(b.Reason), orDash(b.BlockedBy), b.BlockedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

func printStats(w io.Writer, st schemas.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Owners:\t%d\n", st.TotalOwners)
	fmt.Fprintf(tw, "Accounts created:\t%d\n", st.TotalCreated)
	fmt.Fprintf(tw, "Failed attempts:\t%d\n", st.TotalFailed)
	fmt.Fprintf(tw, "Active accounts:\t%d\n", st.ActiveAccounts)
	fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", st.SuccessRate)
	fmt.Fprintf(tw, "Last 24h:\t%d owners, %d accounts\n", st.Owners24h, st.Created24h)
	fmt.Fprintf(tw, "Last 7d:\t%d owners, %d accounts\n", st.Owners7d, st.Created7d)
	fmt.Fprintf(tw, "Blocked owners:\t%d\n", st.BlockedOwners)
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
