// cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const timeLayout = "2006-01-02 15:04 MST"

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printProgress(w io.Writer, ev schemas.ProgressEvent) {
	fmt.Fprintf(w, "[%3d%%] %s\n", ev.Percent, ev.Message)
}

func printDecision(w io.Writer, d schemas.CreateDecision) {
	if d.Allowed {
		fmt.Fprintln(w, "A new account can be created.")
		return
	}
	fmt.Fprintln(w, d.Message)
}

func printOutcome(w io.Writer, out *service.Outcome) {
	if out.Result == nil {
		printDecision(w, out.Decision)
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account created.")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Email:\t%s\n", out.Result.AccountEmail)
	fmt.Fprintf(tw, "Password:\t%s\n", out.Result.AccountPassword)
	fmt.Fprintf(tw, "Player username:\t%s\n", out.Result.PlayerUsername)
	fmt.Fprintf(tw, "Player password:\t%s\n", out.Result.PlayerPassword)
	if out.Account != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", out.Account.ExpiresAt.Local().Format(timeLayout))
	}
	_ = tw.Flush()
}

func printAccounts(w io.Writer, accounts []schemas.Account, now time.Time) error {
	if len(accounts) == 0 {
		_, err := fmt.Fprintln(w, "No accounts.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tPLAYER\tCREATED\tEXPIRES\tSTATUS")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.ServiceEmail, a.ServiceUsername,
			a.CreatedAt.Local().Format(timeLayout),
			a.ExpiresAt.Local().Format(timeLayout),
			accountStatus(a, now),
		)
	}
	return tw.Flush()
}

func accountStatus(a schemas.Account, now time.Time) string {
	switch {
	case !a.Active || a.Expired(now):
		return "expired"
	case a.NotificationSent:
		return fmt.Sprintf("active, %dh left (notified)", a.HoursRemaining(now))
	default:
		return fmt.Sprintf("active, %dh left", a.HoursRemaining(now))
	}
}
