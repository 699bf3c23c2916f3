package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [identity]",
	Short: "Show the attendance ledger",
	Long: `Show everyone's attendance for a day (today by default), or the status of a
single identity. Worked time is shown once a person has checked out.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("date", "", "Day to show as YYYY-MM-DD (default today)")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(context.Background(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	date := mustGetString(cmd, "date")
	if date == "" {
		date = a.ledger.Today()
	}

	var statuses []attendance.Status
	if len(args) == 1 {
		statuses = append(statuses, a.ledger.Status(identity.NormalizeIdentity(args[0]), date))
	} else {
		for _, rec := range a.ledger.Records(date) {
			statuses = append(statuses, a.ledger.Status(rec.Identity, date))
		}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Printf("No attendance recorded on %s\n", date)
		return nil
	}

	fmt.Printf("Attendance on %s\n\n", date)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tIN\tOUT\tBREAK\tWORKED")
	fmt.Fprintln(w, "----\t-----\t--\t---\t-----\t------")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Identity, st.State, timeOrDash(st.CheckIn), timeOrDash(st.CheckOut),
			breakColumn(st), orDash(st.Worked))
	}
	return w.Flush()
}

func timeOrDash(t *attendance.TimeOfDay) string {
	if t == nil {
		return "-"
	}
	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func breakColumn(st attendance.Status) string {
	if st.BreakElapsed != "" {
		return fmt.Sprintf("%dm (+%s)", st.TotalBreakMinutes, st.BreakElapsed)
	}
	return fmt.Sprintf("%dm", st.TotalBreakMinutes)
}
