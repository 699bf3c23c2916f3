package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/spf13/cobra"
)

var punchCmd = &cobra.Command{
	Use:   "punch <identity> <check-in|break|check-out>",
	Short: "Record an attendance action by hand",
	Long: `Apply check-in, break (start or end) or check-out to an identity for today,
the same way the kiosk buttons do. Useful when the camera is down.`,
	Args: cobra.ExactArgs(2),
	RunE: runPunch,
}

func init() {
	rootCmd.AddCommand(punchCmd)
}

func runPunch(cmd *cobra.Command, args []string) error {
	name := identity.NormalizeIdentity(args[0])
	action, err := attendance.ParseAction(args[1])
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ledger.Apply(ctx, action, name)
	if err != nil && !errors.Is(err, attendance.ErrPersistence) {
		return fmt.Errorf("failed to apply %s: %w", action, err)
	}
	if res.Rejected != nil {
		return fmt.Errorf("%s for %s rejected: %w", action, name, res.Rejected)
	}

	st := a.ledger.TodayStatus(name)
	fmt.Printf("%s: %s\n", name, action)
	printStatus(st)
	if err != nil {
		return fmt.Errorf("recorded but not stored: %w", err)
	}
	return nil
}

func printStatus(st attendance.Status) {
	fmt.Printf("  Date:     %s\n", st.Date)
	fmt.Printf("  State:    %s\n", st.State)
	if st.CheckIn != nil {
		fmt.Printf("  In:       %s\n", st.CheckIn)
	}
	if st.CheckOut != nil {
		fmt.Printf("  Out:      %s\n", st.CheckOut)
	}
	fmt.Printf("  Breaks:   %d min\n", st.TotalBreakMinutes)
	if st.BreakElapsed != "" {
		fmt.Printf("  On break: %s\n", st.BreakElapsed)
	}
	if st.Worked != "" {
		fmt.Printf("  Worked:   %s\n", st.Worked)
	}
}
