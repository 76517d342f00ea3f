package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/attendance"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/spf13/cobra"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "List recorded attendance events for a day",
	Long: `List attendance events recorded on one calendar day in the kiosk timezone,
newest first.

Examples:
  attendance-kiosk attendance
  attendance-kiosk attendance --date 2025-03-10 --identity emp-001`,
	RunE: runAttendance,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)

	attendanceCmd.Flags().String("date", "", "Day to list (YYYY-MM-DD, defaults to today)")
	attendanceCmd.Flags().String("identity", "", "Only events of this employee ID")
	attendanceCmd.Flags().Int("limit", constants.DefaultAttendanceLimit, "Maximum number of events")
}

func runAttendance(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	loc, err := cfg.Kiosk.Location()
	if err != nil {
		return err
	}
	day := attendance.StartOfDay(time.Now(), loc)
	if date := mustGetString(cmd, "date"); date != "" {
		day, err = time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", date, err)
		}
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	store, err := database.GetAttendanceStore(ctx)
	if err != nil {
		return err
	}
	events, err := store.List(ctx, database.AttendanceFilter{
		IdentityID: mustGetString(cmd, "identity"),
		From:       day,
		To:         day.AddDate(0, 0, 1),
		Limit:      mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	if len(events) == 0 {
		fmt.Printf("No attendance recorded on %s.\n", day.Format("2006-01-02"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEMPLOYEE\tDIRECTION\tCONFIDENCE\tDEVICE\tSYNCED")
	fmt.Fprintln(w, "----\t--------\t---------\t----------\t------\t------")
	for i := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\t%t\n",
			events[i].Timestamp.In(loc).Format("15:04:05"), events[i].IdentityID, events[i].Direction,
			events[i].Confidence, events[i].DeviceID, events[i].Synced)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d events on %s\n", len(events), day.Format("2006-01-02"))
	return nil
}
