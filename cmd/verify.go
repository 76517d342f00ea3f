package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <frames-dir>",
	Short: "Replay captured frames through the full verification pipeline",
	Long: `Replay a directory of captured frames (JPEG or PNG, processed in name order)
through liveness, matching and the attendance decision, exactly as the kiosk
would. A successful run records an attendance event.

Examples:
  # Replay a recorded attempt
  attendance-kiosk verify ./captures/attempt-01

  # Allow a slower capture
  attendance-kiosk verify ./captures/attempt-01 --timeout 15s`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Duration("timeout", 0, "Liveness timeout (overrides KIOSK_LIVENESS_TIMEOUT_MS)")
	verifyCmd.Flags().Duration("interval", 0, "Frame cadence (overrides KIOSK_FRAME_INTERVAL_MS)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if timeout := mustGetDuration(cmd, "timeout"); timeout > 0 {
		cfg.Kiosk.LivenessTimeout = timeout
	}
	if interval := mustGetDuration(cmd, "interval"); interval > 0 {
		cfg.Kiosk.FrameInterval = interval
	}

	source, err := kiosk.NewDirectorySource(args[0])
	if err != nil {
		return err
	}
	if source.Len() == 0 {
		return fmt.Errorf("no frames found in %s", args[0])
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, recorder, err := newVerificationService(ctx, cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	fmt.Printf("Replaying %d frames from %s\n", source.Len(), args[0])
	outcome, err := svc.Run(ctx, source)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	printOutcome(outcome)
	return nil
}

func printOutcome(o *kiosk.Outcome) {
	fmt.Printf("\nResult: %s\n", o.Status)
	fmt.Printf("  %s\n", o.Message)
	switch o.Status {
	case kiosk.StatusRecorded:
		fmt.Printf("  Employee:   %s (%s)\n", o.EmployeeName, o.EmployeeID)
		fmt.Printf("  Direction:  %s\n", o.Direction)
		fmt.Printf("  Confidence: %.3f\n", o.Confidence)
		if o.Timestamp != nil {
			fmt.Printf("  Time:       %s\n", o.Timestamp.Format("2006-01-02 15:04:05 MST"))
		}
	case kiosk.StatusDuplicate:
		fmt.Printf("  Employee:   %s (%s)\n", o.EmployeeName, o.EmployeeID)
		fmt.Printf("  Last event: %ds ago\n", o.SecondsAgo)
	}
}
