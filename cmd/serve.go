package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/web"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kiosk HTTP API",
	Long: `Start the kiosk HTTP API.
The kiosk front end opens a session, streams camera frames until the liveness
challenge passes, then finishes the session to match and record attendance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	initIdentityHNSW(ctx, b.identities, cfg.Database.HNSWIndexPath)

	svc, recorder, err := newVerificationService(ctx, cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	server := web.NewServer(cfg, web.Deps{
		Verifier:   svc,
		Identities: b.identities,
		Attendance: b.attendance,
		DB:         b.pool,
		Index:      b.identities,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		saveHNSWIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error during shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"device_id": cfg.Kiosk.DeviceID,
		"org_id":    cfg.Kiosk.OrgID,
		"branch_id": cfg.Kiosk.BranchID,
	}).Info("Kiosk ready")

	return server.Start()
}
