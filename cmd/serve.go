package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/detection"
	"github.com/kozaktomas/face-attendance/internal/kiosk"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kiosk server",
	Long: `Start the attendance kiosk server.
The server exposes the HTTP API used by the kiosk front end, serves the
status board and, when CAMERA_SNAPSHOT_URL is set, runs the detection loop
against the camera itself. Writes that fail to reach storage are retried
every RESYNC_INTERVAL. If stored data cannot be loaded at start, actions and
enrollments are refused until a retried load succeeds.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	detector := detection.NewClient(cfg.Detection)
	k := kiosk.New(detector, a.gallery, a.ledger, a.clock, logger)

	server := web.NewServer(cfg.Web, web.Deps{
		Ledger:   a.ledger,
		Gallery:  a.gallery,
		Kiosk:    k,
		Driver:   cfg.Database.Driver,
		Storage:  handlers.PingFunc(a.storagePing),
		Detector: handlers.PingFunc(detector.Health),
	}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runResyncLoop(ctx, a, cfg.Database.ResyncInterval)
	}()

	if url := cfg.Kiosk.CameraSnapshotURL; url != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			source := detection.NewSnapshot(url, cfg.Detection.Timeout)
			if err := k.Run(ctx, source, cfg.Kiosk.TickInterval); err != nil {
				logger.Error("kiosk tick loop failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}()

	fmt.Printf("Starting Face Attendance on http://%s\n", server.Addr())
	fmt.Printf("Storage: %s, matcher: %s, %d enrolled\n", cfg.Database.Driver, cfg.Matcher.Strategy, a.gallery.Len())
	fmt.Println("Press Ctrl+C to stop")

	serveErr := server.Start()
	stop()
	wg.Wait()

	// one last attempt so a clean shutdown does not strand pending writes
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.resync(finalCtx)

	if serveErr != nil {
		return fmt.Errorf("starting server: %w", serveErr)
	}
	return nil
}

// runResyncLoop retries pending storage writes until ctx is done.
func runResyncLoop(ctx context.Context, a *app, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.pending() {
				continue
			}
			a.resync(ctx)
		}
	}
}
