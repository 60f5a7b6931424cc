package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/daemon"
	"github.com/jweiland-net/bynder2/internal/gateway"
	"github.com/jweiland-net/bynder2/internal/service"
)

const shutdownTimeout = 15 * time.Second

var (
	serveAddress  string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the storages over HTTP and synchronize them on a schedule",
	Long: `Start the HTTP gateway. It lists the storages, serves file information,
redirects thumbnails and downloads to the CDN and completes the OAuth2
authorization of storages that need it.

With --sync-interval (or gateway.sync_interval) every storage is synchronized
right away and then once per interval.

Example usage:
  bynder2 serve                          # gateway only
  bynder2 serve --sync-interval 30m      # gateway and scheduled sync
  bynder2 serve stop                     # stop a running server`,
	RunE: runServe,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := daemon.PIDPath(cfg.DataDir)
		if err != nil {
			return err
		}
		if err := daemon.NewPIDFile(path).Kill(); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "listen address (default gateway.address)")
	serveCmd.Flags().DurationVar(&serveInterval, "sync-interval", 0, "synchronize every interval, 0 disables (default gateway.sync_interval)")
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := cmdLogger("serve")

	pidPath, err := daemon.PIDPath(cfg.DataDir)
	if err != nil {
		return err
	}
	pid := daemon.NewPIDFile(pidPath)
	if err := pid.Write(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("server already running (pid file %s)", pidPath)
		}
		return err
	}
	defer pid.Remove()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.syncService()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interval := cfg.Gateway.SyncInterval
	if cmd.Flags().Changed("sync-interval") {
		interval = serveInterval
	}
	if interval > 0 {
		d, err := service.NewDaemonService(svc, a.state, log)
		if err != nil {
			return err
		}
		if err := d.Start(ctx, interval); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer d.Close()
		log.Info("Scheduled sync enabled", "interval", interval)
	}

	address := cfg.Gateway.Address
	if serveAddress != "" {
		address = serveAddress
	}
	gw := gateway.New(gateway.Config{
		Drivers:        a.drivers(ctx),
		Authenticators: authenticators(cfg, log),
		Runner:         svc,
		Address:        address,
		Logger:         log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return gw.Shutdown(shutdownCtx)
}
