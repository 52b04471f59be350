package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/audit"
	"github.com/ostiary-io/ostiary/internal/consent"
	"github.com/ostiary-io/ostiary/internal/logging"
	"github.com/ostiary-io/ostiary/internal/server"
	"github.com/ostiary-io/ostiary/internal/session"
	"github.com/ostiary-io/ostiary/internal/status"
	"github.com/ostiary-io/ostiary/internal/terminal"
)

var (
	flagListenAddr string
	flagStatusAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admission server",
	Long: `Run the admission server: listen for remote-control connections, gate
each one on the shared secret and a recorded consent, and track admitted
sessions until they disconnect, idle out, or the server shuts down.

A local status API (sessions, audit log queries, live events) is served
on a loopback address alongside the admission listener.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, "listen", "", "Admission listen address (env: OSTIARY_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "Status API address, empty string in config disables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.StatusAddr = flagStatusAddr
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logging.Setup(cfg.LogLevel)
	log := slog.Default()

	auditLog, err := audit.NewLogger(cfg.AuditPath, int64(cfg.AuditMaxSizeMB)*1024*1024, cfg.AuditMaxFiles)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	store, err := consent.NewStore(cfg.ConsentPath)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(auditLog)

	var fwd server.Forwarder
	if cfg.TerminalEnabled {
		fwd = terminal.NewForwarder()
	}

	srv := server.NewServer(cfg, registry, store, auditLog, fwd, log)
	if err := srv.Start(); err != nil {
		return err
	}

	// Safety net for sessions whose handler died without terminating
	// them: the handler refreshes activity every tick, so anything this
	// stale has no handler attached.
	var reaper *session.Reaper
	if idle := cfg.IdleTimeout.Std(); idle > 0 {
		reaper = session.NewReaper(registry, 2*idle, time.Minute)
	}

	var statusAPI *status.Server
	if cfg.StatusAddr != "" {
		statusAPI = status.NewServer(registry, auditLog, log)
		if err := statusAPI.Start(cfg.StatusAddr); err != nil {
			srv.Stop()
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if reaper != nil {
		reaper.Start(ctx)
	}

	<-ctx.Done()
	log.Info("shutting down")

	srv.Stop()
	if reaper != nil {
		reaper.Stop()
	}
	if statusAPI != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusAPI.Stop(shutdownCtx); err != nil {
			log.Warn("status API shutdown", "error", err)
		}
	}
	return nil
}
